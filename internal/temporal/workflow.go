package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/workflows"
)

const (
	// DefaultTaskQueue is the queue triage workers poll.
	DefaultTaskQueue = "triage-turns"
	// RunTurnActivity is the registered activity name.
	RunTurnActivity = "RunTurn"

	defaultTurnTimeout = 2 * time.Minute
)

// WorkflowID is the id used for a thread's turn. Only one workflow with a
// given id can run at once, which serializes turns across workers.
func WorkflowID(threadID string) string { return "triage-turn-" + threadID }

// TurnWorkflow runs a single turn as one activity. The activity is not
// retried: a turn may already have appended an escalation record.
func TurnWorkflow(ctx workflow.Context, req workflows.TurnRequest) (workflows.TurnResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: defaultTurnTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)
	logger.Info("Turn workflow started", "thread_id", req.ThreadID)

	var res workflows.TurnResult
	if err := workflow.ExecuteActivity(ctx, RunTurnActivity, req).Get(ctx, &res); err != nil {
		return workflows.TurnResult{}, err
	}
	logger.Info("Turn workflow completed", "thread_id", req.ThreadID, "outcome", string(res.Outcome))
	return res, nil
}

// TurnActivities exposes the engine to Temporal workers.
type TurnActivities struct {
	engine *workflows.Engine
}

func NewTurnActivities(engine *workflows.Engine) *TurnActivities {
	return &TurnActivities{engine: engine}
}

// RunTurn executes one turn on the local engine.
func (a *TurnActivities) RunTurn(ctx context.Context, req workflows.TurnRequest) (workflows.TurnResult, error) {
	res, err := a.engine.RunTurn(ctx, req)
	if err != nil {
		if errors.Is(err, workflows.ErrInvalidRequest) {
			return workflows.TurnResult{}, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidRequest", err)
		}
		return workflows.TurnResult{}, err
	}
	return *res, nil
}

// NewWorker registers the workflow and activity on taskQueue.
func NewWorker(c client.Client, taskQueue string, engine *workflows.Engine) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(TurnWorkflow)
	w.RegisterActivityWithOptions(NewTurnActivities(engine).RunTurn, activity.RegisterOptions{Name: RunTurnActivity})
	return w
}

// Runner submits turns to Temporal instead of running them in-process.
type Runner struct {
	client    client.Client
	taskQueue string
	logger    *zap.Logger
}

func NewRunner(c client.Client, taskQueue string, logger *zap.Logger) *Runner {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: c, taskQueue: taskQueue, logger: logger}
}

// RunTurn starts the thread's turn workflow and waits for its result. A
// turn already running for the thread is rejected by the server.
func (r *Runner) RunTurn(ctx context.Context, req workflows.TurnRequest) (*workflows.TurnResult, error) {
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(req.ThreadID),
		TaskQueue:                r.taskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}
	run, err := r.client.ExecuteWorkflow(ctx, opts, TurnWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("start turn workflow: %w", err)
	}
	var res workflows.TurnResult
	if err := run.Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("turn workflow %s: %w", run.GetID(), err)
	}
	return &res, nil
}
