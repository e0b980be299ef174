// Command triage-chat runs triage turns from the terminal on one new thread.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/app"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/config"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/workflows"
)

func main() {
	configPath := flag.String("config", "", "path to triage.yaml")
	threadID := flag.String("thread", "", "resume an existing thread instead of starting a new one")
	flag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage-chat: %v\n", err)
		os.Exit(1)
	}
	// Keep the terminal for the conversation; only warnings go to stderr.
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "console"
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage-chat: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize triage engine", zap.Error(err))
	}
	defer a.CloseTimeout(5 * time.Second)

	id := *threadID
	if id == "" {
		id = uuid.NewString()
	}
	if err := chat(ctx, a.Engine, id, os.Stdin, os.Stdout); err != nil {
		logger.Fatal("Chat ended with error", zap.Error(err))
	}
}

type turnRunner interface {
	RunTurn(ctx context.Context, req workflows.TurnRequest) (*workflows.TurnResult, error)
}

// chat reads one utterance per line until EOF, "exit" or "quit".
func chat(ctx context.Context, r turnRunner, threadID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Medical triage assistant (thread %s). Type 'exit' to quit.\n", threadID)
	var history []conversation.RawMessage
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			fmt.Fprintln(out, "Goodbye.")
			return nil
		}
		res, err := r.RunTurn(ctx, workflows.TurnRequest{ThreadID: threadID, Utterance: line, Prior: history})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Assistant: %s\n", res.Text)
		history = append(history,
			conversation.RawMessage{Role: "user", Content: line},
			conversation.RawMessage{Role: "assistant", Content: res.Text},
		)
	}
}
