package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream escalations are published to.
const DefaultStream = "triage:escalations"

// StreamSink publishes escalations to a capped Redis stream so reviewers can
// consume them with XREAD or a consumer group.
type StreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamSink returns a sink writing to stream (DefaultStream when empty).
func NewStreamSink(client redis.UniversalClient, stream string, maxLen int64) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Append(ctx context.Context, rec Record) error {
	issues, err := json.Marshal(rec.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         rec.ID,
			"thread_id":  rec.ThreadID,
			"query":      rec.Query,
			"draft":      rec.Draft,
			"issues":     string(issues),
			"digest":     rec.Digest,
			"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
