package llm

import (
	"context"
	"strings"
	"time"
)

// ExtractJSONObject returns the outermost {...} span of s.
func ExtractJSONObject(s string) (string, error) {
	return outermost(s, '{', '}')
}

// ExtractJSONArray returns the outermost [...] span of s.
func ExtractJSONArray(s string) (string, error) {
	return outermost(s, '[', ']')
}

func outermost(s string, open, close byte) (string, error) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// CompleteWithTimeout bounds a single generation call.
func CompleteWithTimeout(ctx context.Context, c Completer, timeout time.Duration, system, user string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := c.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
