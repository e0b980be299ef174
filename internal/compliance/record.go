package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Record is one escalation entry for human review.
type Record struct {
	ID        string    `json:"id" db:"id"`
	ThreadID  string    `json:"thread_id" db:"thread_id"`
	Query     string    `json:"query" db:"query"`
	Draft     string    `json:"draft" db:"draft"`
	Issues    []string  `json:"issues" db:"-"`
	Digest    string    `json:"digest" db:"digest"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewRecord builds a record with a fresh id and a content digest.
func NewRecord(threadID, query, draft string, issues []string) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Query:     query,
		Draft:     draft,
		Issues:    append([]string(nil), issues...),
		CreatedAt: time.Now().UTC(),
	}
	digest, err := ContentDigest(rec)
	if err != nil {
		return rec, err
	}
	rec.Digest = digest
	return rec, nil
}

// ContentDigest is the sha256 of the RFC 8785 canonical form of
// {thread_id, query, draft, issues}. Identical escalations share a digest.
func ContentDigest(rec Record) (string, error) {
	issues := rec.Issues
	if issues == nil {
		issues = []string{}
	}
	raw, err := json.Marshal(map[string]any{
		"thread_id": rec.ThreadID,
		"query":     rec.Query,
		"draft":     rec.Draft,
		"issues":    issues,
	})
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
