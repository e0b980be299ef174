package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLSink_InsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec, err := NewRecord("t1", "q", "take a dose", []string{"policy_phrase:dose"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO escalations").
		WithArgs(rec.ID, "t1", "q", "take a dose", `["policy_phrase:dose"]`, rec.Digest, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := NewSQLSink(sqlx.NewDb(db, "postgres"))
	require.NoError(t, sink.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_PropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO escalations").WillReturnError(errors.New("connection reset"))

	sink := NewSQLSink(sqlx.NewDb(db, "postgres"))
	err = sink.Append(context.Background(), Record{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert escalation")
}

func TestSQLSink_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLSink(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer sink.Close()

	g := NewGate(nil, sink, 0, nil)
	res := g.Handle(ctx, "thread-9", "q", "I prescribe rest")
	require.Equal(t, StatusEscalated, res.Status)

	var row struct {
		ThreadID string `db:"thread_id"`
		Issues   string `db:"issues"`
		Digest   string `db:"digest"`
	}
	require.NoError(t, sink.db.GetContext(ctx, &row, "SELECT thread_id, issues, digest FROM escalations WHERE id = ?", res.Record.ID))
	assert.Equal(t, "thread-9", row.ThreadID)
	assert.Equal(t, `["policy_phrase:prescribe"]`, row.Issues)
	assert.Equal(t, res.Record.Digest, row.Digest)

	require.NoError(t, sink.EnsureSchema(ctx))
}

func TestStreamSink_XAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewStreamSink(client, "", 0)
	rec, err := NewRecord("t1", "q", "definitely", []string{"policy_phrase:definitely"})
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), rec))

	entries, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].Values["id"])
	assert.Equal(t, "t1", entries[0].Values["thread_id"])
	assert.Equal(t, `["policy_phrase:definitely"]`, entries[0].Values["issues"])
}
