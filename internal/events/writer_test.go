package events_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"goalflow/internal/agent"
	"goalflow/internal/db"
	"goalflow/internal/events"
	"goalflow/internal/migrate"
)

func newWriter(t *testing.T) events.Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return events.Writer{DB: conn}
}

func entries() []agent.AuditEntry {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []agent.AuditEntry{
		{RunID: "run1", Attempt: 1, Index: 0, Tool: "addGoal", Params: map[string]any{"goal": map[string]any{"name": "X"}}, Status: agent.StatusError, Error: "boom", Timestamp: ts},
		{RunID: "run1", Attempt: 2, Index: 0, Tool: "addGoal", Status: agent.StatusSuccess, Timestamp: ts.Add(time.Second)},
		{Tool: "deleteGoal", Params: map[string]any{"goal_id": "goal1"}, Status: agent.StatusSuccess, Timestamp: ts.Add(2 * time.Second)},
	}
}

func TestWriterRecordAndList(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t)
	if err := w.Record(ctx, "document_1", "alice", entries()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record(ctx, "document_2", "bob", entries()[:1]); err != nil {
		t.Fatalf("record: %v", err)
	}
	list, err := w.List(ctx, "document_1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 events, got %d", len(list))
	}
	first := list[0]
	if first.Type != events.TypeAgentCall || first.ActorID != "alice" || first.Error != "boom" || first.RunID != "run1" {
		t.Fatalf("unexpected first event %+v", first)
	}
	if goal, ok := first.Params["goal"].(map[string]any); !ok || goal["name"] != "X" {
		t.Fatalf("params not restored: %+v", first.Params)
	}
	if !first.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp = %v", first.Timestamp)
	}
	if list[2].Type != events.TypeToolApply || list[2].RunID != "" {
		t.Fatalf("direct call should be a tool.apply event: %+v", list[2])
	}

	recent, err := w.List(ctx, "document_1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 || recent[0].Attempt != 2 || recent[1].Tool != "deleteGoal" {
		t.Fatalf("limit should keep the latest events in order: %+v", recent)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Record(context.Context, string, string, []agent.AuditEntry) error {
	f.calls++
	return errors.New("sink down")
}

func TestMultiRecordsEverywhere(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t)
	bad := &failingSink{}
	err := events.Multi{bad, w, nil}.Record(ctx, "document_1", "alice", entries())
	if err == nil || err.Error() != "sink down" {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	list, _ := w.List(ctx, "document_1", 0)
	if bad.calls != 1 || len(list) != 3 {
		t.Fatalf("a failing sink must not stop the others: calls=%d events=%d", bad.calls, len(list))
	}
}

func TestRedisPublisher(t *testing.T) {
	url := os.Getenv("GOALFLOW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("requires GOALFLOW_TEST_REDIS_URL")
	}
	ctx := context.Background()
	client, err := events.ConnectRedis(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	stream := "goalflow_test_" + time.Now().Format("150405.000000")
	pub := events.NewRedisPublisher(client, stream)
	defer pub.Close()
	defer client.Del(ctx, stream)
	if err := pub.Record(ctx, "document_1", "alice", entries()); err != nil {
		t.Fatalf("record: %v", err)
	}
	n, err := client.XLen(ctx, stream).Result()
	if err != nil || n != 3 {
		t.Fatalf("stream length = %d, err %v", n, err)
	}
}
