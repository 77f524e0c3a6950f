package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stitchworks/erp-auth/internal/audit"
)

func TestAuditRepositoryRecordAndQuery(t *testing.T) {
	repo := NewAuditRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	events := []audit.Event{
		{WorkspaceID: "ws-a", UserID: "u1", Action: audit.ActionLogin, Resource: "session", At: base},
		{WorkspaceID: "ws-a", UserID: "u1", Action: audit.ActionLogout, Resource: "session", At: base.Add(time.Minute)},
		{WorkspaceID: "ws-a", UserID: "u2", Action: audit.ActionLogin, Resource: "session", At: base.Add(2 * time.Minute)},
		{WorkspaceID: "ws-b", UserID: "u3", Action: audit.ActionTokenReuse, Resource: "session", At: base.Add(3 * time.Minute)},
	}
	for _, e := range events {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rows, total, err := repo.Query(ctx, AuditFilter{WorkspaceID: "ws-a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 3 || len(rows) != 3 {
		t.Fatalf("ws-a query = %d rows, total %d, want 3/3", len(rows), total)
	}
	// Newest first.
	if rows[0].UserID != "u2" {
		t.Fatalf("first row user = %q, want u2", rows[0].UserID)
	}

	rows, total, err = repo.Query(ctx, AuditFilter{WorkspaceID: "ws-a", UserID: "u1", Action: audit.ActionLogin})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("filtered query = %d rows, total %d, want 1/1", len(rows), total)
	}

	rows, total, err = repo.Query(ctx, AuditFilter{Since: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 2 {
		t.Fatalf("since filter total = %d, want 2", total)
	}

	rows, total, err = repo.Query(ctx, AuditFilter{WorkspaceID: "ws-a", Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 || total != 3 {
		t.Fatalf("paged query = %d rows, total %d, want 2 rows of 3", len(rows), total)
	}
}

func TestAuditRepositoryFillsDefaults(t *testing.T) {
	repo := NewAuditRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, audit.Event{
		Action:    audit.ActionRateLimited,
		Resource:  "endpoint",
		NewValues: map[string]any{"retry_after_seconds": 42},
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, _, err := repo.Query(ctx, AuditFilter{Action: audit.ActionRateLimited})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].WorkspaceID != "security" {
		t.Fatalf("workspace = %q, want the security default", rows[0].WorkspaceID)
	}
	if rows[0].NewValues == "" {
		t.Fatal("detail payload not serialized")
	}
	if rows[0].CreatedAt.IsZero() {
		t.Fatal("created_at not stamped")
	}
}

func TestAuditRepositoryRetention(t *testing.T) {
	repo := NewAuditRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := audit.Event{WorkspaceID: "ws-a", Action: audit.ActionLogin, At: now.Add(-100 * 24 * time.Hour)}
	fresh := audit.Event{WorkspaceID: "ws-a", Action: audit.ActionLogin, At: now}
	if err := repo.Record(ctx, old); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.Record(ctx, fresh); err != nil {
		t.Fatalf("Record: %v", err)
	}

	removed, err := repo.DeleteOlderThan(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	_, total, err := repo.Query(ctx, AuditFilter{WorkspaceID: "ws-a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 1 {
		t.Fatalf("remaining = %d, want 1", total)
	}
}
