package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/tabmux/internal/db"
	"github.com/remote-agent-terminal/tabmux/internal/model"
)

func newRepo(t *testing.T) *SessionRepository {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSessionRepository(conn)
}

// **Feature: tabmux, Property 11: session history round trip**
// *For any* valid connection descriptor, a created history record can be read
// back unchanged, carries no credentials, and closing it stamps closed_at.
func TestSessionHistoryRoundTripProperty(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 64
	})

	properties.Property("history records persist and close once", prop.ForAll(
		func(host, user, tabName string, port int) bool {
			info := model.ConnectionDescriptor{Host: host, Port: port, User: user, Password: "secret"}
			rec := model.NewSessionRecord(uuid.NewString(), "1700000000000000000", tabName, "ssh", info)

			if err := repo.Create(ctx, rec); err != nil {
				t.Logf("create failed: %v", err)
				return false
			}

			got, err := repo.GetByID(ctx, rec.LinkID)
			if err != nil {
				t.Logf("get failed: %v", err)
				return false
			}
			if got.Host != host || got.User != user || got.Port != port ||
				got.TabName != tabName || got.Status != model.SessionStatusConnected || got.ClosedAt != nil {
				t.Logf("record mismatch: %+v", got)
				return false
			}

			if err := repo.UpdateStatus(ctx, rec.LinkID, model.SessionStatusClosed, ""); err != nil {
				t.Logf("update failed: %v", err)
				return false
			}
			closed, err := repo.GetByID(ctx, rec.LinkID)
			if err != nil || closed.Status != model.SessionStatusClosed || closed.ClosedAt == nil {
				t.Logf("close not recorded: %+v %v", closed, err)
				return false
			}

			return repo.Delete(ctx, rec.LinkID) == nil
		},
		nonEmptyString,
		nonEmptyString,
		nonEmptyString,
		gen.IntRange(1, 65535),
	))

	properties.TestingRun(t)
}

func TestSessionRepository_ListNewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	info := model.ConnectionDescriptor{Host: "example.com", Port: 22, User: "alice"}

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		rec := model.NewSessionRecord(id, "tab-1", "Tab", "ssh", info)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	other := model.NewSessionRecord("d", "tab-2", "Other", "local", info)
	other.CreatedAt = base.Add(-time.Minute)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].LinkID != "c" || list[1].LinkID != "b" {
		t.Fatalf("unexpected order: %v", list)
	}

	byTab, err := repo.ListByTab(ctx, "tab-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byTab) != 3 {
		t.Errorf("expected 3 records for tab-1, got %d", len(byTab))
	}
}

func TestSessionRepository_FailedKeepsError(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := model.NewSessionRecord("x", "tab", "Tab", "ssh", model.ConnectionDescriptor{Host: "h", Port: 22, User: "u"})
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatus(ctx, "x", model.SessionStatusFailed, "handshake failed"); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByID(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != "handshake failed" || got.ClosedAt == nil {
		t.Errorf("unexpected record %+v", got)
	}

	n, err := repo.CountByStatus(ctx, model.SessionStatusFailed)
	if err != nil || n != 1 {
		t.Errorf("expected 1 failed record, got %d (%v)", n, err)
	}

	if err := repo.UpdateStatus(ctx, "missing", model.SessionStatusClosed, ""); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
