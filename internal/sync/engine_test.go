package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/njoerd114/fieldsync/internal/api"
	"github.com/njoerd114/fieldsync/internal/model"
	"github.com/njoerd114/fieldsync/internal/report"
	"github.com/njoerd114/fieldsync/internal/store"
)

var testLogger = slog.Default()

func TestSynchronize_AllSucceed(t *testing.T) {
	st := newMockStore()
	a := st.add("one")
	b := st.add("two")
	remote := newMockAPI()

	e := NewEngine(st, remote, staticToken("tok"), 1, testLogger)
	stats, err := e.SynchronizePending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Synchronized != 2 || stats.Pending != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 2 pending, 2 synchronized", stats)
	}
	for _, r := range []*model.Report{a, b} {
		got := st.get(r.LocalID)
		if !got.Synchronized || got.ServerID == nil {
			t.Errorf("report %d: synchronized=%v server_id=%v", r.LocalID, got.Synchronized, got.ServerID)
		}
	}
	for _, tok := range remote.tokens {
		if tok != "tok" {
			t.Errorf("token = %q, want tok", tok)
		}
	}
}

func TestSynchronize_PartialFailureIsolation(t *testing.T) {
	st := newMockStore()
	r1 := st.add("one")
	r2 := st.add("two")
	r3 := st.add("three")
	remote := newMockAPI()
	remote.fail[r2.ClientUUID] = &api.StatusError{Code: 422, Detail: "id_area invalid"}

	e := NewEngine(st, remote, staticToken("tok"), 1, testLogger)
	stats, err := e.SynchronizePending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Synchronized != 2 {
		t.Errorf("Synchronized = %d, want 2", stats.Synchronized)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if !st.get(r1.LocalID).Synchronized || !st.get(r3.LocalID).Synchronized {
		t.Error("rows 1 and 3 should be synchronized")
	}
	got := st.get(r2.LocalID)
	if got.Synchronized || got.ServerID != nil {
		t.Errorf("row 2: synchronized=%v server_id=%v, want untouched", got.Synchronized, got.ServerID)
	}
}

func TestSynchronize_EmptyQueueMakesNoCall(t *testing.T) {
	remote := newMockAPI()
	e := NewEngine(newMockStore(), remote, staticToken("tok"), 1, testLogger)

	stats, err := e.SynchronizePending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Synchronized != 0 {
		t.Errorf("Synchronized = %d, want 0", stats.Synchronized)
	}
	if remote.callCount() != 0 {
		t.Errorf("API calls = %d, want 0", remote.callCount())
	}
}

func TestSynchronize_NoTokenAbortsBeforeAnyRow(t *testing.T) {
	st := newMockStore()
	r := st.add("one")
	remote := newMockAPI()

	for _, tokens := range []TokenSource{noSession{}, staticToken("")} {
		e := NewEngine(st, remote, tokens, 1, testLogger)
		_, err := e.SynchronizePending(context.Background())
		if !errors.Is(err, ErrNoToken) {
			t.Errorf("error = %v, want ErrNoToken", err)
		}
	}
	if remote.callCount() != 0 {
		t.Errorf("API calls = %d, want 0", remote.callCount())
	}
	if st.get(r.LocalID).Synchronized {
		t.Error("row should still be pending")
	}
}

func TestSynchronize_DuplicateIsSuccess(t *testing.T) {
	st := newMockStore()
	r := st.add("already sent")
	remote := newMockAPI()
	remote.records[r.ClientUUID] = 42

	e := NewEngine(st, remote, staticToken("tok"), 1, testLogger)
	stats, err := e.SynchronizePending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Synchronized != 1 || stats.Duplicates != 1 {
		t.Errorf("stats = %+v, want 1 synchronized duplicate", stats)
	}
	got := st.get(r.LocalID)
	if !got.Synchronized {
		t.Error("duplicate row should be synchronized")
	}
	if got.ServerID != nil {
		t.Errorf("ServerID = %d, want nil", *got.ServerID)
	}
	if !got.Duplicate {
		t.Error("Duplicate flag not set")
	}
}

// The server stores the report but the response is lost; the retry on the
// next run is answered as a duplicate. Exactly one server record results.
func TestSynchronize_IdempotentAcrossLostResponse(t *testing.T) {
	st := newMockStore()
	r := st.add("flaky")
	remote := newMockAPI()
	remote.loseNext = true

	e := NewEngine(st, remote, staticToken("tok"), 1, testLogger)
	ctx := context.Background()

	stats, err := e.SynchronizePending(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if stats.Synchronized != 0 || st.get(r.LocalID).Synchronized {
		t.Fatal("first run should leave the row pending")
	}

	stats, err = e.SynchronizePending(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Synchronized != 1 {
		t.Errorf("second run Synchronized = %d, want 1", stats.Synchronized)
	}
	if remote.recordCount() != 1 {
		t.Errorf("server records = %d, want 1", remote.recordCount())
	}
	if !st.get(r.LocalID).Synchronized {
		t.Error("row should be synchronized after retry")
	}
}

func TestSynchronize_BoundedConcurrency(t *testing.T) {
	st := newMockStore()
	for range 10 {
		st.add("bulk")
	}
	remote := newMockAPI()
	remote.fail[st.get(4).ClientUUID] = errOffline

	e := NewEngine(st, remote, staticToken("tok"), 4, testLogger)
	stats, err := e.SynchronizePending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Synchronized != 9 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 9 synchronized, 1 failed", stats)
	}
	if remote.callCount() != 10 {
		t.Errorf("API calls = %d, want 10", remote.callCount())
	}
}

// Offline creation followed by a sync once connectivity returns, against a
// real SQLite store.
func TestSynchronize_OfflineThenOnline(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	w := report.NewWriter(st, testLogger)
	created, err := w.Create(ctx, model.ReportFields{Title: "Test A", AreaID: 1, SeverityID: 2}, 12345678)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	remote := newMockAPI()
	remote.setOffline(true)
	e := NewEngine(st, remote, staticToken("tok"), 1, testLogger)

	if _, err := e.SynchronizePending(ctx); err != nil {
		t.Fatalf("offline run: %v", err)
	}
	got, err := st.GetReport(ctx, created.LocalID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Synchronized || got.ServerID != nil {
		t.Fatalf("after offline run: synchronized=%v server_id=%v", got.Synchronized, got.ServerID)
	}

	remote.setOffline(false)
	callsBefore := remote.callCount()
	stats, err := e.SynchronizePending(ctx)
	if err != nil {
		t.Fatalf("online run: %v", err)
	}
	if remote.callCount()-callsBefore != 1 {
		t.Errorf("API calls = %d, want 1", remote.callCount()-callsBefore)
	}
	if stats.Synchronized != 1 {
		t.Errorf("Synchronized = %d, want 1", stats.Synchronized)
	}

	got, err = st.GetReport(ctx, created.LocalID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if !got.Synchronized {
		t.Error("row should be synchronized")
	}
	if got.ServerID == nil || *got.ServerID != remote.records[created.ClientUUID] {
		t.Errorf("ServerID = %v, want %d", got.ServerID, remote.records[created.ClientUUID])
	}

	n, err := e.PendingCount(ctx)
	if err != nil || n != 0 {
		t.Errorf("PendingCount = %d, %v; want 0, nil", n, err)
	}
}
