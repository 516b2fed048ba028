package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/njoerd114/fieldsync/internal/api"
	"github.com/njoerd114/fieldsync/internal/model"
)

// --- Mock Report Store -------------------------------------------------------

type mockStore struct {
	mu      sync.Mutex
	reports map[int64]*model.Report
	nextID  int64
	counts  int
}

func newMockStore() *mockStore {
	return &mockStore{reports: make(map[int64]*model.Report)}
}

func (m *mockStore) add(title string) *model.Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r := &model.Report{
		LocalID:    m.nextID,
		ClientUUID: fmt.Sprintf("00000000-0000-4000-8000-%012d", m.nextID),
		Title:      title,
		AreaID:     1,
		SeverityID: 1,
		StatusID:   1,
		CreatedAt:  time.Now().UTC(),
	}
	m.reports[r.LocalID] = r
	return r
}

func (m *mockStore) PendingReports(_ context.Context) ([]*model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Report
	for _, r := range m.reports {
		if !r.Synchronized {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

func (m *mockStore) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts++
	n := 0
	for _, r := range m.reports {
		if !r.Synchronized {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) MarkSynchronized(_ context.Context, localID, serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[localID]
	if !ok || r.Synchronized {
		return fmt.Errorf("report %d not pending", localID)
	}
	r.Synchronized = true
	r.ServerID = &serverID
	return nil
}

func (m *mockStore) MarkDuplicate(_ context.Context, localID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[localID]
	if !ok || r.Synchronized {
		return fmt.Errorf("report %d not pending", localID)
	}
	r.Synchronized = true
	r.Duplicate = true
	return nil
}

func (m *mockStore) get(localID int64) model.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.reports[localID]
}

func (m *mockStore) countCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// --- Mock Remote API ---------------------------------------------------------

// mockAPI behaves like the server: it stores one record per client UUID and
// answers a repeated UUID with api.ErrDuplicate.
type mockAPI struct {
	mu       sync.Mutex
	records  map[string]int64
	nextID   int64
	calls    int
	fail     map[string]error
	offline  bool
	loseNext bool
	tokens   []string

	// started receives once per call before block is awaited.
	started chan struct{}
	block   chan struct{}
}

func newMockAPI() *mockAPI {
	return &mockAPI{records: make(map[string]int64), nextID: 100, fail: make(map[string]error)}
}

var errOffline = errors.New("dial tcp: network is unreachable")

func (m *mockAPI) CreateReport(ctx context.Context, token string, r *model.Report) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.tokens = append(m.tokens, token)
	started, block := m.started, m.block
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return 0, errOffline
	}
	if err, ok := m.fail[r.ClientUUID]; ok {
		return 0, err
	}
	if _, ok := m.records[r.ClientUUID]; ok {
		return 0, api.ErrDuplicate
	}
	m.nextID++
	m.records[r.ClientUUID] = m.nextID
	if m.loseNext {
		m.loseNext = false
		return 0, errors.New("read tcp: connection reset by peer")
	}
	return m.nextID, nil
}

func (m *mockAPI) setOffline(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = v
}

func (m *mockAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAPI) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// --- Token Sources -----------------------------------------------------------

type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

type noSession struct{}

func (noSession) Token(context.Context) (string, error) {
	return "", errors.New("not signed in")
}

// --- Syncer stub -------------------------------------------------------------

type panickingSyncer struct{}

func (panickingSyncer) SynchronizePending(context.Context) (model.SyncStats, error) {
	panic("boom")
}

func (panickingSyncer) PendingCount(context.Context) (int, error) { return 1, nil }

// failingSyncer reports one pending row and fails every run with err.
type failingSyncer struct {
	err   error
	calls atomic.Int32
}

func (f *failingSyncer) SynchronizePending(context.Context) (model.SyncStats, error) {
	f.calls.Add(1)
	return model.SyncStats{}, f.err
}

func (f *failingSyncer) PendingCount(context.Context) (int, error) { return 1, nil }

// gatedSyncer blocks in PendingCount until release is closed, signalling
// entered first. It counts SynchronizePending calls.
type gatedSyncer struct {
	entered chan struct{}
	release chan struct{}
	syncs   atomic.Int32
}

func newGatedSyncer() *gatedSyncer {
	return &gatedSyncer{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedSyncer) SynchronizePending(context.Context) (model.SyncStats, error) {
	g.syncs.Add(1)
	return model.SyncStats{Pending: 1, Synchronized: 1}, nil
}

func (g *gatedSyncer) PendingCount(context.Context) (int, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return 1, nil
}
