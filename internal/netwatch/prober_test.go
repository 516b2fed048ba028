package netwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

type scriptedPinger struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (s *scriptedPinger) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.results) {
		return nil
	}
	err := s.results[s.calls]
	s.calls++
	return err
}

var errDown = errors.New("dial tcp: connection refused")

func TestProbe_PublishesOnlyOnReconnect(t *testing.T) {
	pinger := &scriptedPinger{results: []error{nil, errDown, errDown, nil, nil, errDown, nil}}
	p := NewProber(pinger, 0, slog.Default())

	reconnects := 0
	p.Subscribe(func() { reconnects++ })

	ctx := context.Background()
	for range pinger.results {
		p.Probe(ctx)
	}

	if reconnects != 2 {
		t.Errorf("reconnects = %d, want 2", reconnects)
	}
	if !p.Online() {
		t.Error("Online() = false after final successful probe")
	}
}

func TestProbe_InitialOnlineIsNotATransition(t *testing.T) {
	p := NewProber(&scriptedPinger{results: []error{nil}}, 0, slog.Default())
	reconnects := 0
	p.Subscribe(func() { reconnects++ })

	if !p.Probe(context.Background()) {
		t.Fatal("Probe() = false, want true")
	}
	if reconnects != 0 {
		t.Errorf("reconnects = %d, want 0", reconnects)
	}
}

func TestProbe_InitialOfflineThenOnline(t *testing.T) {
	p := NewProber(&scriptedPinger{results: []error{errDown, nil}}, 0, slog.Default())
	reconnects := 0
	p.Subscribe(func() { reconnects++ })

	p.Probe(context.Background())
	p.Probe(context.Background())

	if reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", reconnects)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProber(&scriptedPinger{}, 0, slog.Default())
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
