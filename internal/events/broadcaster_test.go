package events

import "testing"

func TestBroadcaster_PublishReachesSubscribers(t *testing.T) {
	b := NewBroadcaster()
	var a, c int
	b.Subscribe(func() { a++ })
	b.Subscribe(func() { c++ })

	b.Publish()
	b.Publish()

	if a != 2 || c != 2 {
		t.Errorf("calls = %d/%d, want 2/2", a, c)
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	calls := 0
	unsub := b.Subscribe(func() { calls++ })

	b.Publish()
	unsub()
	unsub()
	b.Publish()

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	NewBroadcaster().Publish()
}
