package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/squadchat/internal/model"
)

func TestSubscribeDelivers(t *testing.T) {
	source := &fakeSource{}
	sub := NewSubscriber(source, nil)

	var got []model.Message
	dispose, err := sub.Subscribe(context.Background(), []string{"r1"}, func(m model.Message) {
		got = append(got, m)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer dispose()

	source.push(msg("a", "r1", ts(1)))
	source.push(msg("b", "r2", ts(2))) // outside scope
	source.push(msg("c", "r1", ts(3)))

	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("delivered = %v, want [a c]", got)
	}
	if s := sub.Status(); s != StatusSubscribed {
		t.Errorf("status = %v, want subscribed", s)
	}
}

func TestDisposeStopsDelivery(t *testing.T) {
	source := &fakeSource{}
	sub := NewSubscriber(source, nil)

	delivered := 0
	dispose, err := sub.Subscribe(context.Background(), []string{"r1"}, func(m model.Message) {
		delivered++
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	source.push(msg("a", "r1", ts(1)))
	dispose()
	// The fake transport keeps delivering after Dispose; the subscriber's
	// gate must drop these.
	source.push(msg("b", "r1", ts(2)))
	source.push(msg("c", "r1", ts(3)))

	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if s := sub.Status(); s != StatusDisconnected {
		t.Errorf("status = %v, want disconnected", s)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	sub := NewSubscriber(source, nil)

	dispose, err := sub.Subscribe(context.Background(), []string{"r1"}, func(model.Message) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	dispose()
	dispose()

	if n := source.openCount(); n != 0 {
		t.Errorf("open channels = %d, want 0", n)
	}
}

func TestResubscribeDisposesPrevious(t *testing.T) {
	source := &fakeSource{}
	sub := NewSubscriber(source, nil)

	firstDelivered := 0
	if _, err := sub.Subscribe(context.Background(), []string{"r1"}, func(model.Message) {
		firstDelivered++
	}); err != nil {
		t.Fatalf("Subscribe first: %v", err)
	}

	secondDelivered := 0
	dispose, err := sub.Subscribe(context.Background(), []string{"r2"}, func(model.Message) {
		secondDelivered++
	})
	if err != nil {
		t.Fatalf("Subscribe second: %v", err)
	}
	defer dispose()

	if n := source.openCount(); n != 1 {
		t.Fatalf("open channels after scope change = %d, want 1", n)
	}

	source.push(msg("a", "r2", ts(1)))
	if firstDelivered != 0 {
		t.Errorf("first handler delivered = %d, want 0", firstDelivered)
	}
	if secondDelivered != 1 {
		t.Errorf("second handler delivered = %d, want 1", secondDelivered)
	}
}

func TestSwapHandlerKeepsChannel(t *testing.T) {
	source := &fakeSource{}
	sub := NewSubscriber(source, nil)

	oldCalls, newCalls := 0, 0
	dispose, err := sub.Subscribe(context.Background(), []string{"r1"}, func(model.Message) {
		oldCalls++
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer dispose()

	sub.SwapHandler(func(model.Message) { newCalls++ })

	if n := source.openCount(); n != 1 {
		t.Fatalf("open channels after swap = %d, want 1 (no reopen)", n)
	}
	source.push(msg("a", "r1", ts(1)))
	if oldCalls != 0 || newCalls != 1 {
		t.Errorf("old = %d, new = %d; want 0 and 1", oldCalls, newCalls)
	}
}

// A channel's reader can notice a transport failure after the disposer has
// already run. That late report must not overwrite Disconnected.
func TestLateTransportStatusIgnoredAfterDispose(t *testing.T) {
	source := &fakeSource{}
	var mu sync.Mutex
	var seen []Status
	sub := NewSubscriber(source, func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	dispose, err := sub.Subscribe(context.Background(), []string{"r1"}, func(model.Message) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	dispose()

	source.reportStatus(StatusChannelError)
	source.reportStatus(StatusTimedOut)

	if s := sub.Status(); s != StatusDisconnected {
		t.Fatalf("status = %v, want disconnected", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if last := seen[len(seen)-1]; last != StatusDisconnected {
		t.Errorf("last reported status = %v, want disconnected (got %v)", last, seen)
	}
}

func TestStatusTransitionsReported(t *testing.T) {
	source := &fakeSource{}
	var mu sync.Mutex
	var seen []Status
	sub := NewSubscriber(source, func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	dispose, err := sub.Subscribe(context.Background(), []string{"r1"}, func(model.Message) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	dispose()

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusSubscribed, StatusDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}
