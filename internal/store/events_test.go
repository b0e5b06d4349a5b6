package store

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func recvTimeout(t *testing.T, sub *Subscription, d time.Duration) (Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return sub.Recv(ctx)
}

func TestSubscribe_ReceivesAddedEvent(t *testing.T) {
	s, clock := testStore(t, 10, time.Hour)
	sub := s.Subscribe()
	defer sub.Cancel()

	s.Add("alice", Message{ID: "m1"})

	ev, err := recvTimeout(t, sub, time.Second)
	if err != nil {
		t.Fatalf("Expected an event, got error: %v", err)
	}
	if ev.Kind != EventAdded {
		t.Errorf("Expected kind '%s', got '%s'", EventAdded, ev.Kind)
	}
	if ev.Mailbox != "alice" {
		t.Errorf("Expected mailbox 'alice', got '%s'", ev.Mailbox)
	}
	if ev.MessageID != "m1" {
		t.Errorf("Expected message id 'm1', got '%s'", ev.MessageID)
	}
	if !ev.At.Equal(clock.Now()) {
		t.Errorf("Expected event time '%v', got '%v'", clock.Now(), ev.At)
	}
}

func TestEvents_FollowMutationOrder(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)
	sub := s.Subscribe()
	defer sub.Cancel()

	s.Add("alice", Message{ID: "m1"})
	s.Add("alice", Message{ID: "m2"})
	s.Delete("alice", "m1")
	s.Clear("alice")

	expected := []struct {
		kind EventKind
		id   string
	}{
		{EventAdded, "m1"},
		{EventAdded, "m2"},
		{EventDeleted, "m1"},
		{EventCleared, ""},
	}
	for i, want := range expected {
		ev, err := recvTimeout(t, sub, time.Second)
		if err != nil {
			t.Fatalf("Expected event %d, got error: %v", i, err)
		}
		if ev.Kind != want.kind || ev.MessageID != want.id {
			t.Errorf("Expected event %d to be %s/'%s', got %s/'%s'", i, want.kind, want.id, ev.Kind, ev.MessageID)
		}
	}
}

func TestSubscribe_SeesOnlyLaterEvents(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)

	s.Add("alice", Message{ID: "before"})
	sub := s.Subscribe()
	defer sub.Cancel()

	if ev, err := recvTimeout(t, sub, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline, got event %+v error %v", ev, err)
	}
}

func TestRecv_Lagged(t *testing.T) {
	s, _ := testStore(t, 1, time.Hour)
	sub := s.Subscribe()
	defer sub.Cancel()

	overflow := 6
	for i := 0; i < eventBufferSize+overflow; i++ {
		s.Add("alice", Message{ID: "m" + strconv.Itoa(i)})
	}

	_, err := recvTimeout(t, sub, time.Second)
	var lagged *LaggedError
	if !errors.As(err, &lagged) {
		t.Fatalf("Expected lag signal, got %v", err)
	}
	if lagged.Missed != uint64(overflow) {
		t.Errorf("Expected %d missed events, got %d", overflow, lagged.Missed)
	}

	// The backlog survives the lag signal.
	ev, err := recvTimeout(t, sub, time.Second)
	if err != nil {
		t.Fatalf("Expected buffered event after lag signal, got error: %v", err)
	}
	if ev.MessageID != "m0" {
		t.Errorf("Expected oldest buffered event 'm0', got '%s'", ev.MessageID)
	}
}

func TestRecv_DrainsBacklogAfterClose(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)
	sub := s.Subscribe()

	s.Add("alice", Message{ID: "m1"})
	s.Close()

	ev, err := recvTimeout(t, sub, time.Second)
	if err != nil {
		t.Fatalf("Expected buffered event before closure, got error: %v", err)
	}
	if ev.MessageID != "m1" {
		t.Errorf("Expected message id 'm1', got '%s'", ev.MessageID)
	}

	if _, err := recvTimeout(t, sub, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed after drain, got %v", err)
	}
}

func TestSubscribe_AfterClose(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)
	s.Close()

	sub := s.Subscribe()
	if _, err := recvTimeout(t, sub, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}

func TestRecv_ContextCanceled(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)
	sub := s.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sub.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)

	sub := s.Subscribe()
	sub.Cancel()
	sub.Cancel()

	if _, err := recvTimeout(t, sub, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed after cancel, got %v", err)
	}

	// Publishing after a cancel must not reach the detached subscription.
	s.Add("alice", Message{ID: "m1"})
}

func TestCancel_AfterClose(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)

	sub := s.Subscribe()
	s.Close()
	sub.Cancel()
}

func TestDelete_NoEventWhenNothingRemoved(t *testing.T) {
	s, _ := testStore(t, 10, time.Hour)
	sub := s.Subscribe()
	defer sub.Cancel()

	s.Delete("alice", "missing")
	s.Clear("alice")

	if ev, err := recvTimeout(t, sub, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected no event, got event %+v error %v", ev, err)
	}
}
