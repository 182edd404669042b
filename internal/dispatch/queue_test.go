package dispatch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/solbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func route(id string) domain.ArbitrageRoute {
	return domain.ArbitrageRoute{ID: id, Status: domain.RouteFeasible, ProfitAtoms: 1}
}

func TestSend_OrderPreserved(t *testing.T) {
	q := NewQueue(Config{Capacity: 8}, testLogger())
	defer q.Close()

	for i := 0; i < 5; i++ {
		if err := q.Send(route(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Send(r%d) error = %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		got := <-q.Receive()
		if want := fmt.Sprintf("r%d", i); got.ID != want {
			t.Errorf("received %q at position %d, want %q", got.ID, i, want)
		}
	}
}

func TestSend_FullQueueDropsNewRoute(t *testing.T) {
	q := NewQueue(Config{Capacity: 2, SendTimeout: 10 * time.Millisecond}, testLogger())
	defer q.Close()

	if err := q.Send(route("r0")); err != nil {
		t.Fatalf("Send(r0) error = %v", err)
	}
	if err := q.Send(route("r1")); err != nil {
		t.Fatalf("Send(r1) error = %v", err)
	}

	err := q.Send(route("r2"))
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("Send(r2) error = %v, want ErrQueueFull", err)
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	// The queued routes are untouched and still ordered.
	for i, want := range []string{"r0", "r1"} {
		got := <-q.Receive()
		if got.ID != want {
			t.Errorf("received %q at position %d, want %q", got.ID, i, want)
		}
	}
	if got := q.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestSend_WaitsForConsumer(t *testing.T) {
	q := NewQueue(Config{Capacity: 1, SendTimeout: time.Second}, testLogger())
	defer q.Close()

	if err := q.Send(route("r0")); err != nil {
		t.Fatalf("Send(r0) error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-q.Receive()
	}()

	// Space opens up inside the send window, so this must not drop.
	if err := q.Send(route("r1")); err != nil {
		t.Fatalf("Send(r1) error = %v, want nil after consumer drains", err)
	}
	if got := (<-q.Receive()).ID; got != "r1" {
		t.Errorf("received %q, want r1", got)
	}
}

func TestSend_AfterClose(t *testing.T) {
	q := NewQueue(Config{}, testLogger())
	q.Close()

	if err := q.Send(route("r0")); !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("Send() error = %v, want ErrQueueClosed", err)
	}
}

func TestClose_DrainsThenEnds(t *testing.T) {
	q := NewQueue(Config{Capacity: 4}, testLogger())
	for i := 0; i < 3; i++ {
		if err := q.Send(route(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Send(r%d) error = %v", i, err)
		}
	}
	q.Close()
	q.Close() // idempotent

	var got []string
	for r := range q.Receive() {
		got = append(got, r.ID)
	}
	if len(got) != 3 {
		t.Fatalf("drained %d routes, want 3", len(got))
	}
	for i, want := range []string{"r0", "r1", "r2"} {
		if got[i] != want {
			t.Errorf("drained[%d] = %q, want %q", i, got[i], want)
		}
	}
}
