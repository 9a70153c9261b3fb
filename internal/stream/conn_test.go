package stream

import (
	"testing"

	"github.com/traintrack-ai/traintrack-cli/internal/logging"
)

func testConn(queueSize int) *Conn {
	log := logging.Component(logging.Discard(), "stream")
	return newConn("c1", "job-1", nil, queueSize, log, nil, nil)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	c := testConn(2)

	for i := byte('a'); i <= 'c'; i++ {
		if err := c.enqueue(outbound{data: []byte{i}}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if len(c.send) != 2 {
		t.Fatalf("expected queue depth 2, got %d", len(c.send))
	}

	// The oldest frame ('a') was evicted in favor of the newest.
	first := <-c.send
	second := <-c.send
	if string(first.data) != "b" || string(second.data) != "c" {
		t.Errorf("expected frames b,c; got %s,%s", first.data, second.data)
	}
}

func TestEnqueueAfterFinalRejected(t *testing.T) {
	c := testConn(4)

	if err := c.enqueue(outbound{data: []byte("terminal"), final: true}); err != nil {
		t.Fatalf("enqueue of final frame failed: %v", err)
	}
	if err := c.enqueue(outbound{data: []byte("late")}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed behind final frame, got %v", err)
	}
	if len(c.send) != 1 {
		t.Errorf("expected only the final frame queued, got depth %d", len(c.send))
	}
}

func TestEnqueueAfterCloseRejected(t *testing.T) {
	c := testConn(4)

	// No websocket attached: mark closed directly.
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.enqueue(outbound{data: []byte("x")}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}
