package mq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MockAcknowledger records acks and nacks per delivery tag.
type MockAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, tag)
	return nil
}

func (m *MockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacked = append(m.nacked, tag)
	return nil
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Nack(tag, false, requeue)
}

func deliveriesFor(ack amqp.Acknowledger, bodies ...string) chan amqp.Delivery {
	ch := make(chan amqp.Delivery, len(bodies))
	for i, body := range bodies {
		ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), Body: []byte(body)}
	}
	close(ch)
	return ch
}

func TestProcessRunsDeliveriesConcurrently(t *testing.T) {
	var inFlight, peak int32
	handler := func(ctx context.Context, body []byte) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	ack := &MockAcknowledger{}
	c := NewConsumer(nil, "jobs", 5, handler)
	err := c.process(context.Background(), deliveriesFor(ack, `{"id":"1"}`, `{"id":"2"}`, `{"id":"3"}`))
	if err == nil {
		t.Fatal("Expected closed-channel error from process, got nil")
	}

	if got := atomic.LoadInt32(&peak); got < 2 {
		t.Errorf("Expected deliveries to overlap, peak in-flight was %d", got)
	}
	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.acked) != 3 {
		t.Errorf("Expected 3 acks, got %d", len(ack.acked))
	}
}

func TestProcessDrainsBeforeReturning(t *testing.T) {
	var finished int32
	handler := func(ctx context.Context, body []byte) error {
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&finished, 1)
		return nil
	}

	ack := &MockAcknowledger{}
	c := NewConsumer(nil, "jobs", 5, handler)
	_ = c.process(context.Background(), deliveriesFor(ack, `a`, `b`))

	// All dispatched jobs must have completed by the time process returns
	if got := atomic.LoadInt32(&finished); got != 2 {
		t.Errorf("Expected 2 finished jobs before return, got %d", got)
	}
}

func TestProcessNacksFailedHandler(t *testing.T) {
	handler := func(ctx context.Context, body []byte) error {
		if string(body) == "bad" {
			return context.DeadlineExceeded
		}
		return nil
	}

	ack := &MockAcknowledger{}
	c := NewConsumer(nil, "jobs", 5, handler)
	_ = c.process(context.Background(), deliveriesFor(ack, "good", "bad"))

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.acked) != 1 || ack.acked[0] != 1 {
		t.Errorf("Expected delivery 1 acked, got %v", ack.acked)
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 2 {
		t.Errorf("Expected delivery 2 requeued, got %v", ack.nacked)
	}
}
