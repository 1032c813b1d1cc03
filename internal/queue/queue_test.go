package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	if err := q.Publish(ctx, Message{Type: TypeFraudSignal, Body: []byte("sig-1")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != TypeFraudSignal || string(msg.Body) != "sig-1" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublishDoesNotBlock(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	if err := q.Publish(ctx, Message{Type: "a"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Publish(ctx, Message{Type: "b"}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrFull) {
			t.Fatalf("err = %v, want ErrFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := NewInMemory(1).Publish(cancelled, Message{Type: "c"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled publish err = %v", err)
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	msgs, _ := q.Consume(ctx)
	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
