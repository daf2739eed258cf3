package adapter

import (
	"context"
	"testing"

	"flowbridge/models"
)

func TestReconnectBackoffSequence(t *testing.T) {
	b := NewReconnectBackoff()
	want := []float64{1, 2, 4, 8, 16, 32, 60, 60, 60}
	for i, sec := range want {
		got := b.ForAttempt(float64(i)).Seconds()
		if got != sec {
			t.Fatalf("attempt %d: expected %vs, got %vs", i, sec, got)
		}
	}
}

func TestEmitHonorsCancellation(t *testing.T) {
	out := make(chan models.Event) // unbuffered: nobody is receiving
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if Emit(ctx, out, models.Connected{Exchange: "test"}) {
		t.Fatal("emit should fail once the consumer is gone")
	}

	out = make(chan models.Event, 1)
	if !Emit(context.Background(), out, models.Connected{Exchange: "test"}) {
		t.Fatal("emit should succeed with buffer space")
	}
}
