package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestFloorSpacesCalls(t *testing.T) {
	const interval = 40 * time.Millisecond
	floor := NewFloor(interval)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		if err := floor.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
		stamps = append(stamps, time.Now())
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval-5*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestFloorQueuesInsteadOfDropping(t *testing.T) {
	floor := NewFloor(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			if err := floor.Wait(ctx); err == nil {
				done <- struct{}{}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatalf("only %d calls admitted", i)
		}
	}
}

func TestChainRespectsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := Chain{NewBucket(0, 0), NewFloor(time.Hour)}
	if err := chain.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	if err := chain.Wait(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
}
