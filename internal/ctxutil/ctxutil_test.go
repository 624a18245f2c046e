package ctxutil

import (
	"context"
	"testing"
	"time"
)

func TestActor(t *testing.T) {
	if _, ok := Actor(context.Background()); ok {
		t.Fatal("empty context must be unauthenticated")
	}
	if _, ok := Actor(WithActor(context.Background(), 0)); ok {
		t.Fatal("zero id must be unauthenticated")
	}
	id, ok := Actor(WithActor(context.Background(), 42))
	if !ok || id != 42 {
		t.Fatalf("got %d %v", id, ok)
	}
}

func TestWithDBTimeout_RespectsParent(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ctx, c2 := WithDBTimeout(parent)
	defer c2()
	dl, ok := ctx.Deadline()
	if !ok || time.Until(dl) > 100*time.Millisecond {
		t.Fatalf("deadline must come from parent, got %v", time.Until(dl))
	}
}
