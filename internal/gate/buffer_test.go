package gate

import (
	"fmt"
	"testing"

	"nani/internal/domain"
)

func TestBufferCapKeepsMostRecentInOrder(t *testing.T) {
	b := newConversationBuffer(8)
	for i := 1; i <= 10; i++ {
		b.append(domain.Turn{Role: domain.TurnUser, Content: fmt.Sprintf("turn-%d", i)})
		if b.size() > 8 {
			t.Fatalf("buffer exceeded cap after %d appends: %d", i, b.size())
		}
	}
	got := b.snapshot()
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	for i, turn := range got {
		want := fmt.Sprintf("turn-%d", i+3)
		if turn.Content != want {
			t.Fatalf("snapshot[%d] = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestBufferSnapshotIsACopy(t *testing.T) {
	b := newConversationBuffer(8)
	b.append(domain.Turn{Role: domain.TurnUser, Content: "original"})
	snap := b.snapshot()
	snap[0].Content = "mutated"
	if b.snapshot()[0].Content != "original" {
		t.Fatal("snapshot must not alias the live buffer")
	}
}

func TestBufferReset(t *testing.T) {
	b := newConversationBuffer(8)
	b.append(domain.Turn{Role: domain.TurnUser, Content: "x"})
	b.reset()
	if b.size() != 0 {
		t.Fatalf("size after reset = %d, want 0", b.size())
	}
}
