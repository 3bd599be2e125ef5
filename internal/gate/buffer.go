package gate

import "nani/internal/domain"

// conversationBuffer holds the bounded recent-turn history sent to the
// inference endpoint. Insertion appends at the tail; once the cap is
// exceeded the oldest entries are dropped, preserving turn order.
type conversationBuffer struct {
	limit int
	turns []domain.Turn
}

func newConversationBuffer(limit int) *conversationBuffer {
	return &conversationBuffer{limit: limit}
}

func (b *conversationBuffer) append(turn domain.Turn) {
	b.turns = append(b.turns, turn)
	if len(b.turns) > b.limit {
		// Copy instead of reslicing so the backing array does not pin
		// evicted turns.
		trimmed := make([]domain.Turn, b.limit)
		copy(trimmed, b.turns[len(b.turns)-b.limit:])
		b.turns = trimmed
	}
}

// snapshot returns a copy; callers never see the live slice.
func (b *conversationBuffer) snapshot() []domain.Turn {
	out := make([]domain.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

func (b *conversationBuffer) size() int {
	return len(b.turns)
}

func (b *conversationBuffer) reset() {
	b.turns = nil
}
