package replacement

import "math/rand/v2"

// Experience is one (state, action, reward, next state) transition.
type Experience struct {
	State     []float64
	Action    uint32
	Reward    float64
	NextState []float64
}

// ExperienceBuffer is a bounded FIFO of transitions. Once full, each push
// overwrites the oldest entry.
type ExperienceBuffer struct {
	items []Experience
	head  int // index of the oldest entry
	size  int
}

// NewExperienceBuffer creates an empty buffer holding at most capacity entries.
func NewExperienceBuffer(capacity int) *ExperienceBuffer {
	return &ExperienceBuffer{items: make([]Experience, capacity)}
}

// Push appends e, evicting the oldest entry when the buffer is full.
func (b *ExperienceBuffer) Push(e Experience) {
	if len(b.items) == 0 {
		return
	}
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = e
		b.size++
		return
	}
	b.items[b.head] = e
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of stored transitions.
func (b *ExperienceBuffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *ExperienceBuffer) Cap() int { return len(b.items) }

// At returns the i-th oldest stored transition.
func (b *ExperienceBuffer) At(i int) Experience {
	mustInRange("ExperienceBuffer.At", "index", uint64(i), uint64(b.size))
	return b.items[(b.head+i)%len(b.items)]
}

// Oldest returns the transition next in line for eviction.
func (b *ExperienceBuffer) Oldest() (Experience, bool) {
	if b.size == 0 {
		return Experience{}, false
	}
	return b.items[b.head], true
}

// Sample draws n transitions uniformly with replacement into dst.
func (b *ExperienceBuffer) Sample(rng *rand.Rand, n int, dst []Experience) []Experience {
	dst = dst[:0]
	if b.size == 0 {
		return dst
	}
	for range n {
		dst = append(dst, b.At(rng.IntN(b.size)))
	}
	return dst
}
