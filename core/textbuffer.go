package orchestration

import (
	"strings"
	"sync"
	"unicode"
)

// textBuffer hands generated increments from the generation worker to the
// speech worker. Clear unblocks the reader for good.
type textBuffer struct {
	mu             sync.Mutex
	chunks         []string
	chunksConsumed int
	textComplete   bool
	updateSignal   chan struct{}
	cleared        bool
}

func newTextBuffer() *textBuffer {
	return &textBuffer{updateSignal: make(chan struct{}, 1)}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) TextComplete() {
	b.mu.Lock()
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) Chunks(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.chunksConsumed < len(b.chunks) {
			chunk := b.chunks[b.chunksConsumed]
			b.chunksConsumed++
			b.mu.Unlock()
			if !yield(chunk) {
				return
			}
			continue
		}

		if b.textComplete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// Sentences regroups the chunks into sentence sized pieces. Whatever is left
// when the text completes is yielded as the last piece.
func (b *textBuffer) Sentences(yield func(string) bool) {
	var pending strings.Builder
	for chunk := range b.Chunks {
		pending.WriteString(chunk)

		text := pending.String()
		end := lastSentenceEnd(text)
		if end < 0 {
			continue
		}

		pending.Reset()
		pending.WriteString(text[end:])
		if sentence := strings.TrimSpace(text[:end]); sentence != "" {
			if !yield(sentence) {
				return
			}
		}
	}

	b.mu.Lock()
	cleared := b.cleared
	b.mu.Unlock()
	if cleared {
		return
	}

	if rest := strings.TrimSpace(pending.String()); rest != "" {
		yield(rest)
	}
}

func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.chunks, "")
}

func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}

// lastSentenceEnd returns the index right after the last sentence terminator
// that is followed by whitespace, or -1.
func lastSentenceEnd(text string) int {
	for i := len(text) - 2; i >= 0; i-- {
		if strings.ContainsRune(".?!\n", rune(text[i])) && unicode.IsSpace(rune(text[i+1])) {
			return i + 1
		}
	}
	return -1
}
