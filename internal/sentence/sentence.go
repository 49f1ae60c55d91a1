// Package sentence turns a streamed model reply into sentence-sized chunks
// for speech synthesis.
package sentence

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// DefaultFlushAfter is how long the stream may stay quiet before a trailing
// partial sentence is flushed.
const DefaultFlushAfter = 1000 * time.Millisecond

// sentenceEnd matches a run without line breaks or terminators, one terminator,
// then whitespace or the end of the buffer.
var sentenceEnd = regexp.MustCompile(`([^\r\n.?!]*[.?!])(\s|$)`)

// Buffer accumulates text fragments and splits off complete sentences.
// It is not safe for concurrent use.
type Buffer struct {
	pending string
}

// Push appends a fragment and returns every complete sentence now available,
// in order. Text after the last complete sentence stays pending.
func (b *Buffer) Push(fragment string) []string {
	b.pending += fragment

	var out []string
	cursor := 0
	for _, m := range sentenceEnd.FindAllStringIndex(b.pending, -1) {
		if s := strings.TrimSpace(b.pending[cursor:m[1]]); s != "" {
			out = append(out, s)
		}
		cursor = m[1]
	}
	b.pending = b.pending[cursor:]
	return out
}

// Flush returns the trimmed pending text and clears it. The result is empty
// when nothing but whitespace was pending.
func (b *Buffer) Flush() string {
	s := strings.TrimSpace(b.pending)
	b.pending = ""
	return s
}

// Pending returns the unconsumed text.
func (b *Buffer) Pending() string {
	return b.pending
}

// Stream reads tokens until the channel closes and emits sentences on the
// returned channel, which is closed when the token stream ends or ctx is done.
//
// If no token arrives for flushAfter, pending text is emitted as a sentence
// even without a terminator. Whatever is still pending when tokens closes is
// emitted last.
func Stream(ctx context.Context, tokens <-chan string, flushAfter time.Duration) <-chan string {
	if flushAfter <= 0 {
		flushAfter = DefaultFlushAfter
	}
	out := make(chan string)

	go func() {
		defer close(out)

		var buf Buffer
		timer := time.NewTimer(flushAfter)
		timer.Stop()
		defer timer.Stop()

		emit := func(s string) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case <-timer.C:
				if s := buf.Flush(); s != "" {
					if !emit(s) {
						return
					}
				}

			case tok, ok := <-tokens:
				if !ok {
					timer.Stop()
					if s := buf.Flush(); s != "" {
						emit(s)
					}
					return
				}

				// Not cumulative: every token restarts the quiet period.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				for _, s := range buf.Push(tok) {
					if !emit(s) {
						return
					}
				}
				timer.Reset(flushAfter)
			}
		}
	}()

	return out
}
