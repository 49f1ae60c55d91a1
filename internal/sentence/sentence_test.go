package sentence

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestBufferPush(t *testing.T) {
	tests := []struct {
		name        string
		tokens      []string
		want        []string
		wantPending string
	}{
		{
			name:        "single sentence across tokens",
			tokens:      []string{"Hello", " world", "."},
			want:        []string{"Hello world."},
			wantPending: "",
		},
		{
			name:        "trailing partial stays pending",
			tokens:      []string{"Hi there! How", " are"},
			want:        []string{"Hi there!"},
			wantPending: "How are",
		},
		{
			name:        "several sentences in one token",
			tokens:      []string{"One. Two? Three! Four"},
			want:        []string{"One.", "Two?", "Three!"},
			wantPending: "Four",
		},
		{
			name:        "consecutive terminators never emit empty",
			tokens:      []string{"Wait... ", "! ? Go."},
			want:        []string{"Wait...", "!", "?", "Go."},
			wantPending: "",
		},
		{
			name:        "terminator not followed by space waits",
			tokens:      []string{"Pi is 3.", "14 today."},
			want:        []string{"Pi is 3.", "14 today."},
			wantPending: "",
		},
		{
			name:        "decimal inside a token is not a boundary",
			tokens:      []string{"Pi is 3.14 today"},
			want:        nil,
			wantPending: "Pi is 3.14 today",
		},
		{
			name:        "line break kept inside the emitted sentence",
			tokens:      []string{"First line\nsecond line. Next"},
			want:        []string{"First line\nsecond line."},
			wantPending: "Next",
		},
		{
			name:        "whitespace only",
			tokens:      []string{"  ", "\n"},
			want:        nil,
			wantPending: "  \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			var got []string
			for _, tok := range tt.tokens {
				got = append(got, b.Push(tok)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sentences = %q, want %q", got, tt.want)
			}
			if b.Pending() != tt.wantPending {
				t.Errorf("pending = %q, want %q", b.Pending(), tt.wantPending)
			}
		})
	}
}

func TestBufferFlush(t *testing.T) {
	var b Buffer
	b.Push("  trailing words ")
	if got := b.Flush(); got != "trailing words" {
		t.Errorf("Flush() = %q, want %q", got, "trailing words")
	}
	if b.Pending() != "" {
		t.Errorf("pending after Flush = %q, want empty", b.Pending())
	}
	if got := b.Flush(); got != "" {
		t.Errorf("second Flush() = %q, want empty", got)
	}
}

func recv(t *testing.T, ch <-chan string, within time.Duration) (string, bool) {
	t.Helper()
	select {
	case s, ok := <-ch:
		return s, ok
	case <-time.After(within):
		t.Fatalf("no value within %v", within)
		return "", false
	}
}

func TestStreamEmitsOnTerminatorThenAfterTimeout(t *testing.T) {
	const flushAfter = 100 * time.Millisecond
	tokens := make(chan string)
	out := Stream(context.Background(), tokens, flushAfter)

	tokens <- "Hello"
	tokens <- " world"
	tokens <- "."
	if s, _ := recv(t, out, time.Second); s != "Hello world." {
		t.Fatalf("first sentence = %q, want %q", s, "Hello world.")
	}

	start := time.Now()
	tokens <- " How"
	select {
	case s := <-out:
		t.Fatalf("got %q before the inactivity timeout", s)
	case <-time.After(flushAfter / 3):
	}
	if s, _ := recv(t, out, 2*time.Second); s != "How" {
		t.Fatalf("flushed sentence = %q, want %q", s, "How")
	}
	if elapsed := time.Since(start); elapsed < flushAfter {
		t.Errorf("flush after %v, want at least %v", elapsed, flushAfter)
	}

	close(tokens)
	if s, ok := recv(t, out, time.Second); ok {
		t.Errorf("unexpected extra sentence %q after stream end", s)
	}
}

func TestStreamFlushesRemainderAtEnd(t *testing.T) {
	tokens := make(chan string, 4)
	tokens <- "Done here. And"
	tokens <- " then"
	close(tokens)

	out := Stream(context.Background(), tokens, time.Hour)

	var got []string
	for s := range out {
		got = append(got, s)
	}
	want := []string{"Done here.", "And then"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}
}

func TestStreamEndingOnBoundaryEmitsNothingExtra(t *testing.T) {
	tokens := make(chan string, 2)
	tokens <- "All good."
	tokens <- " "
	close(tokens)

	var got []string
	for s := range Stream(context.Background(), tokens, time.Hour) {
		got = append(got, s)
	}
	if !reflect.DeepEqual(got, []string{"All good."}) {
		t.Errorf("sentences = %q, want [\"All good.\"]", got)
	}
}

func TestStreamTimerResetsOnEveryToken(t *testing.T) {
	const flushAfter = 150 * time.Millisecond
	tokens := make(chan string)
	out := Stream(context.Background(), tokens, flushAfter)

	// Keep the stream busy for longer than flushAfter in total, but never
	// quiet for a whole period.
	for _, w := range []string{"one", " two", " three", " four"} {
		tokens <- w
		select {
		case s := <-out:
			t.Fatalf("got %q while tokens kept arriving", s)
		case <-time.After(flushAfter / 2):
		}
	}

	if s, _ := recv(t, out, 2*time.Second); s != "one two three four" {
		t.Errorf("flushed = %q, want %q", s, "one two three four")
	}
	close(tokens)
}

func TestStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tokens := make(chan string)
	out := Stream(ctx, tokens, time.Hour)

	tokens <- "never finished"
	cancel()

	if s, ok := recv(t, out, time.Second); ok {
		t.Errorf("got %q after cancel, want closed channel", s)
	}
}
