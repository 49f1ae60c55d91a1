package llm

import "context"

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Usage holds the token counts reported by the provider for one response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Client defines the interface for LLM providers.
type Client interface {
	// GenerateResponse starts a streamed reply to the conversation.
	// Tokens arrive on the returned stream in order; check Err once it closes.
	GenerateResponse(ctx context.Context, messages []Message) (*Stream, error)
}

// Stream is a single streamed reply. It is consumed once, left to right.
type Stream struct {
	tokens <-chan string
	done   chan struct{}
	err    error
	usage  Usage
}

// NewStream wraps a token channel. The returned finish func must be called
// exactly once, after the last token has been sent and before tokens closes.
func NewStream(tokens <-chan string) (*Stream, func(Usage, error)) {
	s := &Stream{tokens: tokens, done: make(chan struct{})}
	finish := func(u Usage, err error) {
		s.usage = u
		s.err = err
		close(s.done)
	}
	return s, finish
}

// Tokens returns the token channel. It is closed when the reply ends.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Err reports a failure that ended the stream early. Only valid after the
// token channel has been drained.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Usage returns the token counts, if the provider sent them.
func (s *Stream) Usage() Usage {
	<-s.done
	return s.usage
}
