package client

import (
	"log"
	"sync"
)

// Status lines shown to the user while audio plays.
const (
	StatusSpeaking  = "AI Speaking..."
	StatusListening = "Listening..."
)

// Clip is one synthesized sentence waiting to be played.
type Clip struct {
	Text  string
	Audio []byte
}

// Source is a clip that has started playing.
type Source interface {
	Stop()
}

// Output plays decoded PCM. Start must call done exactly once when the clip
// finishes on its own; it must not call done after Stop.
type Output interface {
	Start(pcm PCM, done func()) (Source, error)
}

// PlaybackConfig configures a Playback.
type PlaybackConfig struct {
	Decoder  Decoder
	Output   Output
	OnStatus func(string)
}

// Playback plays clips strictly one at a time in arrival order. Decoding runs
// off the caller's goroutine; a Stop while a clip is decoding discards the
// decoded result.
type Playback struct {
	decoder  Decoder
	output   Output
	onStatus func(string)
	logger   *log.Logger

	mu       sync.Mutex
	queue    []Clip
	active   map[int]Source
	decoding bool
	gen      int
	nextID   int
}

// NewPlayback creates an idle Playback.
func NewPlayback(cfg PlaybackConfig, logger *log.Logger) *Playback {
	if cfg.Decoder == nil {
		cfg.Decoder = AutoDecoder{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Playback{
		decoder:  cfg.Decoder,
		output:   cfg.Output,
		onStatus: cfg.OnStatus,
		logger:   logger,
		active:   make(map[int]Source),
	}
}

// Enqueue appends a clip and starts it if nothing is playing.
func (p *Playback) Enqueue(c Clip) {
	p.mu.Lock()
	p.queue = append(p.queue, c)
	p.dispatchLocked()
	p.mu.Unlock()
}

// Stop halts every playing clip and empties the queue.
func (p *Playback) Stop() {
	p.mu.Lock()
	p.gen++
	p.queue = nil
	p.decoding = false
	stopping := make([]Source, 0, len(p.active))
	for id, src := range p.active {
		stopping = append(stopping, src)
		delete(p.active, id)
	}
	p.mu.Unlock()

	for _, src := range stopping {
		src.Stop()
	}
	if len(stopping) > 0 {
		p.status(StatusListening)
	}
}

// IsSpeaking reports whether a clip is currently playing.
func (p *Playback) IsSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) > 0
}

// Len returns the number of clips waiting behind the current one.
func (p *Playback) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Playback) dispatchLocked() {
	if p.decoding || len(p.active) > 0 || len(p.queue) == 0 {
		return
	}
	clip := p.queue[0]
	p.queue = p.queue[1:]
	p.decoding = true
	go p.play(p.gen, clip)
}

func (p *Playback) play(gen int, clip Clip) {
	pcm, err := p.decoder.Decode(clip.Audio)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.decoding = false
		p.logger.Printf("playback: decode %q failed: %v", clip.Text, err)
		p.dispatchLocked()
		p.mu.Unlock()
		return
	}

	id := p.nextID
	p.nextID++
	src, err := p.output.Start(pcm, func() { go p.finished(gen, id) })
	p.decoding = false
	if err != nil {
		p.logger.Printf("playback: start %q failed: %v", clip.Text, err)
		p.dispatchLocked()
		p.mu.Unlock()
		return
	}
	p.active[id] = src
	p.mu.Unlock()

	p.status(StatusSpeaking)
}

func (p *Playback) finished(gen, id int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	delete(p.active, id)
	idle := len(p.active) == 0 && len(p.queue) == 0
	p.dispatchLocked()
	p.mu.Unlock()

	if idle {
		p.status(StatusListening)
	}
}

func (p *Playback) status(s string) {
	if p.onStatus != nil {
		p.onStatus(s)
	}
}
