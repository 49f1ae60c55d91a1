package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/lukasbauer/voicerelay/internal/client"
)

const (
	speakerRate     = 44100
	speakerChannels = 2
	speakerFrames   = 1024
)

var errSpeakerBusy = errors.New("speaker: already playing")

// speaker keeps one output stream open and plays at most one clip at a time,
// writing silence in between.
type speaker struct {
	stream *portaudio.Stream
	buf    []int16

	mu  sync.Mutex
	cur *clipPlayer
}

type clipPlayer struct {
	s       *speaker
	samples []int16
	pos     int
	done    func()
}

func (p *clipPlayer) Stop() {
	p.s.mu.Lock()
	if p.s.cur == p {
		p.s.cur = nil
	}
	p.s.mu.Unlock()
}

func openSpeaker() (*speaker, error) {
	buf := make([]int16, speakerFrames*speakerChannels)
	stream, err := portaudio.OpenDefaultStream(0, speakerChannels, float64(speakerRate), speakerFrames, buf)
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start speaker: %w", err)
	}
	return &speaker{stream: stream, buf: buf}, nil
}

func (s *speaker) Start(pcm client.PCM, done func()) (client.Source, error) {
	samples := client.Convert(pcm, speakerRate, speakerChannels)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil, errSpeakerBusy
	}
	p := &clipPlayer{s: s, samples: samples, done: done}
	s.cur = p
	return p, nil
}

// run feeds the output stream until ctx is done.
func (s *speaker) run(ctx context.Context) error {
	for ctx.Err() == nil {
		var finished func()

		s.mu.Lock()
		n := 0
		if p := s.cur; p != nil {
			n = copy(s.buf, p.samples[p.pos:])
			p.pos += n
			if p.pos >= len(p.samples) {
				finished = p.done
				s.cur = nil
			}
		}
		clear(s.buf[n:])
		s.mu.Unlock()

		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("speaker write: %w", err)
		}
		if finished != nil {
			finished()
		}
	}
	return nil
}

func (s *speaker) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
