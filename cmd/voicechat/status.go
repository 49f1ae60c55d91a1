package main

import (
	"fmt"
	"os"
	"sync"
)

// statusLine keeps the current status on the last terminal line and prints
// conversation lines above it.
type statusLine struct {
	mu      sync.Mutex
	current string
}

func newStatusLine() *statusLine {
	return &statusLine{}
}

func (s *statusLine) set(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == s.current {
		return
	}
	s.current = status
	fmt.Fprintf(os.Stdout, "\r\033[K[%s]", status)
}

func (s *statusLine) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(os.Stdout, "\r\033[K%s\n", line)
	if s.current != "" {
		fmt.Fprintf(os.Stdout, "[%s]", s.current)
	}
}
