package log

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner draws a single-line activity indicator while a blocking step runs
type Spinner struct {
	mu       sync.Mutex
	out      io.Writer
	chars    []string
	interval time.Duration
	current  int
	message  string
	started  time.Time
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSpinner creates a spinner that renders to out
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{
		out:      out,
		chars:    []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		interval: 100 * time.Millisecond,
	}
}

// Start begins the animation with message; calling it twice is a no-op
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.message = message
	s.started = time.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin(s.stop, s.done)
}

// Stop ends the animation and prints a final status line
func (s *Spinner) Stop(err error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.started).Round(time.Millisecond)
	if err != nil {
		fmt.Fprintf(s.out, "\r\033[K✗ %s failed (%v)\n", s.message, elapsed)
		return
	}
	fmt.Fprintf(s.out, "\r\033[K✓ %s (%v)\n", s.message, elapsed)
}

func (s *Spinner) spin(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.render()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.current = (s.current + 1) % len(s.chars)
			s.mu.Unlock()
			s.render()
		}
	}
}

func (s *Spinner) render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\r\033[K%s %s", s.chars[s.current], s.message)
}
