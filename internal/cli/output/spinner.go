package output

import (
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a status line while work is in progress. Off a terminal
// it prints the message once.
type Spinner struct {
	r    *Renderer
	msg  string
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSpinner creates a stopped spinner showing msg.
func (r *Renderer) NewSpinner(msg string) *Spinner {
	return &Spinner{r: r, msg: msg}
}

// Start shows the spinner. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	if !s.r.isTTY {
		s.r.StatusLine(s.msg)
		s.stop = make(chan struct{})
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.r.StatusLine(fmt.Sprintf("%s %s", spinnerFrames[i%len(spinnerFrames)], s.msg))
			select {
			case <-stop:
				s.r.StatusLine("")
				return
			case <-ticker.C:
			}
		}
	}(s.stop, s.done)
}

// Stop hides the spinner. Stopping a stopped spinner does nothing.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	if s.done != nil {
		<-s.done
	}
	s.stop, s.done = nil, nil
}
