package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner animates a message while a long operation runs. A disabled
// spinner prints nothing, which is the case for non-terminal writers.
type Spinner struct {
	w       io.Writer
	message string
	frames  []string
	enabled bool

	mu       sync.Mutex
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewSpinner creates a spinner that animates only when w is a terminal.
func NewSpinner(w io.Writer, message string) *Spinner {
	return newSpinner(w, message, IsTerminal(w))
}

func newSpinner(w io.Writer, message string, enabled bool) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		enabled: enabled,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start starts the animation.
func (s *Spinner) Start() {
	if !s.enabled {
		close(s.stopped)
		return
	}
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i++ {
			s.mu.Lock()
			fmt.Fprintf(s.w, "\r%s %s", s.frames[i%len(s.frames)], s.message)
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.stopped
		if s.enabled {
			s.mu.Lock()
			fmt.Fprint(s.w, "\r\033[K")
			s.mu.Unlock()
		}
	})
}
