package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner animates one status line on stderr until it is resolved.
// It runs before the chat screen owns the terminal.
type SimpleSpinner struct {
	out   io.Writer
	style spinner.Spinner

	mu      sync.Mutex
	message string
	started bool
	stop    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

func NewConnectionSpinner(message string) *SimpleSpinner {
	return &SimpleSpinner{
		out:     os.Stderr,
		style:   spinner.MiniDot,
		message: message,
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (s *SimpleSpinner) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.exited)
		tick := time.NewTicker(s.style.FPS)
		defer tick.Stop()

		for frame := 0; ; frame++ {
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r\033[K%s %s", SpinnerStyle.Render(s.style.Frames[frame%len(s.style.Frames)]), s.message)
			s.mu.Unlock()

			select {
			case <-s.stop:
				return
			case <-tick.C:
			}
		}
	}()
}

// Stop clears the line. Calling it on a spinner that never started is fine.
func (s *SimpleSpinner) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.exited
		}
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *SimpleSpinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
