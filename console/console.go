package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"maps-harvester/scheduler"
)

// Source reads one command per line from the terminal
type Source struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex
}

// NewSource creates a line source reading in and replying on out
func NewSource(in io.Reader, out io.Writer) *Source {
	return &Source{in: in, out: out}
}

// Run forwards commands until the input ends or ctx is done
func (s *Source) Run(ctx context.Context, commands chan<- scheduler.Command) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// the read blocks until a line arrives; it is left behind when ctx ends
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read commands: %w", err)
			}
			return nil
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			select {
			case commands <- scheduler.NewCommand(line, s.reply):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Source) reply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, strings.TrimRight(text, "\n"))
}
