package server

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// consoleTransport connects the console user to a terminal.
type consoleTransport struct {
	scanner *bufio.Scanner
	mu      sync.Mutex
	out     io.Writer
}

// NewConsoleTransport returns a transport reading commands from in and
// printing server output to out. Closing it leaves both streams open.
func NewConsoleTransport(in io.Reader, out io.Writer) Transport {
	return &consoleTransport{scanner: bufio.NewScanner(in), out: out}
}

func (t *consoleTransport) ReadLine() (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return t.scanner.Text(), nil
}

func (t *consoleTransport) WriteLines(lines []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range lines {
		if _, err := fmt.Fprintln(t.out, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *consoleTransport) Ping() error { return nil }

func (t *consoleTransport) Close() error { return nil }

func (t *consoleTransport) RemoteIP() string { return "" }
