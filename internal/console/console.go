// Package console reads command lines from stdin and script files and hands
// them to the dispatch loop over a channel.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// Line is one command line from any source.
type Line struct {
	Source string // stdin, a script path or mqtt.
	Number int    // 1-based line number inside the source.
	Text   string
	// Reply receives the dispatch result. Nil when the source does not care.
	Reply func(err error)
}

// Read scans r line by line into out until EOF or until ctx is done.
// out is not closed.
func Read(ctx context.Context, source string, r io.Reader, out chan<- Line) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- Line{Source: source, Number: n, Text: sc.Text()}:
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s line %d: %w", source, n+1, err)
	}
	return nil
}

// ReadFile reads a script file. See Read.
func ReadFile(ctx context.Context, path string, out chan<- Line) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return Read(ctx, path, f, out)
}

// Stdin reads interactive input. The read itself cannot be interrupted, so the
// goroutine running it may outlive ctx until the next line or EOF.
func Stdin(ctx context.Context, out chan<- Line) error {
	return Read(ctx, "stdin", os.Stdin, out)
}
