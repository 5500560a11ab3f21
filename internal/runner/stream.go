package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	outputBuffer = 64
	// segmentSize bounds a chunk; longer lines arrive as several chunks.
	segmentSize = 64 * 1024
)

// streamProcess adapts a pair of pipes plus wait/kill hooks to Process.
type streamProcess struct {
	out      chan OutputChunk
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	killed   atomic.Bool
	kill     func() error

	result Result
	err    error
}

// startStreamProcess pumps stdout and stderr line by line. wait must return
// the exit code and a non-nil error only for transport failures.
func startStreamProcess(
	ctx context.Context,
	stdout, stderr io.Reader,
	wait func() (int, error),
	kill func() error,
) *streamProcess {
	p := &streamProcess{
		out:  make(chan OutputChunk, outputBuffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		kill: kill,
	}

	var g errgroup.Group
	g.Go(func() error { return p.pump(stdout, Stdout) })
	g.Go(func() error { return p.pump(stderr, Stderr) })

	stopWatch := context.AfterFunc(ctx, func() {
		_ = p.Kill()
	})

	go func() {
		readErr := g.Wait()
		close(p.out)
		code, waitErr := wait()
		stopWatch()

		p.result = Result{ExitCode: code}
		switch {
		case p.killed.Load():
			p.err = ErrCancelled
		case waitErr != nil:
			p.err = waitErr
		case readErr != nil:
			log.Warn().Err(readErr).Msg("runner.streamProcess read failed")
		}
		close(p.done)
	}()
	return p
}

func (p *streamProcess) pump(r io.Reader, stream Stream) error {
	if r == nil {
		return nil
	}
	reader := bufio.NewReaderSize(r, segmentSize)
	continued := false
	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		// A line that filled the buffer exactly ends with an empty segment.
		if continued && !isPrefix && len(line) == 0 {
			continued = false
			continue
		}
		continued = isPrefix
		chunk := OutputChunk{Stream: stream, Text: string(line)}
		select {
		case p.out <- chunk:
		case <-p.stop:
			return nil
		}
	}
}

func (p *streamProcess) Output() <-chan OutputChunk {
	return p.out
}

func (p *streamProcess) Wait() (Result, error) {
	<-p.done
	return p.result, p.err
}

// Kill terminates the process and stops delivering output.
func (p *streamProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.killed.Store(true)
	p.stopOnce.Do(func() { close(p.stop) })
	return p.kill()
}
