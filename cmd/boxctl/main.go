package main

import (
	"errors"
	"fmt"
	"os"
)

// exitCodeError carries the exit status of a command run through exec.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func main() {
	cmd := newRootCommand(newApp())
	if err := cmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "boxctl: %v\n", err)
		os.Exit(1)
	}
}
