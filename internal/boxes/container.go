// Package boxes keeps the displayed container list in sync with the
// container runtime.
package boxes

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedRow = errors.New("boxes: malformed row")

type Container struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
	Image  string `json:"image" yaml:"image"`
}

type State string

const (
	StateUp      State = "up"
	StateCreated State = "created"
	StateExited  State = "exited"
	StateOther   State = "other"
)

// State classifies the free-form runtime status ("Up 2 hours", "Exited (0)").
func (c Container) State() State {
	status := strings.ToLower(strings.TrimSpace(c.Status))
	switch {
	case strings.HasPrefix(status, "up"):
		return StateUp
	case strings.HasPrefix(status, "created"):
		return StateCreated
	case strings.HasPrefix(status, "exited"):
		return StateExited
	default:
		return StateOther
	}
}

const listFields = 4

// ParseList parses a pipe separated listing with a header row:
//
//	ID           | NAME   | STATUS  | IMAGE
//	d24405b14180 | ubuntu | Created | ghcr.io/ublue-os/ubuntu-toolbox:latest
//
// Blank lines are ignored.
func ParseList(out []byte) ([]Container, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	var containers []Container
	header := true
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if header {
			header = false
			continue
		}
		c, err := parseRow(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		containers = append(containers, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return containers, nil
}

func parseRow(text string) (Container, error) {
	parts := strings.Split(text, "|")
	if len(parts) != listFields {
		return Container{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedRow, listFields, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	for i, name := range []string{"id", "name", "status", "image"} {
		if parts[i] == "" {
			return Container{}, fmt.Errorf("%w: empty %s", ErrMalformedRow, name)
		}
	}
	return Container{ID: parts[0], Name: parts[1], Status: parts[2], Image: parts[3]}, nil
}
