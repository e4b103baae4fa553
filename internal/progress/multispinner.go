// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package progress draws a live status line per component of a run.
*/
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinChars []string = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

type spinnerState struct {
	label       string
	status      string
	statusIsNew bool
	spinIndex   int
}

// MultiSpinner shows one spinner per label. It is safe for concurrent use.
type MultiSpinner struct {
	mu       sync.Mutex
	out      io.Writer
	terminal bool
	spinners []spinnerState
	ticker   *time.Ticker
	done     chan bool
	spinning bool
}

// NewMultiSpinner creates a MultiSpinner drawing to stderr.
func NewMultiSpinner() *MultiSpinner {
	return NewMultiSpinnerTo(os.Stderr)
}

// NewMultiSpinnerTo creates a MultiSpinner drawing to out. Spinners animate
// only when out is a terminal; otherwise each status change is printed once.
func NewMultiSpinnerTo(out io.Writer) *MultiSpinner {
	ms := MultiSpinner{out: out, done: make(chan bool)}
	if f, ok := out.(*os.File); ok {
		ms.terminal = term.IsTerminal(int(f.Fd()))
	}
	return &ms
}

// AddSpinner adds a spinner to the MultiSpinner
func (ms *MultiSpinner) AddSpinner(label string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.addSpinner(label)
}

func (ms *MultiSpinner) addSpinner(label string) (err error) {
	// make sure label is unique
	for _, spinner := range ms.spinners {
		if spinner.label == label {
			err = fmt.Errorf("spinner with label %s already exists", label)
			return
		}
	}
	ms.spinners = append(ms.spinners, spinnerState{label, "?", false, 0})
	return
}

// Start starts the spinner
func (ms *MultiSpinner) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.spinning {
		return
	}
	ms.draw(true)
	ms.ticker = time.NewTicker(250 * time.Millisecond)
	ms.spinning = true
	go ms.onTick()
}

// Finish stops the spinner
func (ms *MultiSpinner) Finish() {
	ms.mu.Lock()
	if !ms.spinning {
		ms.mu.Unlock()
		return
	}
	ms.ticker.Stop()
	ms.spinning = false
	ms.mu.Unlock()
	ms.done <- true
	ms.mu.Lock()
	ms.draw(false)
	ms.mu.Unlock()
}

// Status updates the status of a spinner
func (ms *MultiSpinner) Status(label string, status string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.setStatus(label, status)
}

func (ms *MultiSpinner) setStatus(label string, status string) (err error) {
	for spinnerIdx, spinner := range ms.spinners {
		if spinner.label == label {
			if status != spinner.status {
				ms.spinners[spinnerIdx].status = status
				ms.spinners[spinnerIdx].statusIsNew = true
			}
			return
		}
	}
	err = fmt.Errorf("did not find spinner with label %s", label)
	return
}

// Track sets the status of label, adding its spinner on first use. Added
// spinners appear on the next redraw.
func (ms *MultiSpinner) Track(label string, status string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.setStatus(label, status) != nil {
		_ = ms.addSpinner(label)
		_ = ms.setStatus(label, status)
		if ms.terminal && ms.spinning {
			// the new line is below the block drawn so far
			fmt.Fprintln(ms.out)
			fmt.Fprintf(ms.out, "\x1b[1A")
		}
	}
}

// Statuses returns the current status per label.
func (ms *MultiSpinner) Statuses() map[string]string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	statuses := make(map[string]string, len(ms.spinners))
	for _, spinner := range ms.spinners {
		statuses[spinner.label] = spinner.status
	}
	return statuses
}

func (ms *MultiSpinner) onTick() {
	for {
		select {
		case <-ms.done:
			return
		case <-ms.ticker.C:
			ms.mu.Lock()
			ms.draw(true)
			ms.mu.Unlock()
		}
	}
}

// draw must be called with ms.mu held
func (ms *MultiSpinner) draw(goUp bool) {
	for i, spinner := range ms.spinners {
		if !ms.terminal && !spinner.statusIsNew {
			continue
		}
		fmt.Fprintf(ms.out, "%-30s  %s  %-40s\n", spinner.label, spinChars[spinner.spinIndex], spinner.status)
		ms.spinners[i].statusIsNew = false
		ms.spinners[i].spinIndex += 1
		if ms.spinners[i].spinIndex >= len(spinChars) {
			ms.spinners[i].spinIndex = 0
		}
	}
	if goUp && ms.terminal {
		for range ms.spinners {
			fmt.Fprintf(ms.out, "\x1b[1A")
		}
	}
}
