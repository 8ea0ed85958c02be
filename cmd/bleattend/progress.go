package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a one-line countdown while a timed operation runs.
//
// Usage:
//
//	p := NewCountdownProgressPrinter(w, "Scanning for peripherals", 2*time.Second)
//	p.Start()
//	defer p.Stop()
//
// Stop must be called to release the goroutine. A ProgressPrinter is single-use.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration

	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewCountdownProgressPrinter(w io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *ProgressPrinter) Start() {
	p.once.Do(func() {
		start := time.Now()
		ticker := time.NewTicker(progressUpdateInterval)
		fmt.Fprintf(p.w, "\r%s...   ", p.prefix)

		go func() {
			defer close(p.done)
			defer ticker.Stop()
			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					remaining := p.duration - time.Since(start)
					// Round to the nearest second, never below zero
					seconds := 0
					if remaining > 0 {
						seconds = int(remaining.Seconds() + 0.5)
					}
					fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, seconds)
				}
			}
		}()
	})
}

// Stop clears the progress line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		started := true
		p.once.Do(func() { started = false })
		if started {
			<-p.done
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}
