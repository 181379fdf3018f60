package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/ingestd/internal/observe"
)

// fragment is a pushed (text, transcript id) pair.
type fragment struct {
	text string
	tid  TranscriptId
}

// TextCoalescer converts a stream of finalized transcript fragments into
// a controlled stream of "process now" triggers: a bounded queue drained
// by one loop that accumulates words until wordThreshold is reached or
// window elapses with at least one fragment buffered.
type TextCoalescer struct {
	wordThreshold int
	window        time.Duration
	handler       func(latest TranscriptId) error

	in chan fragment
}

// NewTextCoalescer constructs a coalescer with the given thresholds
// (defaults: W=100 words, T=60s) and flush handler.
func NewTextCoalescer(wordThreshold int, window time.Duration, handler func(TranscriptId) error) *TextCoalescer {
	if wordThreshold <= 0 {
		wordThreshold = 100
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &TextCoalescer{
		wordThreshold: wordThreshold,
		window:        window,
		handler:       handler,
		in:            make(chan fragment, 256),
	}
}

// Push enqueues a finalized fragment. Safe to call from any goroutine;
// blocks if the internal queue (256 capacity) is full.
func (c *TextCoalescer) Push(text string, tid TranscriptId) {
	c.in <- fragment{text: text, tid: tid}
}

// Close signals producer close. After Close, Run performs one final
// flush if any fragment is buffered, then returns.
func (c *TextCoalescer) Close() { close(c.in) }

// Run is the consumer loop, intended to run for the lifetime of the
// session inside its task scope. It returns when the producer side is
// closed (via Close) or ctx is cancelled.
//
// Mirrors TextCoalescer.run: a timeout-bounded inner loop that
// accumulates words and flushes on threshold or on a timeout with a
// non-empty buffer; an empty timeout (nothing buffered) just keeps
// waiting.
func (c *TextCoalescer) Run(ctx context.Context) {
	var (
		wordCount int
		latest    TranscriptId
		haveLatest bool
	)

	flush := func(trigger string) {
		if wordCount == 0 || !haveLatest {
			return
		}
		_ = c.handler(latest)
		observe.DefaultMetrics().RecordCoalescerFlush(ctx, trigger)
		wordCount = 0
		haveLatest = false
	}

	timer := time.NewTimer(c.window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-c.in:
			if !ok {
				flush("close")
				return
			}
			wordCount += countWords(f.text)
			latest = f.tid
			haveLatest = true

			if wordCount >= c.wordThreshold {
				flush("word_threshold")
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(c.window)
			}

		case <-timer.C:
			if haveLatest {
				flush("window_timeout")
			}
			timer.Reset(c.window)
		}
	}
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
