package engine

import (
	"context"

	"github.com/chronomap/chronomap/agent/execute"
)

// Narration is a streamed piece of text: an explanation or an answer.
// Fragments arrive in order; channel close is the end marker. Wait and
// Text block until delivery finishes.
type Narration struct {
	fragments chan string
	done      chan struct{}
	err       error
	text      string
	cached    bool
}

func (n *Narration) Fragments() <-chan string { return n.fragments }

// Cached reports whether the text was replayed from memory.
func (n *Narration) Cached() bool { return n.cached }

// Wait blocks until the narration finishes and returns its error, if any.
func (n *Narration) Wait() error {
	<-n.done
	return n.err
}

// Text blocks until the narration finishes and returns the full text.
func (n *Narration) Text() string {
	<-n.done
	return n.text
}

// replayNarration delivers already-known text as a single fragment.
func replayNarration(text string) *Narration {
	n := &Narration{
		fragments: make(chan string, 1),
		done:      make(chan struct{}),
		text:      text,
		cached:    true,
	}
	n.fragments <- text
	close(n.fragments)
	close(n.done)
	return n
}

// pipeNarration relays an execution stream. onSuccess runs once with the
// full text when the streaming task completed cleanly.
func pipeNarration(ctx context.Context, stream *execute.Stream, task string, onSuccess func(text string)) *Narration {
	n := &Narration{
		fragments: make(chan string),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(n.done)
		defer close(n.fragments)

		for fragment := range stream.Fragments() {
			select {
			case n.fragments <- fragment:
			case <-ctx.Done():
				// Keep draining so the executor goroutine can finish.
			}
		}

		out := stream.Outcome()
		n.text = stream.Text()
		n.err = out.Err(task)
		if n.err == nil && ctx.Err() == nil && n.text != "" && onSuccess != nil {
			onSuccess(n.text)
		}
	}()
	return n
}
