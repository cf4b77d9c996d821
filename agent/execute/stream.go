package execute

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/chronomap/chronomap/agent/contract"
	planx "github.com/chronomap/chronomap/agent/plan"
)

// Stream is the live delivery side of an incremental graph run. Fragments
// are pushed through an unbuffered channel, so the first fragment reaches
// the caller as soon as the adapter produces it; the only extra copy kept
// is the running concatenation needed for cache write-back.
type Stream struct {
	fragments chan string
	done      chan struct{}

	outcome *Outcome
	text    strings.Builder
}

// Fragments is the fragment sequence. The channel closes when the graph
// reaches its terminal state; closure is the explicit end marker.
func (s *Stream) Fragments() <-chan string {
	return s.fragments
}

// Outcome blocks until the graph is terminal and returns its result.
func (s *Stream) Outcome() *Outcome {
	<-s.done
	return s.outcome
}

// Text blocks until the graph is terminal and returns the concatenation of
// every delivered fragment.
func (s *Stream) Text() string {
	<-s.done
	return s.text.String()
}

// ExecuteStream runs an incremental graph. It returns immediately; the
// graph runs in the background while the caller drains Fragments. A
// cancelled ctx stops fragment delivery and releases the adapter call. An
// exhausted generation attempt yields an empty, immediately completed
// stream rather than an error — the outcome records the task failure.
func (e *Executor) ExecuteStream(ctx context.Context, g *planx.Graph) (*Stream, error) {
	if err := e.check(g); err != nil {
		return nil, err
	}
	if _, incremental := g.IncrementalTask(); !incremental {
		return nil, fmt.Errorf("%w: graph %q has no incremental task", contractx.ErrConstruction, g.Goal)
	}

	s := &Stream{
		fragments: make(chan string),
		done:      make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.fragments)

		emit := func(fragment string) error {
			select {
			case s.fragments <- fragment:
				s.text.WriteString(fragment)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.outcome = e.run(ctx, g, emit)
	}()

	return s, nil
}
