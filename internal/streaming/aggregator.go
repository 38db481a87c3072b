// Package streaming wraps a provider stream so the gateway can relay
// fragments to the caller while accumulating the full text and token
// usage for the terminal call log entry.
package streaming

import (
	"io"
	"strings"
	"sync"
	"time"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// FinishFunc receives the single terminal summary of a stream. It runs
// exactly once per aggregator, whether the stream completed, failed
// mid-flight, or was abandoned by the caller.
type FinishFunc func(status types.CallStatus, text string, usage types.Usage, errMsg string, elapsed time.Duration)

// Aggregator relays events from an underlying stream and keeps the
// running aggregate. It is not safe for concurrent Recv calls, matching
// the single-consumer contract of provider streams.
type Aggregator struct {
	inner  provider.Stream
	finish FinishFunc
	start  time.Time

	text  strings.Builder
	usage types.Usage

	once sync.Once
	done bool
}

// NewAggregator wraps a stream. finish may be nil.
func NewAggregator(inner provider.Stream, finish FinishFunc) *Aggregator {
	return &Aggregator{inner: inner, finish: finish, start: time.Now()}
}

// Recv returns the next event, mirroring the inner stream. Content and
// usage are accumulated as they pass through; the terminal event triggers
// the finish callback before it is returned. After a terminal event Recv
// returns io.EOF.
func (a *Aggregator) Recv() (*types.StreamEvent, error) {
	if a.done {
		return nil, io.EOF
	}

	ev, err := a.inner.Recv()
	if err != nil {
		a.done = true
		if err == io.EOF {
			// Inner stream ended without a terminal event: treat as done.
			a.complete(types.CallSuccess, "")
			return nil, io.EOF
		}
		gwErr := gwerrors.From(err, "", "")
		status := types.CallFailed
		if gwErr.Type == gwerrors.TypeCancelled {
			status = types.CallCancelled
		}
		a.complete(status, gwErr.Error())
		return nil, err
	}

	switch ev.Type {
	case types.EventContent:
		a.text.WriteString(ev.Content)
	case types.EventUsage:
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
	case types.EventDone:
		a.done = true
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
		a.complete(types.CallSuccess, "")
	case types.EventError:
		a.done = true
		status := types.CallFailed
		if ev.ErrorType == gwerrors.TypeCancelled {
			status = types.CallCancelled
		} else if ev.ErrorType == gwerrors.TypeTimeout {
			status = types.CallTimeout
		}
		a.complete(status, ev.ErrorMessage)
	}
	return ev, nil
}

// Close abandons the stream. If no terminal event was seen, the partial
// aggregate is committed as cancelled.
func (a *Aggregator) Close() error {
	if !a.done {
		a.done = true
		a.complete(types.CallCancelled, "stream closed before completion")
	}
	return a.inner.Close()
}

// Text returns the content accumulated so far.
func (a *Aggregator) Text() string { return a.text.String() }

// Usage returns the latest usage snapshot.
func (a *Aggregator) Usage() types.Usage { return a.usage }

func (a *Aggregator) complete(status types.CallStatus, errMsg string) {
	a.once.Do(func() {
		if a.finish != nil {
			a.finish(status, a.text.String(), a.usage, errMsg, time.Since(a.start))
		}
	})
}
