package streaming

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// queueStream replays a fixed event sequence.
type queueStream struct {
	events []*types.StreamEvent
	closed bool
}

func (s *queueStream) Recv() (*types.StreamEvent, error) {
	if len(s.events) == 0 {
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *queueStream) Close() error {
	s.closed = true
	return nil
}

type finishCapture struct {
	calls  int
	status types.CallStatus
	text   string
	usage  types.Usage
	errMsg string
}

func (f *finishCapture) fn(status types.CallStatus, text string, usage types.Usage, errMsg string, _ time.Duration) {
	f.calls++
	f.status = status
	f.text = text
	f.usage = usage
	f.errMsg = errMsg
}

func drain(t *testing.T, agg *Aggregator) []*types.StreamEvent {
	t.Helper()
	var events []*types.StreamEvent
	for {
		ev, err := agg.Recv()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
		if ev.Terminal() {
			return events
		}
	}
}

func TestAggregatorAccumulatesContentAndUsage(t *testing.T) {
	inner := &queueStream{events: []*types.StreamEvent{
		{Type: types.EventContent, Content: "Hello"},
		{Type: types.EventContent, Content: ", "},
		{Type: types.EventContent, Content: "world"},
		{Type: types.EventDone, Usage: &types.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}},
	}}
	capture := &finishCapture{}
	agg := NewAggregator(inner, capture.fn)

	events := drain(t, agg)
	assert.Len(t, events, 4)
	assert.Equal(t, "Hello, world", agg.Text())

	assert.Equal(t, 1, capture.calls)
	assert.Equal(t, types.CallSuccess, capture.status)
	assert.Equal(t, "Hello, world", capture.text)
	assert.Equal(t, 8, capture.usage.TotalTokens)
}

func TestAggregatorRelaysEventsUnchanged(t *testing.T) {
	inner := &queueStream{events: []*types.StreamEvent{
		{Type: types.EventContent, Content: "chunk"},
		{Type: types.EventDone},
	}}
	agg := NewAggregator(inner, nil)

	ev, err := agg.Recv()
	require.NoError(t, err)
	assert.Equal(t, "chunk", ev.Content)

	ev, err = agg.Recv()
	require.NoError(t, err)
	assert.Equal(t, types.EventDone, ev.Type)

	_, err = agg.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestAggregatorErrorEventRecordsFailure(t *testing.T) {
	inner := &queueStream{events: []*types.StreamEvent{
		{Type: types.EventContent, Content: "partial"},
		{Type: types.EventError, ErrorMessage: "connection reset", ErrorType: "network_error"},
	}}
	capture := &finishCapture{}
	agg := NewAggregator(inner, capture.fn)

	drain(t, agg)
	assert.Equal(t, 1, capture.calls)
	assert.Equal(t, types.CallFailed, capture.status)
	assert.Equal(t, "partial", capture.text, "partial content is preserved for the record")
	assert.Equal(t, "connection reset", capture.errMsg)
}

func TestAggregatorCloseBeforeTerminalIsCancelled(t *testing.T) {
	inner := &queueStream{events: []*types.StreamEvent{
		{Type: types.EventContent, Content: "partial"},
		{Type: types.EventContent, Content: " answer"},
		{Type: types.EventDone},
	}}
	capture := &finishCapture{}
	agg := NewAggregator(inner, capture.fn)

	ev, err := agg.Recv()
	require.NoError(t, err)
	require.Equal(t, "partial", ev.Content)

	require.NoError(t, agg.Close())
	assert.True(t, inner.closed)

	assert.Equal(t, 1, capture.calls)
	assert.Equal(t, types.CallCancelled, capture.status)
	assert.Equal(t, "partial", capture.text)
}

func TestAggregatorFinishRunsExactlyOnce(t *testing.T) {
	inner := &queueStream{events: []*types.StreamEvent{
		{Type: types.EventDone},
	}}
	capture := &finishCapture{}
	agg := NewAggregator(inner, capture.fn)

	drain(t, agg)
	require.NoError(t, agg.Close())
	require.NoError(t, agg.Close())

	assert.Equal(t, 1, capture.calls)
}

func TestAggregatorMidStreamUsageIsKept(t *testing.T) {
	inner := &queueStream{events: []*types.StreamEvent{
		{Type: types.EventContent, Content: "x"},
		{Type: types.EventUsage, Usage: &types.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3}},
		{Type: types.EventDone},
	}}
	capture := &finishCapture{}
	agg := NewAggregator(inner, capture.fn)

	drain(t, agg)
	assert.Equal(t, 3, capture.usage.TotalTokens)
}
