package provider

import (
	"context"
	"sync"
)

// Mock is a scripted Provider for tests. Responses are returned in the
// order queued; when the script runs out the last response repeats.
type Mock struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     []Request
	index     int
}

// NewMock creates an empty mock provider.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

// Queue appends a scripted response.
func (m *Mock) Queue(resp *Response) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
	return m
}

// QueueText is shorthand for queueing a plain text response.
func (m *Mock) QueueText(content string) *Mock {
	return m.Queue(&Response{
		Content:      content,
		FinishReason: "stop",
		Usage:        Usage{InputTokens: 10, OutputTokens: 5},
	})
}

// QueueError appends a scripted failure.
func (m *Mock) QueueError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
	return m
}

// Complete implements Provider.
func (m *Mock) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.responses) == 0 {
		return &Response{Content: "ok", FinishReason: "stop"}, nil
	}
	i := m.index
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	} else {
		m.index++
	}
	if m.errs[i] != nil {
		return nil, m.errs[i]
	}
	resp := *m.responses[i]
	return &resp, nil
}

// Calls returns a copy of every request seen so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
