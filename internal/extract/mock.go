package extract

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scriptable Client for tests. Outcomes are keyed by page
// number; unscripted pages succeed with no items.
type MockClient struct {
	mu sync.Mutex

	results map[int]*Result
	errs    map[int]error
	calls   map[int]int
}

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{
		results: make(map[int]*Result),
		errs:    make(map[int]error),
		calls:   make(map[int]int),
	}
}

// SetResult scripts a successful extraction for a page.
func (m *MockClient) SetResult(page int, items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[page] = &Result{Items: items, Raw: fmt.Sprintf(`{"items":%d}`, len(items))}
}

// SetError scripts a failure for a page.
func (m *MockClient) SetError(page int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[page] = err
}

// Calls reports how many times a page was extracted.
func (m *MockClient) Calls(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[page]
}

// ExtractPage implements Client.
func (m *MockClient) ExtractPage(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[req.PageNumber]++

	if err, ok := m.errs[req.PageNumber]; ok {
		return nil, err
	}
	if res, ok := m.results[req.PageNumber]; ok {
		return res, nil
	}
	return &Result{Raw: `{"items":[]}`}, nil
}
