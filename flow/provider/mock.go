package provider

import (
	"context"
	"sync"
)

// MockTransform is a test implementation of TransformProvider.
//
// It returns configured responses in order (repeating the last one when
// consumed), optionally failing a fixed number of times first, and records
// every call so tests can assert call counts, in particular that a unit
// with a stored artifact causes zero provider calls.
type MockTransform struct {
	// Responses is the sequence of transformed payloads to return.
	Responses []string

	// Err, if set, is returned by every call.
	Err error

	// FailFirst makes the first N calls return FailErr before the mock
	// starts succeeding. Used to exercise retry behavior.
	FailFirst int
	FailErr   error

	// Calls records every request received.
	Calls []TransformRequest

	mu    sync.Mutex
	index int
	fails int
}

// Transform implements TransformProvider.
func (m *MockTransform) Transform(ctx context.Context, req TransformRequest) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.Err != nil {
		return "", m.Err
	}
	if m.fails < m.FailFirst {
		m.fails++
		return "", m.FailErr
	}
	if len(m.Responses) == 0 {
		// Echo the payload so pipeline tests can run without canned
		// responses.
		return req.Payload, nil
	}

	idx := m.index
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.index++
	}
	return m.Responses[idx], nil
}

// Name implements TransformProvider.
func (m *MockTransform) Name() string { return "mock-transform" }

// CallCount returns how many times Transform was invoked.
func (m *MockTransform) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears call history and response progress.
func (m *MockTransform) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.index = 0
	m.fails = 0
}

// MockValidator is a test implementation of Validator. It returns
// configured reports in order, repeating the last one.
type MockValidator struct {
	Reports []Report
	Err     error

	// Calls records the (original, transformed) pairs received.
	Calls [][2]string

	mu    sync.Mutex
	index int
}

// Validate implements Validator.
func (m *MockValidator) Validate(ctx context.Context, original, transformed string) (Report, error) {
	if ctx.Err() != nil {
		return Report{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, [2]string{original, transformed})

	if m.Err != nil {
		return Report{}, m.Err
	}
	if len(m.Reports) == 0 {
		return Report{Fidelity: 100, Readability: 8.0}, nil
	}

	idx := m.index
	if idx >= len(m.Reports) {
		idx = len(m.Reports) - 1
	} else {
		m.index++
	}
	return m.Reports[idx], nil
}

// Name implements Validator.
func (m *MockValidator) Name() string { return "mock-validator" }

// CallCount returns how many times Validate was invoked.
func (m *MockValidator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
