package canbus

import (
	"sync"
)

// Mock is an in-memory Bus fed by tests or by the -mock run mode of the
// daemon. Frames are delivered in the order fed.
type Mock struct {
	mu     sync.Mutex
	frames []Frame
	errs   []error
	closed bool
}

// NewMock returns an empty mock bus.
func NewMock() *Mock {
	return &Mock{}
}

// Feed appends a frame to the pending set.
func (m *Mock) Feed(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.frames = append(m.frames, f)
	m.errs = append(m.errs, nil)
}

// FeedError injects a read error; the capture task sees it as one failed
// Read in arrival order.
func (m *Mock) FeedError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.frames = append(m.frames, Frame{})
	m.errs = append(m.errs, err)
}

func (m *Mock) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && len(m.frames) > 0
}

func (m *Mock) Read() (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Frame{}, ErrClosed
	}
	if len(m.frames) == 0 {
		return Frame{}, ErrBusRead
	}
	f, err := m.frames[0], m.errs[0]
	m.frames = m.frames[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.frames = nil
	m.errs = nil
	return nil
}
