// Package elmtest provides a scripted, in-memory ByteTransport for
// deterministic testing of the AdapterController and its callers without
// a real adapter or OS handle.
package elmtest

import (
	"strings"
	"sync"
	"time"

	"github.com/obdkit/elm327"
)

// MockTransport is a programmable elm327.ByteTransport. It holds a
// mapping from command strings (stripped of their trailing \r) to
// scripted reply strings, and a per-command call count. Write records
// the call and enqueues the scripted reply's bytes for the next Read; it
// returns an error on an unscripted command rather than a silent empty
// reply, since that almost always means a test author forgot to wire it.
type MockTransport struct {
	mu        sync.Mutex
	scripts   map[string]string
	callCount map[string]int
	rx        []byte
}

// New returns a MockTransport scripted with the given command->reply
// mapping. The mapping must include every ELM327 init line and every
// UDS/OBD-II request line under test.
func New(scripts map[string]string) *MockTransport {
	m := &MockTransport{
		scripts:   make(map[string]string, len(scripts)),
		callCount: make(map[string]int),
	}
	for k, v := range scripts {
		m.scripts[k] = v
	}
	return m
}

// CallCount reports how many times cmd (without its trailing \r) was
// written.
func (m *MockTransport) CallCount(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[cmd]
}

func (m *MockTransport) Open() error  { return nil }
func (m *MockTransport) Close() error { return nil }

func (m *MockTransport) Write(data []byte) (int, error) {
	cmd := strings.TrimRight(string(data), "\r")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[cmd]++

	reply, ok := m.scripts[cmd]
	if !ok {
		return 0, elm327.WrapTransportWrite("unscripted command "+cmd, nil)
	}
	m.rx = append(m.rx, []byte(reply)...)
	return len(data), nil
}

func (m *MockTransport) Read(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == 0 {
		return 0, elm327.ErrTransportTimeout
	}
	n := copy(buf, m.rx)
	m.rx = m.rx[n:]
	return n, nil
}

func (m *MockTransport) ReadUntil(terminator byte, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, b := range m.rx {
		if b == terminator {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, elm327.ErrTransportTimeout
	}
	out := append([]byte(nil), m.rx[:idx+1]...)
	m.rx = m.rx[idx+1:]
	return out, nil
}

func (m *MockTransport) FlushInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = nil
	return nil
}

func (m *MockTransport) FlushOutput() error { return nil }

// NeedsDelays is always false: the mock has no settling time to model.
func (m *MockTransport) NeedsDelays() bool { return false }

var _ elm327.ByteTransport = (*MockTransport)(nil)
