package radio

import "sync"

// Memory is an in-process Transport. Injected messages are returned by
// Receive in order; sent content is recorded.
type Memory struct {
	mu      sync.Mutex
	inbox   []Message
	sent    [][]byte
	sendErr error
}

func NewMemory() *Memory {
	return &Memory{}
}

// Inject queues messages for Receive.
func (m *Memory) Inject(msgs ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, msgs...)
}

func (m *Memory) Receive() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return Message{}, false
	}
	msg := m.inbox[0]
	m.inbox = m.inbox[1:]
	return msg, true
}

// Send records content. When a send error is set the content is still
// recorded as an attempt and the error is returned.
func (m *Memory) Send(content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), content...))
	return m.sendErr
}

// FailSends makes every following Send return err (nil restores success).
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns copies of every sent payload, oldest first.
func (m *Memory) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, s := range m.sent {
		out[i] = append([]byte(nil), s...)
	}
	return out
}
