package mqtt

import (
	"context"
	"sync"
)

// Message is a payload captured by MockClient
type Message struct {
	Topic   string
	Payload []byte
}

// MockClient is an in-memory Client for tests and dry runs
type MockClient struct {
	mu         sync.Mutex
	connected  bool
	messages   []Message
	ConnectErr error
	PublishErr error
}

// NewMockClient returns a disconnected mock
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *MockClient) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.messages = append(m.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Messages returns a copy of everything published so far
func (m *MockClient) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Topics lists the topics of published messages in order
func (m *MockClient) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, len(m.messages))
	for i, msg := range m.messages {
		topics[i] = msg.Topic
	}
	return topics
}
