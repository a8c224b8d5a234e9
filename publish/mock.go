package publish

import "fmt"

// MockMessage is one captured publish call.
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// MockSink captures published messages in order. Test helper.
type MockSink struct {
	Messages []MockMessage

	// FailPublishes forces Publish to fail.
	FailPublishes bool
	Closed        bool
}

// NewMockSink creates an empty capturing sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Publish(topic, key string, value []byte) error {
	if m.FailPublishes {
		return fmt.Errorf("mock sink: publish failure injected")
	}
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockSink) Close() error {
	m.Closed = true
	return nil
}
