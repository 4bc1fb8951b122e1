package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger records log calls for assertions in tests.
//
// The message and the key-value pairs are passed to mock.Called as a flat argument list, so
// expectations read like the log site itself:
//
//	m.On("Debug", "scpi: send", "data", `"*RST\n"`).Return()
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(flatten(msg, keysAndValues)...)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(flatten(msg, keysAndValues)...)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(flatten(msg, keysAndValues)...)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(flatten(msg, keysAndValues)...)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(flatten(msg, keysAndValues)...)
}

func (m *MockLogger) SetLevel(level LogLevel) {
	m.Called(level)
}

func (m *MockLogger) Level() LogLevel {
	args := m.Called()
	return args.Get(0).(LogLevel)
}

func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues...)
	return args.Get(0).(Logger)
}

func flatten(msg string, keysAndValues []any) []any {
	args := make([]any, 0, len(keysAndValues)+1)
	args = append(args, msg)
	return append(args, keysAndValues...)
}
