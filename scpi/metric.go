package scpi

import (
	"sync/atomic"
)

// ClientMetrics contains atomic metrics for a client.
// Metrics can be read from any goroutine, e.g. as the value of a prometheus CounterFunc.
type ClientMetrics struct {
	// CommandSendCount indicates the number of command lines written, error queue polls included.
	CommandSendCount atomic.Uint64
	// ResponseRecvCount indicates the number of complete responses received.
	ResponseRecvCount atomic.Uint64
	// QueryCount indicates the number of public Query calls.
	QueryCount atomic.Uint64
	// InstrumentErrCount indicates the number of error queue entries drained.
	InstrumentErrCount atomic.Uint64
	// TimeoutCount indicates the number of connect, read and write timeouts.
	TimeoutCount atomic.Uint64

	// BytesSent indicates the number of bytes written to the instrument.
	BytesSent atomic.Uint64
	// BytesRecv indicates the number of bytes read from the instrument.
	BytesRecv atomic.Uint64

	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint32
}

func (m *ClientMetrics) incCommandSendCount(bytes int) {
	m.CommandSendCount.Add(1)
	m.BytesSent.Add(uint64(bytes))
}

func (m *ClientMetrics) incResponseRecvCount(bytes int) {
	m.ResponseRecvCount.Add(1)
	m.BytesRecv.Add(uint64(bytes))
}

func (m *ClientMetrics) incQueryCount() {
	m.QueryCount.Add(1)
}

func (m *ClientMetrics) addInstrumentErrCount(n int) {
	m.InstrumentErrCount.Add(uint64(n))
}

func (m *ClientMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ClientMetrics) incConnectCount() {
	m.ConnectCount.Add(1)
}
