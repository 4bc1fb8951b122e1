package scpi

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/scpitest"
	"github.com/stretchr/testify/require"
)

const testTimeout = 300 * time.Millisecond

func newTestInstrument(t *testing.T, opts ...scpitest.Option) *scpitest.Instrument {
	t.Helper()

	ins, err := scpitest.New(opts...)
	if err != nil {
		t.Fatalf("newTestInstrument: %v", err)
	}
	t.Cleanup(func() { _ = ins.Close() })

	return ins
}

// newTestClient creates a client for ins, connects it and registers cleanup.
func newTestClient(t *testing.T, ins *scpitest.Instrument, opts ...ClientOption) *Client {
	t.Helper()

	defaults := []ClientOption{
		WithPort(ins.Port()),
		WithTimeout(testTimeout),
	}

	cfg, err := NewClientConfig(ins.Host(), append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestClient: %v", err)
	}

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("newTestClient: %v", err)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("newTestClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

// freePort returns a loopback port nothing listens on.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port
}

func TestClient_ErrorFreePath(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Accept("*RST")
	ins.Reply("*IDN?", "ACME Instruments,DMM-1000,SN0042,1.2.3")

	c := newTestClient(t, ins)

	require.NoError(c.Send("*RST"))

	idn, err := c.Query("*IDN?")
	require.NoError(err)
	require.Equal("ACME Instruments,DMM-1000,SN0042,1.2.3", idn)

	require.Equal([]string{"*RST", ":SYSTem:ERRor?", "*IDN?", ":SYSTem:ERRor?"}, ins.Commands())
}

func TestClient_SendDrainsSingleError(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	c := newTestClient(t, ins)

	err := c.Send("BOGUS")
	require.Error(err)

	var scpiErr *Error
	require.ErrorAs(err, &scpiErr)
	require.Equal("BOGUS", scpiErr.Command)
	require.Equal([]string{scpitest.UndefinedHeaderError}, scpiErr.Errors)
	require.Contains(err.Error(), `-113,"Undefined header"`)
	require.Contains(err.Error(), "BOGUS")
	require.False(errors.Is(err, ErrTimeout))

	require.Equal(uint64(1), c.Metrics().InstrumentErrCount.Load())

	// the queue is empty again, the connection stays usable
	ins.Accept("*CLS")
	require.NoError(c.Send("*CLS"))
}

func TestClient_SendDrainsMultipleErrorsInOrder(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Handle("CONF:VOLT 99", func(string) []byte {
		ins.PushError(`-222,"Data out of range"`, `-221,"Settings conflict"`)
		return nil
	})

	c := newTestClient(t, ins)

	err := c.Send("CONF:VOLT 99\n")

	var scpiErr *Error
	require.ErrorAs(err, &scpiErr)
	require.Equal("CONF:VOLT 99", scpiErr.Command)
	require.Equal([]string{`-222,"Data out of range"`, `-221,"Settings conflict"`}, scpiErr.Errors)

	records := scpiErr.Records()
	require.Equal(-222, records[0].Code)
	require.Equal(-221, records[1].Code)

	require.Equal([]string{"CONF:VOLT 99", ":SYSTem:ERRor?", ":SYSTem:ERRor?", ":SYSTem:ERRor?"}, ins.Commands())
}

func TestClient_QueryDiscardsResponseOnError(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Handle("MEAS:VOLT?", func(string) []byte {
		ins.PushError(`-230,"Data corrupt or stale"`)
		return []byte("+9.9E+37\n")
	})

	c := newTestClient(t, ins)

	resp, err := c.Query("MEAS:VOLT?")
	require.Empty(resp)

	var scpiErr *Error
	require.ErrorAs(err, &scpiErr)
	require.Equal("MEAS:VOLT?", scpiErr.Command)
	require.Equal([]string{`-230,"Data corrupt or stale"`}, scpiErr.Errors)
}

func TestClient_ChunkedResponse(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t, scpitest.WithChunkedReplies(4, 2*time.Millisecond))
	data := strings.Repeat("+1.000000E-03,", 20) + "+1.000000E-03"
	ins.Reply("TRAC:DATA?", data)

	c := newTestClient(t, ins)

	resp, err := c.Query("TRAC:DATA?")
	require.NoError(err)
	require.Equal(data, resp)
}

func TestClient_CustomTerminator(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t,
		scpitest.WithTerminator("\r\n"),
		scpitest.WithChunkedReplies(3, time.Millisecond),
	)
	ins.Reply("OUTP?", "1")

	c := newTestClient(t, ins, WithTerminator("\r\n"))

	resp, err := c.Query("OUTP?\r\n")
	require.NoError(err)
	require.Equal("1", resp)
	require.Equal([]string{"OUTP?", ":SYSTem:ERRor?"}, ins.Commands())
}

func TestClient_ReceiveAfterRawSend(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Reply("*OPC?", "1")

	c := newTestClient(t, ins)

	require.NoError(c.RawSend("*OPC?"))
	resp, err := c.Receive()
	require.NoError(err)
	require.Equal("1", resp)

	// no error query was issued
	require.Equal([]string{"*OPC?"}, ins.Commands())
}

func TestClient_RawQueryDoesNotDrain(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Handle("SYST:VERS?", func(string) []byte {
		ins.PushError(`-410,"Query INTERRUPTED"`)
		return []byte("1999.0\n")
	})

	c := newTestClient(t, ins)

	resp, err := c.RawQuery("SYST:VERS?")
	require.NoError(err)
	require.Equal("1999.0", resp)

	errs, err := c.DrainErrors()
	require.NoError(err)
	require.Equal([]string{`-410,"Query INTERRUPTED"`}, errs)

	errs, err = c.DrainErrors()
	require.NoError(err)
	require.Empty(errs)
}

func TestClient_ErrorCheckDisabled(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	c := newTestClient(t, ins, WithErrorCheck(false))

	require.NoError(c.Send("BOGUS"))

	// the drain reply orders the instrument's view after the unanswered send
	errs, err := c.DrainErrors()
	require.NoError(err)
	require.Equal([]string{scpitest.UndefinedHeaderError}, errs)
	require.Equal([]string{"BOGUS", ":SYSTem:ERRor?", ":SYSTem:ERRor?"}, ins.Commands())
}

func TestClient_ReceiveTimeout(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	c := newTestClient(t, ins)

	start := time.Now()
	resp, err := c.Receive()
	require.Empty(resp)
	require.ErrorIs(err, ErrTimeout)
	require.Less(time.Since(start), 5*testTimeout)
	require.Equal(uint64(1), c.Metrics().TimeoutCount.Load())
}

func TestClient_QueryTimeoutWithoutTerminator(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Handle("FETC?", func(string) []byte { return []byte("+1.2345") })

	c := newTestClient(t, ins)

	resp, err := c.Query("FETC?")
	require.Empty(resp)
	require.ErrorIs(err, ErrTimeout)

	var scpiErr *Error
	require.False(errors.As(err, &scpiErr))
}

// TestClient_DrainTimeout covers an instrument that doesn't answer the configured error query:
// the drain ends with the read timeout, reported as a timeout rather than an empty error list.
func TestClient_QueryExceedsMaxFrameSize(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t, scpitest.WithChunkedReplies(4, 0))
	ins.Reply("TRAC:DATA?", "1,2,3,4,5,6,7,8,9")

	c := newTestClient(t, ins, WithMaxFrameSize(8))

	resp, err := c.Query("TRAC:DATA?")
	require.Empty(resp)
	require.ErrorIs(err, ErrRead)
	require.NotErrorIs(err, ErrTimeout)
}

func TestClient_DrainTimeout(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t, scpitest.WithErrorQuery("SYST:ERR?"))
	ins.Accept("*RST")

	c := newTestClient(t, ins)

	err := c.Send("*RST")
	require.ErrorIs(err, ErrTimeout)
	require.Contains(err.Error(), `drain error queue after "*RST"`)

	var scpiErr *Error
	require.False(errors.As(err, &scpiErr))
}

// TestClient_DrainOverflow covers a sentinel mismatch: the instrument answers every poll, never
// with the configured sentinel.
func TestClient_DrainOverflow(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Accept("*RST")

	c := newTestClient(t, ins,
		WithNoErrorSentinel(`+0,"No error"`),
		WithMaxErrorDrain(5),
	)

	err := c.Send("*RST")
	require.ErrorIs(err, ErrErrorQueueOverflow)
	require.Contains(err.Error(), "5 entries read")
	require.Len(ins.Commands(), 6)
}

func TestClient_CustomErrorQuery(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t,
		scpitest.WithErrorQuery("SYST:ERR?"),
		scpitest.WithNoErrorSentinel(`+0,"No error"`),
	)
	ins.Accept("*RST")

	c := newTestClient(t, ins,
		WithErrorQueryCommand("SYST:ERR?"),
		WithNoErrorSentinel(`+0,"No error"`),
	)

	require.NoError(c.Send("*RST"))
	require.Equal([]string{"*RST", "SYST:ERR?"}, ins.Commands())
}

func TestClient_TerminatorIdempotence(t *testing.T) {
	require := require.New(t)

	cfg, err := NewClientConfig("127.0.0.1")
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	local, remote := net.Pipe()
	defer remote.Close()
	c.conn = local
	defer c.Close()

	for _, cmd := range []string{"*RST", "*RST\n"} {
		errCh := make(chan error, 1)
		go func() { errCh <- c.RawSend(cmd) }()

		buf := make([]byte, 16)
		n, err := remote.Read(buf)
		require.NoError(err)
		require.Equal("*RST\n", string(buf[:n]), "command %q", cmd)
		require.NoError(<-errCh)
	}
}

func TestClient_InvalidCommand(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	c := newTestClient(t, ins)

	err := c.Send("*RST\n*CLS")
	require.ErrorIs(err, ErrInvalidCommand)

	_, err = c.Query("*IDN?\n\n")
	require.ErrorIs(err, ErrInvalidCommand)

	require.NoError(c.Close())
	_, err = c.Query("*IDN?")
	require.ErrorIs(err, ErrNotConnected)

	require.Zero(c.Metrics().CommandSendCount.Load())
	require.Zero(c.Metrics().QueryCount.Load())
}

func TestClient_Lifecycle(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)

	cfg, err := NewClientConfig(ins.Host(), WithPort(ins.Port()), WithTimeout(testTimeout))
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	// close before connect
	require.False(c.IsConnected())
	require.NoError(c.Close())

	require.ErrorIs(c.Send("*RST"), ErrNotConnected)
	_, err = c.Query("*IDN?")
	require.ErrorIs(err, ErrNotConnected)
	_, err = c.Receive()
	require.ErrorIs(err, ErrNotConnected)
	_, err = c.DrainErrors()
	require.ErrorIs(err, ErrNotConnected)

	require.NoError(c.Connect())
	require.True(c.IsConnected())
	require.Equal(uint32(1), c.Metrics().ConnectCount.Load())

	require.NoError(c.Close())
	require.False(c.IsConnected())
	require.NoError(c.Close())

	require.ErrorIs(c.Send("*RST"), ErrNotConnected)
}

func TestClient_ConnectRefused(t *testing.T) {
	require := require.New(t)

	cfg, err := NewClientConfig("127.0.0.1", WithPort(freePort(t)), WithTimeout(testTimeout))
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	err = c.Connect()
	require.ErrorIs(err, ErrConnection)
	require.False(c.IsConnected())
}

func TestClient_ConnectUnresolvable(t *testing.T) {
	require := require.New(t)

	_, err := Dial("instrument.invalid", WithTimeout(testTimeout))
	require.ErrorIs(err, ErrConnection)
}

func TestClient_Dial(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Reply("*IDN?", "ACME")

	c, err := Dial(ins.Host(), WithPort(ins.Port()), WithTimeout(testTimeout))
	require.NoError(err)
	defer c.Close()

	idn, err := c.Query("*IDN?")
	require.NoError(err)
	require.Equal("ACME", idn)

	_, err = Dial("")
	require.EqualError(err, "host is empty")
}

func TestClient_Do(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Reply("*IDN?", "ACME")

	cfg, err := NewClientConfig(ins.Host(), WithPort(ins.Port()), WithTimeout(testTimeout))
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	t.Run("Success", func(t *testing.T) {
		var idn string
		err := c.Do(func(c *Client) error {
			require.True(c.IsConnected())
			var err error
			idn, err = c.Query("*IDN?")
			return err
		})
		require.NoError(err)
		require.Equal("ACME", idn)
		require.False(c.IsConnected())
	})

	t.Run("Error", func(t *testing.T) {
		err := c.Do(func(c *Client) error {
			return c.Send("BOGUS")
		})
		var scpiErr *Error
		require.ErrorAs(err, &scpiErr)
		require.False(c.IsConnected())
	})

	t.Run("Panic", func(t *testing.T) {
		require.Panics(func() {
			_ = c.Do(func(*Client) error {
				panic("boom")
			})
		})
		require.False(c.IsConnected())
	})

	t.Run("Connect Failure", func(t *testing.T) {
		cfg, err := NewClientConfig("127.0.0.1", WithPort(freePort(t)), WithTimeout(testTimeout))
		require.NoError(err)
		bad, err := NewClient(cfg)
		require.NoError(err)

		called := false
		err = bad.Do(func(*Client) error {
			called = true
			return nil
		})
		require.ErrorIs(err, ErrConnection)
		require.False(called)
	})
}

func TestClient_PeerClosed(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Accept("*RST")
	c := newTestClient(t, ins)

	// a full round trip guarantees the instrument is serving this connection
	require.NoError(c.Send("*RST"))
	require.NoError(ins.Close())

	_, err := c.Receive()
	require.ErrorIs(err, ErrConnClosed)
	require.True(c.IsConnected())
}

func TestClient_Metrics(t *testing.T) {
	require := require.New(t)

	ins := newTestInstrument(t)
	ins.Accept("*RST")
	ins.Reply("*IDN?", "ACME")

	c := newTestClient(t, ins)

	require.NoError(c.Send("*RST"))
	_, err := c.Query("*IDN?")
	require.NoError(err)
	require.Error(c.Send("BOGUS"))

	m := c.Metrics()
	// *RST, poll, *IDN?, poll, BOGUS, poll, poll
	require.Equal(uint64(7), m.CommandSendCount.Load())
	require.Equal(uint64(5), m.ResponseRecvCount.Load())
	require.Equal(uint64(1), m.QueryCount.Load())
	require.Equal(uint64(1), m.InstrumentErrCount.Load())
	require.Zero(m.TimeoutCount.Load())

	sent := len("*RST\n") + len("*IDN?\n") + len("BOGUS\n") + 4*len(":SYSTem:ERRor?\n")
	require.Equal(uint64(sent), m.BytesSent.Load())
}

func TestClient_LogsRawTraffic(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	l.On("Debug", "scpi: send", "data", `"*IDN?\n"`).Return().Once()
	l.On("Debug", "scpi: recv", "data", `"ACME\n"`).Return().Once()

	cfg, err := NewClientConfig("127.0.0.1", WithLogger(l))
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	c.conn = local

	go func() {
		buf := make([]byte, 16)
		if _, err := remote.Read(buf); err != nil {
			return
		}
		_, _ = io.WriteString(remote, "ACME\n")
	}()

	resp, err := c.RawQuery("*IDN?")
	require.NoError(err)
	require.Equal("ACME", resp)

	l.AssertExpectations(t)
}

func TestClient_String(t *testing.T) {
	require := require.New(t)

	cfg, err := NewClientConfig("10.1.2.3", WithTimeout(2*time.Second))
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	require.Equal(`scpi.Client(host="10.1.2.3", port=5025, timeout=2s, terminator="\n")`, c.String())
	require.Same(cfg, c.Config())
}
