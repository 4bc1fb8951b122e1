// Package scpitest provides a scriptable fake SCPI instrument listening on a loopback TCP port,
// for testing code built on the scpi package without hardware.
//
// The instrument answers the error query from its own error queue, pushes
// -113,"Undefined header" for every command without a handler, and can split its replies into
// several writes to exercise response framing.
package scpitest

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-scpi/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// UndefinedHeaderError is queued for commands the instrument has no handler for.
	UndefinedHeaderError = `-113,"Undefined header"`

	defaultChunkDelay = 5 * time.Millisecond
)

// Responder produces the raw bytes written back for a received command, terminator included.
// A nil result sends nothing.
type Responder func(cmd string) []byte

// Instrument is a fake SCPI instrument. It accepts any number of connections and serves each one
// sequentially, one command line at a time.
type Instrument struct {
	ln     net.Listener
	logger logger.Logger

	terminator []byte
	errorQuery string
	sentinel   string
	chunkSize  int
	chunkDelay time.Duration

	handlers *xsync.MapOf[string, Responder]
	conns    *xsync.MapOf[net.Conn, struct{}]

	mu       sync.Mutex
	errQueue []string
	commands []string

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Option configures an Instrument.
type Option func(*Instrument)

// WithTerminator sets the line terminator. Defaults to "\n".
func WithTerminator(term string) Option {
	return func(ins *Instrument) { ins.terminator = []byte(term) }
}

// WithErrorQuery sets the command answered from the error queue. Defaults to ":SYSTem:ERRor?".
func WithErrorQuery(cmd string) Option {
	return func(ins *Instrument) { ins.errorQuery = cmd }
}

// WithNoErrorSentinel sets the reply to the error query when the queue is empty.
// Defaults to `0,"No error"`.
func WithNoErrorSentinel(sentinel string) Option {
	return func(ins *Instrument) { ins.sentinel = sentinel }
}

// WithChunkedReplies makes the instrument write every reply in pieces of at most size bytes,
// pausing delay between pieces so they reach the client as separate reads.
func WithChunkedReplies(size int, delay time.Duration) Option {
	return func(ins *Instrument) {
		ins.chunkSize = size
		ins.chunkDelay = delay
	}
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l logger.Logger) Option {
	return func(ins *Instrument) { ins.logger = l }
}

// New starts an instrument listening on 127.0.0.1 with a random port.
func New(opts ...Option) (*Instrument, error) {
	ins := &Instrument{
		logger:     logger.GetLogger(),
		terminator: []byte("\n"),
		errorQuery: ":SYSTem:ERRor?",
		sentinel:   `0,"No error"`,
		handlers:   xsync.NewMapOf[string, Responder](),
		conns:      xsync.NewMapOf[net.Conn, struct{}](),
	}

	for _, opt := range opts {
		opt(ins)
	}

	if ins.chunkSize > 0 && ins.chunkDelay <= 0 {
		ins.chunkDelay = defaultChunkDelay
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	ins.ln = ln

	ins.wg.Add(1)
	go ins.acceptLoop()

	return ins, nil
}

// Addr returns the host:port the instrument listens on.
func (ins *Instrument) Addr() string {
	return ins.ln.Addr().String()
}

// Host returns the IP address the instrument listens on.
func (ins *Instrument) Host() string {
	host, _, _ := net.SplitHostPort(ins.Addr())
	return host
}

// Port returns the TCP port the instrument listens on.
func (ins *Instrument) Port() int {
	_, portStr, _ := net.SplitHostPort(ins.Addr())
	port, _ := strconv.Atoi(portStr)

	return port
}

// Handle registers r for commands equal to cmd, replacing any previous handler.
func (ins *Instrument) Handle(cmd string, r Responder) {
	ins.handlers.Store(cmd, r)
}

// Reply registers a handler answering cmd with resp followed by the terminator.
func (ins *Instrument) Reply(cmd string, resp string) {
	line := append([]byte(resp), ins.terminator...)
	ins.Handle(cmd, func(string) []byte { return line })
}

// Accept registers a handler for cmd that produces no reply and queues no error.
func (ins *Instrument) Accept(cmd string) {
	ins.Handle(cmd, func(string) []byte { return nil })
}

// PushError appends entries to the error queue.
func (ins *Instrument) PushError(entries ...string) {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	ins.errQueue = append(ins.errQueue, entries...)
}

// Commands returns every command received so far, without terminators, in arrival order.
func (ins *Instrument) Commands() []string {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	return append([]string(nil), ins.commands...)
}

// Close stops listening, closes every open connection and waits for the serving goroutines.
func (ins *Instrument) Close() error {
	if !ins.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := ins.ln.Close()
	ins.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	ins.wg.Wait()

	return err
}

func (ins *Instrument) acceptLoop() {
	defer ins.wg.Done()

	for {
		conn, err := ins.ln.Accept()
		if err != nil {
			if !ins.closed.Load() && !errors.Is(err, net.ErrClosed) {
				ins.logger.Error("scpitest: accept failed", "error", err)
			}

			return
		}

		ins.conns.Store(conn, struct{}{})
		if ins.closed.Load() {
			// Close may have walked conns before the store.
			ins.conns.Delete(conn)
			_ = conn.Close()

			return
		}

		ins.wg.Add(1)
		go ins.serve(conn)
	}
}

func (ins *Instrument) serve(conn net.Conn) {
	defer ins.wg.Done()
	defer func() {
		ins.conns.Delete(conn)
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	last := ins.terminator[len(ins.terminator)-1]

	var line []byte
	for {
		part, err := reader.ReadBytes(last)
		line = append(line, part...)
		if err != nil {
			return
		}

		if !bytes.HasSuffix(line, ins.terminator) {
			continue
		}

		cmd := string(bytes.TrimSuffix(line, ins.terminator))
		line = line[:0]

		if resp := ins.dispatch(cmd); len(resp) > 0 {
			if err := ins.write(conn, resp); err != nil {
				return
			}
		}
	}
}

func (ins *Instrument) dispatch(cmd string) []byte {
	ins.mu.Lock()
	ins.commands = append(ins.commands, cmd)
	ins.mu.Unlock()

	ins.logger.Debug("scpitest: command", "cmd", cmd)

	if cmd == ins.errorQuery {
		return append([]byte(ins.popError()), ins.terminator...)
	}

	if r, ok := ins.handlers.Load(cmd); ok {
		return r(cmd)
	}

	ins.PushError(UndefinedHeaderError)

	return nil
}

func (ins *Instrument) popError() string {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	if len(ins.errQueue) == 0 {
		return ins.sentinel
	}

	entry := ins.errQueue[0]
	ins.errQueue = ins.errQueue[1:]

	return entry
}

func (ins *Instrument) write(conn net.Conn, resp []byte) error {
	if ins.chunkSize <= 0 {
		_, err := conn.Write(resp)
		return err
	}

	for len(resp) > 0 {
		n := min(ins.chunkSize, len(resp))
		if _, err := conn.Write(resp[:n]); err != nil {
			return err
		}
		resp = resp[n:]

		if len(resp) > 0 {
			time.Sleep(ins.chunkDelay)
		}
	}

	return nil
}
