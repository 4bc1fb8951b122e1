package scpi

import (
	"errors"
	"strings"
	"time"

	"github.com/arloliu/go-scpi/logger"
)

const (
	// DefaultPort is the raw-socket SCPI port used by most LXI instruments.
	DefaultPort = 5025
	// DefaultTimeout applies to the connect attempt and to every read and write.
	DefaultTimeout = 500 * time.Millisecond
	// DefaultTerminator ends every command line and every response line.
	DefaultTerminator = "\n"
	// DefaultErrorQueryCommand polls one entry of the instrument error queue.
	DefaultErrorQueryCommand = ":SYSTem:ERRor?"
	// DefaultNoErrorSentinel is the error queue entry reporting an empty queue.
	DefaultNoErrorSentinel = `0,"No error"`
	// DefaultReadChunkSize is the maximum number of bytes requested from the socket per read.
	DefaultReadChunkSize = 4096
)

// ClientConfig represents the configuration parameters of a SCPI client.
type ClientConfig struct {
	// host specifies the host name or IP address of the instrument.
	host string

	// port specifies the TCP port of the instrument's raw SCPI socket.
	// Defaults to 5025.
	port int

	// timeout bounds the connect attempt and every individual socket read and write.
	// Defaults to 500 milliseconds.
	timeout time.Duration

	// terminator is appended to outgoing commands and marks the end of a response.
	// Defaults to "\n".
	terminator string

	// errorQueryCommand is the query issued to pop one entry of the instrument error queue.
	// Defaults to ":SYSTem:ERRor?".
	errorQueryCommand string

	// noErrorSentinel is the exact error queue response that means the queue is empty.
	// Defaults to `0,"No error"`.
	noErrorSentinel string

	// errorCheck enables draining the error queue after every Send and Query.
	// Defaults to true.
	errorCheck bool

	// maxErrorDrain limits how many error queue entries are collected before giving up with
	// ErrErrorQueueOverflow. Zero means no limit, in which case only the read timeout can end a
	// drain against an instrument that never reports the sentinel.
	// Defaults to 0.
	maxErrorDrain int

	// readChunkSize is the size of the buffer handed to each socket read.
	// Defaults to 4096.
	readChunkSize int

	// maxFrameSize limits how many bytes one response may accumulate before its terminator
	// arrives. Zero means no limit.
	// Defaults to 0.
	maxFrameSize int

	// logger provides a logger instance for logging SCPI traffic and events.
	logger logger.Logger
}

// NewClientConfig creates a new SCPI client configuration for the instrument at host and applies opts.
//
// Returns the initialized ClientConfig and the first error reported by an option.
func NewClientConfig(host string, opts ...ClientOption) (*ClientConfig, error) {
	cfg := &ClientConfig{
		port:              DefaultPort,
		timeout:           DefaultTimeout,
		terminator:        DefaultTerminator,
		errorQueryCommand: DefaultErrorQueryCommand,
		noErrorSentinel:   DefaultNoErrorSentinel,
		errorCheck:        true,
		readChunkSize:     DefaultReadChunkSize,
		logger:            logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *ClientConfig) Host() string { return cfg.host }

func (cfg *ClientConfig) Port() int { return cfg.port }

func (cfg *ClientConfig) Timeout() time.Duration { return cfg.timeout }

func (cfg *ClientConfig) Terminator() string { return cfg.terminator }

func (cfg *ClientConfig) ErrorQueryCommand() string { return cfg.errorQueryCommand }

func (cfg *ClientConfig) NoErrorSentinel() string { return cfg.noErrorSentinel }

func (cfg *ClientConfig) ErrorCheck() bool { return cfg.errorCheck }

// ClientOption represents a functional option for configuring a ClientConfig.
type ClientOption interface {
	apply(*ClientConfig) error
}

type clientOptFunc struct {
	name      string
	applyFunc func(*ClientConfig) error
}

func (c *clientOptFunc) apply(cfg *ClientConfig) error {
	if cfg == nil {
		return ErrConfigNil
	}

	return c.applyFunc(cfg)
}

func newClientOptFunc(name string, f func(*ClientConfig) error) *clientOptFunc {
	return &clientOptFunc{
		name:      name,
		applyFunc: f,
	}
}

// withHost sets the instrument host. Resolution is deferred to Connect so that an unknown name
// surfaces as ErrConnection.
func withHost(host string) ClientOption {
	return newClientOptFunc("withHost", func(cfg *ClientConfig) error {
		host = strings.TrimSpace(host)
		if host == "" {
			return errors.New("host is empty")
		}
		cfg.host = host

		return nil
	})
}

// WithPort sets the TCP port of the instrument.
// An error is returned if the port number is out of the valid range (1-65535).
//
// The default value is 5025.
func WithPort(port int) ClientOption {
	return newClientOptFunc("WithPort", func(cfg *ClientConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithTimeout sets the timeout applied to the connect attempt and to each socket read and write.
// An error is returned if the timeout is not positive.
//
// The default value is 500 milliseconds.
func WithTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithTimeout", func(cfg *ClientConfig) error {
		if val <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = val

		return nil
	})
}

// WithTerminator sets the byte sequence ending each command and response line.
// An error is returned if the terminator is empty.
//
// The default value is "\n".
func WithTerminator(term string) ClientOption {
	return newClientOptFunc("WithTerminator", func(cfg *ClientConfig) error {
		if term == "" {
			return errors.New("terminator is empty")
		}
		cfg.terminator = term

		return nil
	})
}

// WithErrorQueryCommand sets the query used to pop entries from the instrument error queue.
//
// The default value is ":SYSTem:ERRor?".
func WithErrorQueryCommand(cmd string) ClientOption {
	return newClientOptFunc("WithErrorQueryCommand", func(cfg *ClientConfig) error {
		if strings.TrimSpace(cmd) == "" {
			return errors.New("error query command is empty")
		}
		cfg.errorQueryCommand = cmd

		return nil
	})
}

// WithNoErrorSentinel sets the exact error queue response that marks an empty queue.
// The comparison is verbatim, after the response has been stripped of surrounding whitespace.
//
// The default value is `0,"No error"`.
func WithNoErrorSentinel(sentinel string) ClientOption {
	return newClientOptFunc("WithNoErrorSentinel", func(cfg *ClientConfig) error {
		if sentinel == "" {
			return errors.New("no-error sentinel is empty")
		}
		cfg.noErrorSentinel = sentinel

		return nil
	})
}

// WithErrorCheck enables or disables draining the instrument error queue after Send and Query.
// With error checking disabled, Send and Query behave like RawSend and RawQuery.
//
// The default value is true.
func WithErrorCheck(enabled bool) ClientOption {
	return newClientOptFunc("WithErrorCheck", func(cfg *ClientConfig) error {
		cfg.errorCheck = enabled

		return nil
	})
}

// WithMaxErrorDrain limits the number of error queue entries collected by one drain.
// A drain exceeding the limit fails with ErrErrorQueueOverflow. Zero removes the limit.
// An error is returned if n is negative.
//
// The default value is 0.
func WithMaxErrorDrain(n int) ClientOption {
	return newClientOptFunc("WithMaxErrorDrain", func(cfg *ClientConfig) error {
		if n < 0 {
			return errors.New("max error drain must not be negative")
		}
		cfg.maxErrorDrain = n

		return nil
	})
}

// WithReadChunkSize sets the number of bytes requested per socket read.
// An error is returned if the size is outside the range [1, 1048576].
//
// The default value is 4096.
func WithReadChunkSize(size int) ClientOption {
	return newClientOptFunc("WithReadChunkSize", func(cfg *ClientConfig) error {
		if size < 1 || size > 1<<20 {
			return errors.New("read chunk size out of range [1, 1048576]")
		}
		cfg.readChunkSize = size

		return nil
	})
}

// WithMaxFrameSize limits the size of a single response, terminator included.
// A response growing past the limit fails with ErrRead. Zero removes the limit.
// An error is returned if size is negative.
//
// The read timeout applies to each socket read, not to the whole response, so without a limit an
// instrument that keeps trickling bytes without a terminator is read from indefinitely.
//
// The default value is 0.
func WithMaxFrameSize(size int) ClientOption {
	return newClientOptFunc("WithMaxFrameSize", func(cfg *ClientConfig) error {
		if size < 0 {
			return errors.New("max frame size must not be negative")
		}
		cfg.maxFrameSize = size

		return nil
	})
}

// WithLogger sets the logger of the client.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ClientOption {
	return newClientOptFunc("WithLogger", func(cfg *ClientConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
