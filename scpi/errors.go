package scpi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrConfigNil indicates that a nil ClientConfig was provided.
	ErrConfigNil = errors.New("scpi: client config is nil")

	// ErrNotConnected is returned by every I/O operation attempted before Connect or after Close.
	ErrNotConnected = errors.New("scpi: not connected")

	// ErrConnection indicates that the TCP connection to the instrument could not be established:
	// refused, unreachable, or the host could not be resolved.
	ErrConnection = errors.New("scpi: connection failed")

	// ErrTimeout indicates that a connect, read or write exceeded the configured timeout.
	// After a read timeout the connection holds an unknown amount of a partial response, callers should
	// reconnect before issuing further commands.
	ErrTimeout = errors.New("scpi: timeout")

	// ErrRead indicates a transport failure while receiving a response.
	ErrRead = errors.New("scpi: read failed")

	// ErrWrite indicates a transport failure while transmitting a command.
	ErrWrite = errors.New("scpi: write failed")

	// ErrConnClosed indicates that the instrument closed the connection (a zero-length read)
	// before a complete response arrived.
	ErrConnClosed = errors.New("scpi: connection closed by peer")

	// ErrInvalidCommand indicates a command that contains the terminator before its end, which
	// would make the instrument see more than one command.
	ErrInvalidCommand = errors.New("scpi: invalid command")

	// ErrErrorQueueOverflow is returned when draining the error queue yields more records than
	// the limit set by WithMaxErrorDrain without ever reaching the no-error sentinel.
	ErrErrorQueueOverflow = errors.New("scpi: error queue did not drain")
)

// Error reports errors the instrument queued while executing a command or query.
//
// Errors holds the drained error queue entries verbatim and in the order the instrument returned them.
type Error struct {
	Command string
	Errors  []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("scpi: %q failed with instrument error(s): %s", e.Command, strings.Join(e.Errors, "; "))
}

// Records parses every drained entry with ParseErrorRecord. Entries that don't follow the
// <code>,"<message>" form are returned with Code 0 and the raw text as Message.
func (e *Error) Records() []ErrorRecord {
	records := make([]ErrorRecord, 0, len(e.Errors))
	for _, s := range e.Errors {
		rec, err := ParseErrorRecord(s)
		if err != nil {
			rec = ErrorRecord{Message: s, Raw: s}
		}
		records = append(records, rec)
	}

	return records
}

// ErrorRecord is one entry of an instrument's error queue, e.g. -113,"Undefined header".
type ErrorRecord struct {
	// Code is the signed SCPI error number, 0 means no error.
	Code int
	// Message is the error description with the surrounding quotes removed.
	Message string
	// Raw is the entry as received.
	Raw string
}

func (r ErrorRecord) String() string {
	return r.Raw
}

// ParseErrorRecord splits an error queue entry of the form <code>,"<message>".
//
// Doubled quotes inside the message, the SCPI escape for a literal quote, are collapsed.
func ParseErrorRecord(s string) (ErrorRecord, error) {
	raw := s
	s = strings.TrimSpace(s)

	codeStr, msg, found := strings.Cut(s, ",")
	if !found {
		return ErrorRecord{}, fmt.Errorf("scpi: malformed error record %q: missing comma", raw)
	}

	code, err := strconv.Atoi(strings.TrimSpace(codeStr))
	if err != nil {
		return ErrorRecord{}, fmt.Errorf("scpi: malformed error record %q: %w", raw, err)
	}

	msg = strings.TrimSpace(msg)
	if len(msg) >= 2 && msg[0] == '"' && msg[len(msg)-1] == '"' {
		msg = strings.ReplaceAll(msg[1:len(msg)-1], `""`, `"`)
	}

	return ErrorRecord{Code: code, Message: msg, Raw: raw}, nil
}
