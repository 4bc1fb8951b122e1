package scpi

import (
	"fmt"
	"strings"
)

// DrainErrors polls the instrument error queue until it reports the no-error sentinel and returns
// every entry read before it, oldest first. An empty result means the queue was empty.
//
// Unlike Send and Query, DrainErrors does not turn drained entries into an *Error.
func (c *Client) DrainErrors() ([]string, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	return c.drainErrors()
}

// drainErrors issues the error query through RawQuery, which never drains, so a failing poll can't
// start another drain.
//
// There is no bound besides maxErrorDrain: an instrument that never answers with the sentinel keeps
// the loop going until a read times out, and that timeout is returned together with the entries
// collected so far.
func (c *Client) drainErrors() ([]string, error) {
	var errs []string

	for {
		resp, err := c.RawQuery(c.cfg.errorQueryCommand)
		if err != nil {
			return errs, err
		}

		if resp == c.cfg.noErrorSentinel {
			return errs, nil
		}

		c.logger.Warn("scpi: instrument error", "error", resp)
		c.metrics.addInstrumentErrCount(1)
		errs = append(errs, resp)

		if c.cfg.maxErrorDrain > 0 && len(errs) >= c.cfg.maxErrorDrain {
			return errs, fmt.Errorf("%w: %d entries read without %q", ErrErrorQueueOverflow, len(errs), c.cfg.noErrorSentinel)
		}
	}
}

// checkErrors runs the drain after a Send or Query of cmd when error checking is enabled.
func (c *Client) checkErrors(cmd string) error {
	if !c.cfg.errorCheck {
		return nil
	}

	cmd = strings.TrimSuffix(cmd, c.cfg.terminator)

	errs, err := c.drainErrors()
	if err != nil {
		if len(errs) > 0 {
			return fmt.Errorf("scpi: drain error queue after %q, collected [%s]: %w", cmd, strings.Join(errs, "; "), err)
		}

		return fmt.Errorf("scpi: drain error queue after %q: %w", cmd, err)
	}

	if len(errs) > 0 {
		return &Error{Command: cmd, Errors: errs}
	}

	return nil
}
