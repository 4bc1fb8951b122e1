// Package scpi provides a client for SCPI (Standard Commands for Programmable Instruments) carried
// as plain ASCII lines over a raw TCP socket, the "socket" interface of LXI instruments (port 5025).
//
// Key Features:
//   - Connection Management: connects with a bounded timeout and closes idempotently.
//   - Framing: assembles responses that arrive split across several TCP segments, using the
//     configured terminator to detect the end of a response.
//   - Error Checking: after every Send and Query the instrument error queue (":SYSTem:ERRor?") is
//     drained until it reports the no-error sentinel; queued errors are returned as *Error.
//   - Customization: port, timeout, terminator, error query and sentinel are configurable via
//     functional options.
//
// Error Kinds:
//   - ErrConnection: the connection could not be established.
//   - ErrTimeout: a connect, read or write exceeded the timeout.
//   - *Error: the instrument reported one or more errors for the last Send or Query.
//
// Use errors.Is for the sentinels and errors.As for *Error.
//
// Usage Example:
//
//	cfg, err := scpi.NewClientConfig("192.168.0.10", scpi.WithTimeout(2*time.Second))
//	// ... handle error ...
//	client, _ := scpi.NewClient(cfg)
//
//	err = client.Do(func(c *scpi.Client) error {
//	    if err := c.Send("*RST"); err != nil {
//	        return err
//	    }
//	    idn, err := c.Query("*IDN?")
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(idn)
//	    return nil
//	})
//
//	var scpiErr *scpi.Error
//	if errors.As(err, &scpiErr) {
//	    // the instrument rejected scpiErr.Command with scpiErr.Errors
//	}
//
// A Client is not safe for concurrent use.
package scpi
