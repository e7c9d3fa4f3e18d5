package bugzilla

import "fmt"

// TransportError reports a request that did not produce a usable HTTP
// response: a network failure or a non-2xx status.
type TransportError struct {
	StatusCode int    // 0 when no response was received
	Status     string // HTTP status line, or the cause for network errors
	Message    string // server supplied message, if any
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("bugzilla request failed: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("bugzilla returned %s: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("bugzilla returned %s", e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports a 2xx response whose body could not be
// decoded into bug records.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed bugzilla response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
