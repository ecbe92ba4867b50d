package battle

import (
	"errors"
	"fmt"
)

var ErrTransportUnavailable = errors.New("transport unavailable")
var ErrServerRejected = errors.New("server rejected request")
var ErrInvalidStateTransition = errors.New("invalid state transition")

// CriticalError is a server-signalled battleError with critical=true. It is
// the only error class that unilaterally ends the session.
type CriticalError struct {
	Message string
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical battle error: %s", e.Message)
}
