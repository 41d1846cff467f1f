package ndns

import (
	"fmt"
	"net"
	"time"
)

// Default deadline for reading a query from, or writing a response to, a client.
const defaultListenerTimeout = 500 * time.Millisecond

// Listener is an interface for a DNS listener.
type Listener interface {
	// Start blocks until the listener fails or is stopped. A stopped listener
	// returns nil.
	Start() error
	Stop() error
	fmt.Stringer
}

// ListenOptions holds options common to all listeners.
type ListenOptions struct {
	// Deadline for reading a query and writing its response. Defaults to 500ms.
	Timeout time.Duration
}

func (o ListenOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultListenerTimeout
	}
	return o.Timeout
}

// ClientInfo carries information about the client making the request.
type ClientInfo struct {
	SourceIP net.IP

	// Listener ID that received the request.
	Listener string
}
