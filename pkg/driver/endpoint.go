package driver

import (
	"fmt"
	"strings"
)

// Endpoint identifies a reachable VM service. URI (with the embedded auth
// token path) takes precedence over Host:Port when both are set.
type Endpoint struct {
	Host string
	Port int
	URI  string
}

// IsZero reports whether no endpoint is known.
func (e Endpoint) IsZero() bool {
	return e.URI == "" && e.Port == 0
}

// WSURL derives the WebSocket URL the VM service listens on: the http scheme
// swaps to ws and the /ws suffix is appended after the auth-token path.
func (e Endpoint) WSURL() string {
	if e.URI != "" {
		uri := strings.Replace(e.URI, "https://", "wss://", 1)
		uri = strings.Replace(uri, "http://", "ws://", 1)
		if strings.HasSuffix(uri, "/") {
			return uri + "ws"
		}
		return uri + "/ws"
	}
	host := e.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s:%d/ws", host, e.Port)
}

// String returns the endpoint for logs, favoring the full URI.
func (e Endpoint) String() string {
	if e.URI != "" {
		return e.URI
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
