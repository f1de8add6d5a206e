package driver

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// DefaultRequestTimeout bounds a single driver request when the command
// carries no explicit timeout.
const DefaultRequestTimeout = 30 * time.Second

// wsConn is the subset of *websocket.Conn the client uses. Tests substitute
// an in-memory fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// dialFunc opens a WebSocket connection to a VM service URL.
type dialFunc func(ctx context.Context, url string) (wsConn, error)

func gorillaDial(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client is a stateful session to one target process's VM service.
// Lifecycle: Disconnected -> Connect -> Ready -> Disconnect -> Disconnected.
// A request timeout does not tear the session down; only a transport error or
// an explicit Disconnect does.
type Client struct {
	protocol Protocol
	dial     dialFunc

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      wsConn
	isolateID string
	endpoint  Endpoint
	pending   map[string]chan rpcMessage
	broken    bool          // transport error seen by the receive loop
	done      chan struct{} // closed when the receive loop exits
}

// NewClient creates a disconnected client.
func NewClient() *Client {
	return &Client{dial: gorillaDial}
}

// Endpoint returns the last endpoint this client connected (or tried to
// connect) to.
func (c *Client) Endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// IsConnected reports whether the session is Ready. A transport error observed
// by the receive loop makes this false before the next Execute call fails.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.isolateID != "" && !c.broken
}

// Connect establishes a session: dials the WebSocket, starts the receive
// loop, finds the Flutter isolate, and verifies the driver extension is
// registered. Any step failing leaves the client fully Disconnected.
func (c *Client) Connect(ctx context.Context, endpoint Endpoint, tc *trace.Context) error {
	c.Disconnect()

	url := endpoint.WSURL()
	logEvent(tc, "DRIVER_CONNECT", "connecting to "+url)

	conn, err := c.dial(ctx, url)
	if err != nil {
		logEvent(tc, "DRIVER_ERR", "dial failed: "+err.Error())
		if ctx.Err() != nil {
			return core.ErrConnectTimeout.WithCause(err)
		}
		return core.ErrConnectFailed.WithCause(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.endpoint = endpoint
	c.pending = make(map[string]chan rpcMessage)
	c.broken = false
	c.done = make(chan struct{})
	go c.receiveLoop(conn, c.done)
	c.mu.Unlock()

	logEvent(tc, "DRIVER_WS", "websocket connected")

	if err := c.selectIsolate(ctx, tc); err != nil {
		c.Disconnect()
		return err
	}

	logEvent(tc, "DRIVER_READY", "connected and ready")
	return nil
}

// selectIsolate picks the execution context and verifies the driver extension.
func (c *Client) selectIsolate(ctx context.Context, tc *trace.Context) error {
	vmInfo, err := c.sendVMRequest(ctx, "getVM", nil, DefaultRequestTimeout)
	if err != nil {
		return err
	}
	if !vmInfo.Success {
		logEvent(tc, "DRIVER_ERR", "getVM failed: "+vmInfo.Err)
		return core.ErrConnectFailed.WithMessage("getVM failed: " + vmInfo.Err)
	}

	rawIsolates, _ := vmInfo.Result["isolates"].([]interface{})
	if len(rawIsolates) == 0 {
		logEvent(tc, "DRIVER_ERR", "no isolates found")
		return core.ErrNoIsolates
	}

	type isolate struct{ id, name string }
	isolates := make([]isolate, 0, len(rawIsolates))
	for _, raw := range rawIsolates {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		name, _ := m["name"].(string)
		if id != "" {
			isolates = append(isolates, isolate{id: id, name: name})
		}
	}
	if len(isolates) == 0 {
		return core.ErrNoIsolates
	}

	// Pick the isolate whose name contains "main"; with a single isolate take
	// it unconditionally, otherwise fall back to the first. Ambiguous
	// multi-isolate topologies with no "main" keep the first-wins heuristic.
	selected := isolates[0]
	if len(isolates) > 1 {
		for _, iso := range isolates {
			if strings.Contains(strings.ToLower(iso.name), "main") {
				selected = iso
				break
			}
		}
	}

	c.mu.Lock()
	c.isolateID = selected.id
	c.mu.Unlock()
	logEvent(tc, "DRIVER_ISOLATE", "using isolate: "+selected.name+" ("+selected.id+")")

	ok, err := c.hasDriverExtension(ctx, selected.id)
	if err != nil {
		return err
	}
	if !ok {
		logEvent(tc, "DRIVER_ERR", "driver extension not enabled")
		return core.ErrExtensionMissing
	}
	logEvent(tc, "DRIVER_EXT", "driver extension available")
	return nil
}

// hasDriverExtension checks the isolate's registered extension RPCs.
func (c *Client) hasDriverExtension(ctx context.Context, isolateID string) (bool, error) {
	resp, err := c.sendVMRequest(ctx, "getIsolate", map[string]interface{}{"isolateId": isolateID}, DefaultRequestTimeout)
	if err != nil {
		return false, err
	}
	if !resp.Success {
		return false, core.ErrConnectFailed.WithMessage("getIsolate failed: " + resp.Err)
	}

	extensions, _ := resp.Result["extensionRPCs"].([]interface{})
	for _, ext := range extensions {
		if s, ok := ext.(string); ok && s == DriverExtension {
			return true, nil
		}
	}
	return false, nil
}

// Execute runs one Flutter Driver command. Fails immediately when the session
// is not Ready; on timeout only this request is abandoned and the session
// stays Ready.
func (c *Client) Execute(ctx context.Context, req Request, tc *trace.Context) (Response, error) {
	c.mu.Lock()
	conn, isolateID, broken := c.conn, c.isolateID, c.broken
	c.mu.Unlock()

	if conn == nil || isolateID == "" || broken {
		return Response{}, core.ErrNotConnected
	}

	logEvent(tc, "DRIVER_CMD", req.Command)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	envelope := c.protocol.DriverRequest(isolateID, req)
	resp, err := c.roundTrip(ctx, envelope, timeout)
	if err != nil {
		logEvent(tc, "DRIVER_ERR", req.Command+": "+err.Error())
		return Response{}, err
	}
	if resp.Success {
		logEvent(tc, "DRIVER_OK", req.Command+" succeeded")
	} else {
		logEvent(tc, "DRIVER_ERR", req.Command+" failed: "+resp.Err)
	}
	return resp, nil
}

// sendVMRequest issues a plain VM service request on the session.
func (c *Client) sendVMRequest(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (Response, error) {
	c.mu.Lock()
	connected := c.conn != nil && !c.broken
	c.mu.Unlock()
	if !connected {
		return Response{}, core.ErrNotConnected
	}
	return c.roundTrip(ctx, c.protocol.VMServiceRequest(method, params), timeout)
}

// roundTrip registers a pending entry, writes the request, and waits for the
// correlated response.
func (c *Client) roundTrip(ctx context.Context, envelope map[string]interface{}, timeout time.Duration) (Response, error) {
	reqID, _ := envelope["id"].(string)
	ch := make(chan rpcMessage, 1)

	c.mu.Lock()
	if c.pending == nil || c.conn == nil {
		c.mu.Unlock()
		return Response{}, core.ErrNotConnected
	}
	conn := c.conn
	c.pending[reqID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(envelope)
	if err != nil {
		return Response{}, core.ErrInvalidArgument.WithCause(err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.markBroken()
		return Response{}, core.ErrNotConnected.WithCause(err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return ParseResponse(msg), nil
	case <-timer.C:
		return Response{}, core.ErrRequestTimeout
	case <-ctx.Done():
		return Response{}, core.ErrRequestTimeout.WithCause(ctx.Err())
	}
}

// receiveLoop reads inbound messages and resolves pending requests by
// correlation id. Messages with no matching pending request are dropped.
func (c *Client) receiveLoop(conn wsConn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.markBroken()
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- msg
		}
	}
}

func (c *Client) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// Disconnect tears down the session: closes the channel, waits for the
// receive loop, clears the isolate id. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.isolateID = ""
	c.pending = nil
	c.broken = false
	c.done = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func logEvent(tc *trace.Context, event, detail string) {
	if tc != nil {
		tc.Log(event, detail)
	}
}
