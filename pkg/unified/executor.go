package unified

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/driver"
	"github.com/devicelab-dev/flutter-control/pkg/finder"
	"github.com/devicelab-dev/flutter-control/pkg/logger"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// DefaultTimeout bounds one backend attempt when the caller does not pass one.
const DefaultTimeout = 30 * time.Second

// AccessibilityBackend is what the executor needs from the Maestro runner.
type AccessibilityBackend interface {
	Tap(ctx context.Context, f finder.Finder, tc *trace.Context) error
	DoubleTap(ctx context.Context, f finder.Finder, tc *trace.Context) error
	LongPress(ctx context.Context, f finder.Finder, tc *trace.Context) error
	EnterText(ctx context.Context, f finder.Finder, text string, tc *trace.Context) error
	AssertVisible(ctx context.Context, f finder.Finder, tc *trace.Context) error
	AssertNotVisible(ctx context.Context, f finder.Finder, tc *trace.Context) error
	Swipe(ctx context.Context, direction string, tc *trace.Context) error
	Screenshot(ctx context.Context, tc *trace.Context) (string, error)
}

// DriverSession is what the executor needs from the driver client.
type DriverSession interface {
	IsConnected() bool
	Endpoint() driver.Endpoint
	Connect(ctx context.Context, endpoint driver.Endpoint, tc *trace.Context) error
	Disconnect()
	Tap(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	EnterText(ctx context.Context, text string, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	GetText(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	WaitFor(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	WaitForAbsent(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	ScrollIntoView(ctx context.Context, f finder.Finder, alignment float64, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	Screenshot(ctx context.Context, tc *trace.Context, timeout time.Duration) (driver.Response, error)
	RenderTree(ctx context.Context, tc *trace.Context) (driver.Response, error)
	SemanticsTree(ctx context.Context, tc *trace.Context) (driver.Response, error)
}

// EndpointDiscoverer locates and forwards a VM service endpoint.
type EndpointDiscoverer interface {
	Discover(ctx context.Context, localPort int, tc *trace.Context) (driver.Endpoint, error)
}

// Executor routes one high-level operation through the backend order and
// reports which backend served it.
type Executor struct {
	// Backends. Either may be nil when unavailable on this host; a nil
	// backend is skipped the same way an unsupported finder is.
	maestro AccessibilityBackend
	driver  DriverSession

	// Connection recovery
	discoverer EndpointDiscoverer
	localPort  int

	// Diagnostics
	store *trace.Store

	timeout time.Duration

	mu           sync.Mutex
	lastEndpoint driver.Endpoint
}

// NewExecutor wires the backends together. store may be nil to skip trace
// persistence.
func NewExecutor(m AccessibilityBackend, d DriverSession, disc EndpointDiscoverer, localPort int, store *trace.Store) *Executor {
	return &Executor{
		maestro:    m,
		driver:     d,
		discoverer: disc,
		localPort:  localPort,
		store:      store,
		timeout:    DefaultTimeout,
	}
}

// SetTimeout overrides the per-attempt timeout.
func (e *Executor) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Close tears down the driver session.
func (e *Executor) Close() {
	if e.driver != nil {
		e.driver.Disconnect()
	}
}

// attemptFunc runs one operation against one backend.
type attemptFunc func(ctx context.Context, backend core.Backend, tc *trace.Context) (interface{}, error)

// Tap taps the element described by the constraint map.
func (e *Executor) Tap(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	return e.finderOp(ctx, "tap", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, e.maestro.Tap(ctx, f, tc)
		default:
			return e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				return e.driver.Tap(ctx, f, tc, t)
			})
		}
	})
}

// DoubleTap double-taps the element. The driver protocol has no double-tap
// primitive, so two sequential taps emulate it.
func (e *Executor) DoubleTap(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	return e.finderOp(ctx, "double_tap", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, e.maestro.DoubleTap(ctx, f, tc)
		default:
			return e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				if _, err := e.driver.Tap(ctx, f, tc, t); err != nil {
					return driver.Response{}, err
				}
				return e.driver.Tap(ctx, f, tc, t)
			})
		}
	})
}

// LongPress long-presses the element. Only Maestro expresses this gesture.
func (e *Executor) LongPress(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	return e.finderOp(ctx, "long_press", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, e.maestro.LongPress(ctx, f, tc)
		default:
			return nil, core.ErrUnsupportedOperation.WithMessage("driver protocol has no long-press gesture")
		}
	})
}

// AssertVisible checks the element is on screen, waiting up to the timeout.
func (e *Executor) AssertVisible(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	return e.finderOp(ctx, "assert_visible", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, e.maestro.AssertVisible(ctx, f, tc)
		default:
			return e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				return e.driver.WaitFor(ctx, f, tc, t)
			})
		}
	})
}

// AssertNotVisible checks no matching element is on screen.
func (e *Executor) AssertNotVisible(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	return e.finderOp(ctx, "assert_not_visible", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, e.maestro.AssertNotVisible(ctx, f, tc)
		default:
			return e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				return e.driver.WaitForAbsent(ctx, f, tc, t)
			})
		}
	})
}

// GetText reads the element's rendered text. Only the driver can read widget
// state, so Maestro is always skipped for this operation.
func (e *Executor) GetText(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	return e.finderOp(ctx, "get_text", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, core.ErrUnsupportedOperation.WithMessage("accessibility backend cannot read widget text")
		default:
			resp, err := e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				return e.driver.GetText(ctx, f, tc, t)
			})
			if err != nil {
				return nil, err
			}
			if r, ok := resp.(driver.Response); ok {
				return driverPayload(r, "text"), nil
			}
			return nil, nil
		}
	})
}

// EnterText types into the element described by the constraints. The driver
// path taps the field first because its enter_text targets the focused field.
func (e *Executor) EnterText(ctx context.Context, constraints map[string]interface{}, text string) *core.ExecutionResult {
	return e.finderOp(ctx, "enter_text", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, e.maestro.EnterText(ctx, f, text, tc)
		default:
			return e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				if _, err := e.driver.Tap(ctx, f, tc, t); err != nil {
					return driver.Response{}, err
				}
				return e.driver.EnterText(ctx, text, tc, t)
			})
		}
	})
}

// Swipe performs a directional swipe; no element is involved so the backend
// order is fixed with Maestro first.
func (e *Executor) Swipe(ctx context.Context, direction string, constraints map[string]interface{}) *core.ExecutionResult {
	sel := Selection{
		Order:  []core.Backend{core.BackendMaestro},
		Reason: "swipe is a screen gesture served by the accessibility backend",
	}
	if override, result := e.override(constraints); result != nil {
		return result
	} else if override != nil {
		sel = Selection{Order: []core.Backend{*override}, Reason: fmt.Sprintf("explicit backend override: %s", *override)}
	}

	return e.execute(ctx, "swipe", map[string]interface{}{"direction": direction}, sel,
		func(ctx context.Context, b core.Backend, tc *trace.Context) (interface{}, error) {
			if b != core.BackendMaestro {
				return nil, core.ErrUnsupportedOperation.WithMessage("driver protocol has no swipe gesture")
			}
			return nil, e.maestro.Swipe(ctx, direction, tc)
		})
}

// Screenshot captures the screen. The driver path is preferred because it
// returns pixels without a subprocess round trip; Maestro is the fallback.
func (e *Executor) Screenshot(ctx context.Context, constraints map[string]interface{}) *core.ExecutionResult {
	sel := Selection{
		Order:  []core.Backend{core.BackendDriver, core.BackendMaestro},
		Reason: "driver screenshots avoid the CLI round trip, accessibility is the fallback",
	}
	if override, result := e.override(constraints); result != nil {
		return result
	} else if override != nil {
		sel = Selection{Order: []core.Backend{*override}, Reason: fmt.Sprintf("explicit backend override: %s", *override)}
	}

	return e.execute(ctx, "screenshot", nil, sel,
		func(ctx context.Context, b core.Backend, tc *trace.Context) (interface{}, error) {
			switch b {
			case core.BackendMaestro:
				return e.maestro.Screenshot(ctx, tc)
			default:
				resp, err := e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
					return e.driver.Screenshot(ctx, tc, t)
				})
				if err != nil {
					return nil, err
				}
				if r, ok := resp.(driver.Response); ok {
					return driverPayload(r, "data"), nil
				}
				return nil, nil
			}
		})
}

// ScrollIntoView scrolls until the element is aligned on screen. Only the
// driver can address a widget inside a scrollable, so Maestro is skipped.
func (e *Executor) ScrollIntoView(ctx context.Context, constraints map[string]interface{}, alignment float64) *core.ExecutionResult {
	return e.finderOp(ctx, "scroll_into_view", constraints, func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error) {
		switch b {
		case core.BackendMaestro:
			return nil, core.ErrUnsupportedOperation.WithMessage("accessibility backend cannot scroll to a widget")
		default:
			_, err := e.driverCall(ctx, tc, func(t time.Duration) (driver.Response, error) {
				return e.driver.ScrollIntoView(ctx, f, alignment, tc, t)
			})
			return nil, err
		}
	})
}

// WidgetTree dumps the render tree, or the semantics tree when semantics is
// set. Tree introspection only exists in the driver protocol.
func (e *Executor) WidgetTree(ctx context.Context, constraints map[string]interface{}, semantics bool) *core.ExecutionResult {
	sel := Selection{
		Order:  []core.Backend{core.BackendDriver},
		Reason: "tree dumps require widget-tree introspection",
	}
	if override, result := e.override(constraints); result != nil {
		return result
	} else if override != nil {
		sel = Selection{Order: []core.Backend{*override}, Reason: fmt.Sprintf("explicit backend override: %s", *override)}
	}

	return e.execute(ctx, "widget_tree", map[string]interface{}{"semantics": semantics}, sel,
		func(ctx context.Context, b core.Backend, tc *trace.Context) (interface{}, error) {
			if b != core.BackendDriver {
				return nil, core.ErrUnsupportedOperation.WithMessage("accessibility backend cannot dump the widget tree")
			}
			resp, err := e.driverCall(ctx, tc, func(time.Duration) (driver.Response, error) {
				if semantics {
					return e.driver.SemanticsTree(ctx, tc)
				}
				return e.driver.RenderTree(ctx, tc)
			})
			if err != nil {
				return nil, err
			}
			if r, ok := resp.(driver.Response); ok {
				return driverPayload(r, "tree"), nil
			}
			return nil, nil
		})
}

// finderOp parses the constraint map and runs the selected backend order.
type finderAttempt func(ctx context.Context, f finder.Finder, tc *trace.Context, b core.Backend) (interface{}, error)

func (e *Executor) finderOp(ctx context.Context, op string, constraints map[string]interface{}, attempt finderAttempt) *core.ExecutionResult {
	f, err := finder.Parse(constraints)
	if err != nil {
		return failure(err)
	}

	override, result := e.override(constraints)
	if result != nil {
		return result
	}

	sel := Select(f, override)
	return e.execute(ctx, op, constraints, sel,
		func(ctx context.Context, b core.Backend, tc *trace.Context) (interface{}, error) {
			if !Supports(f, b) {
				return nil, core.ErrUnsupportedFinder.WithDetails(map[string]interface{}{"finder": f.Describe()})
			}
			return attempt(ctx, f, tc, b)
		})
}

// override extracts the backend override from the constraint map. A malformed
// value is a validation failure surfaced immediately.
func (e *Executor) override(constraints map[string]interface{}) (*core.Backend, *core.ExecutionResult) {
	raw, ok := constraints["backend"]
	if !ok {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, failure(core.ErrInvalidArgument.WithMessage("backend override must be a string"))
	}
	b, err := core.ParseBackend(s)
	if err != nil {
		return nil, failure(err)
	}
	return &b, nil
}

// execute walks the backend order, recording one Attempt per entry. A backend
// that cannot express the request is skipped without counting toward the
// fallback decision; any other failure falls through to the next backend.
func (e *Executor) execute(ctx context.Context, op string, args map[string]interface{}, sel Selection, attempt attemptFunc) *core.ExecutionResult {
	tc := trace.New(op, args)
	defer e.saveTrace(tc)

	tc.Log("BACKEND_SEL", fmt.Sprintf("order=%s reason=%q", backendNames(sel.Order), sel.Reason))

	result := &core.ExecutionResult{}
	var lastErr error

	for _, b := range sel.Order {
		result.BackendsTried = append(result.BackendsTried, b.String())

		if !e.available(b) {
			tc.Log(skipEvent(b), "backend unavailable on this host")
			result.Attempts = append(result.Attempts, core.Attempt{
				Backend: b, Status: core.AttemptSkipped,
				Error: core.ErrUnsupportedOperation.WithMessage("backend unavailable"),
			})
			continue
		}

		tc.Log(tryEvent(b), "")
		data, err := attempt(ctx, b, tc)
		if err == nil {
			tc.Log(okEvent(b), "")
			result.Attempts = append(result.Attempts, core.Attempt{Backend: b, Status: core.AttemptSucceeded})
			used := b
			result.Success = true
			result.Data = data
			result.BackendUsed = &used
			result.FallbackOccurred = result.AttemptedCount() > 1
			return result
		}

		if isUnsupported(err) {
			tc.Log(skipEvent(b), err.Error())
			result.Attempts = append(result.Attempts, core.Attempt{Backend: b, Status: core.AttemptSkipped, Error: err})
			continue
		}

		tc.Log(failEvent(b), err.Error())
		logger.Warn("%s via %s failed: %v", op, b, err)
		result.Attempts = append(result.Attempts, core.Attempt{Backend: b, Status: core.AttemptFailed, Error: err})
		lastErr = err
	}

	tc.Log("ALL_FAIL", fmt.Sprintf("attempted=%d", result.AttemptedCount()))
	result.Success = false
	result.FallbackOccurred = result.AttemptedCount() > 0
	if lastErr != nil {
		result.Error = core.ErrAllBackendsFailed.WithCause(lastErr).WithDetails(map[string]interface{}{
			"backends_tried": result.BackendsTried,
		})
	} else {
		result.Error = core.ErrAllBackendsFailed.WithMessage("no backend could serve this request")
		result.FallbackOccurred = false
	}
	return result
}

// driverPayload extracts one field from a driver response. The VM service
// extension nests command payloads under "response"; some driver builds put
// the field at the top level, so both shapes are accepted.
func driverPayload(r driver.Response, key string) interface{} {
	if nested, ok := r.Result["response"]; ok && nested != nil {
		if m, ok := nested.(map[string]interface{}); ok {
			if v, ok := m[key]; ok {
				return v
			}
			return m
		}
		return nested
	}
	return r.Result[key]
}

// driverCall ensures a Ready session and runs one driver request, mapping
// logical failures in the response to structured errors.
func (e *Executor) driverCall(ctx context.Context, tc *trace.Context, call func(timeout time.Duration) (driver.Response, error)) (interface{}, error) {
	if err := e.ensureDriver(ctx, tc); err != nil {
		return nil, err
	}

	resp, err := call(e.timeout)
	if err != nil {
		return nil, err
	}
	if resp.IsError {
		return nil, core.ErrElementNotFound.WithMessage(resp.Err)
	}
	return resp, nil
}

// ensureDriver makes the session Ready: reuse it, reconnect to the last known
// endpoint, or run full discovery and forwarding for a fresh one.
func (e *Executor) ensureDriver(ctx context.Context, tc *trace.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.driver.IsConnected() {
		return nil
	}

	if last := e.lastEndpoint; !last.IsZero() {
		tc.Log("DRIVER_CONNECT", "retrying last known endpoint "+last.String())
		if err := e.driver.Connect(ctx, last, tc); err == nil {
			return nil
		}
		logger.Debug("reconnect to %s failed, rediscovering", last.String())
	}

	if e.discoverer == nil {
		return core.ErrNoEndpoint.WithMessage("no discovery configured and no live session")
	}

	endpoint, err := e.discoverer.Discover(ctx, e.localPort, tc)
	if err != nil {
		return err
	}
	if err := e.driver.Connect(ctx, endpoint, tc); err != nil {
		return err
	}
	e.lastEndpoint = endpoint
	return nil
}

// DiscoverEndpoint runs discovery without connecting, for diagnostics.
func (e *Executor) DiscoverEndpoint(ctx context.Context) (driver.Endpoint, error) {
	if e.discoverer == nil {
		return driver.Endpoint{}, core.ErrNoEndpoint.WithMessage("no discovery configured")
	}
	tc := trace.New("discover", nil)
	defer e.saveTrace(tc)
	return e.discoverer.Discover(ctx, e.localPort, tc)
}

// Traces exposes the trace store for the inspection surface.
func (e *Executor) Traces() *trace.Store {
	return e.store
}

func (e *Executor) available(b core.Backend) bool {
	switch b {
	case core.BackendMaestro:
		return e.maestro != nil
	case core.BackendDriver:
		return e.driver != nil
	default:
		return false
	}
}

func (e *Executor) saveTrace(tc *trace.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(tc); err != nil {
		logger.Warn("trace save failed: %v", err)
	}
}

func failure(err error) *core.ExecutionResult {
	return &core.ExecutionResult{Success: false, Error: err}
}

func isUnsupported(err error) bool {
	ee, ok := err.(*core.ExecutionError)
	return ok && ee.Category == core.ErrCategoryUnsupported
}

func backendNames(order []core.Backend) string {
	s := "["
	for i, b := range order {
		if i > 0 {
			s += ","
		}
		s += b.String()
	}
	return s + "]"
}

func tryEvent(b core.Backend) string {
	if b == core.BackendMaestro {
		return "TRY_MAESTRO"
	}
	return "TRY_DRIVER"
}

func okEvent(b core.Backend) string {
	if b == core.BackendMaestro {
		return "MAESTRO_OK"
	}
	return "DRIVER_OK"
}

func failEvent(b core.Backend) string {
	if b == core.BackendMaestro {
		return "MAESTRO_FAIL"
	}
	return "DRIVER_FAIL"
}

func skipEvent(b core.Backend) string {
	if b == core.BackendMaestro {
		return "MAESTRO_SKIP"
	}
	return "DRIVER_SKIP"
}
