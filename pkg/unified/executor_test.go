package unified

import (
	"context"
	"testing"
	"time"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/driver"
	"github.com/devicelab-dev/flutter-control/pkg/finder"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// fakeMaestro scripts the accessibility backend's outcome per operation.
type fakeMaestro struct {
	err       error
	calls     []string
	shot      string
	shotErr   error
	lastInput string
}

func (f *fakeMaestro) record(op string) error {
	f.calls = append(f.calls, op)
	return f.err
}

func (f *fakeMaestro) Tap(context.Context, finder.Finder, *trace.Context) error { return f.record("tap") }
func (f *fakeMaestro) DoubleTap(context.Context, finder.Finder, *trace.Context) error {
	return f.record("double_tap")
}
func (f *fakeMaestro) LongPress(context.Context, finder.Finder, *trace.Context) error {
	return f.record("long_press")
}
func (f *fakeMaestro) EnterText(_ context.Context, _ finder.Finder, text string, _ *trace.Context) error {
	f.lastInput = text
	return f.record("enter_text")
}
func (f *fakeMaestro) AssertVisible(context.Context, finder.Finder, *trace.Context) error {
	return f.record("assert_visible")
}
func (f *fakeMaestro) AssertNotVisible(context.Context, finder.Finder, *trace.Context) error {
	return f.record("assert_not_visible")
}
func (f *fakeMaestro) Swipe(_ context.Context, direction string, _ *trace.Context) error {
	return f.record("swipe " + direction)
}
func (f *fakeMaestro) Screenshot(context.Context, *trace.Context) (string, error) {
	f.calls = append(f.calls, "screenshot")
	return f.shot, f.shotErr
}

// fakeDriver scripts the driver session including connection behavior.
// connectErrs is consumed one entry per Connect call so a test can fail the
// first attempt and let a later one succeed; connectErr fails every call.
type fakeDriver struct {
	connected    bool
	connectErr   error
	connectErrs  []error
	connectCalls []driver.Endpoint
	endpoint     driver.Endpoint

	resp  driver.Response
	err   error
	calls []string
}

func (f *fakeDriver) IsConnected() bool          { return f.connected }
func (f *fakeDriver) Endpoint() driver.Endpoint  { return f.endpoint }
func (f *fakeDriver) Disconnect()                { f.connected = false }
func (f *fakeDriver) Connect(_ context.Context, ep driver.Endpoint, _ *trace.Context) error {
	f.connectCalls = append(f.connectCalls, ep)
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	} else if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.endpoint = ep
	return nil
}

func (f *fakeDriver) call(op string) (driver.Response, error) {
	f.calls = append(f.calls, op)
	return f.resp, f.err
}

func (f *fakeDriver) Tap(context.Context, finder.Finder, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("tap")
}
func (f *fakeDriver) EnterText(context.Context, string, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("enter_text")
}
func (f *fakeDriver) GetText(context.Context, finder.Finder, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("get_text")
}
func (f *fakeDriver) WaitFor(context.Context, finder.Finder, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("wait_for")
}
func (f *fakeDriver) WaitForAbsent(context.Context, finder.Finder, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("wait_for_absent")
}
func (f *fakeDriver) ScrollIntoView(context.Context, finder.Finder, float64, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("scroll_into_view")
}
func (f *fakeDriver) Screenshot(context.Context, *trace.Context, time.Duration) (driver.Response, error) {
	return f.call("screenshot")
}
func (f *fakeDriver) RenderTree(context.Context, *trace.Context) (driver.Response, error) {
	return f.call("render_tree")
}
func (f *fakeDriver) SemanticsTree(context.Context, *trace.Context) (driver.Response, error) {
	return f.call("semantics_tree")
}

// fakeDiscoverer scripts endpoint discovery.
type fakeDiscoverer struct {
	endpoint driver.Endpoint
	err      error
	calls    int
}

func (f *fakeDiscoverer) Discover(context.Context, int, *trace.Context) (driver.Endpoint, error) {
	f.calls++
	return f.endpoint, f.err
}

func newTestExecutor(m *fakeMaestro, d *fakeDriver, disc *fakeDiscoverer) *Executor {
	return NewExecutor(m, d, disc, 9223, nil)
}

func TestTap_MaestroSucceeds(t *testing.T) {
	m := &fakeMaestro{}
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"text": "Increment"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.BackendUsed == nil || *result.BackendUsed != core.BackendMaestro {
		t.Errorf("backend used = %v, want maestro", result.BackendUsed)
	}
	if len(result.BackendsTried) != 1 || result.BackendsTried[0] != "maestro" {
		t.Errorf("backends tried = %v", result.BackendsTried)
	}
	if result.FallbackOccurred {
		t.Error("fallback should not be reported")
	}
	if len(d.calls) != 0 {
		t.Errorf("driver should not have been called, got %v", d.calls)
	}

	wire := result.ToMap()
	if _, present := wire["fallback"]; present {
		t.Error("fallback key must be absent when no fallback occurred")
	}
	if wire["backend"] != "maestro" {
		t.Errorf("wire backend = %v", wire["backend"])
	}
}

func TestTap_FallsBackToDriver(t *testing.T) {
	m := &fakeMaestro{err: core.ErrElementNotFound.WithMessage("Element not found: Increment")}
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"text": "Increment"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.BackendUsed == nil || *result.BackendUsed != core.BackendDriver {
		t.Errorf("backend used = %v, want driver", result.BackendUsed)
	}
	if len(result.BackendsTried) != 2 {
		t.Errorf("backends tried = %v", result.BackendsTried)
	}
	if !result.FallbackOccurred {
		t.Error("fallback should be reported after two attempts")
	}
}

func TestTap_KeyFinderOnlyTriesDriver(t *testing.T) {
	m := &fakeMaestro{}
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"key": "counter"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if len(result.BackendsTried) != 1 || result.BackendsTried[0] != "driver" {
		t.Errorf("backends tried = %v, want [driver]", result.BackendsTried)
	}
	if len(m.calls) != 0 {
		t.Errorf("maestro should never run for a key finder, got %v", m.calls)
	}
}

func TestTap_IDFinderFailureDoesNotTouchDriver(t *testing.T) {
	m := &fakeMaestro{err: core.ErrElementNotFound}
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"id": "fab"})

	if result.Success {
		t.Fatal("expected failure")
	}
	if len(result.BackendsTried) != 1 || result.BackendsTried[0] != "maestro" {
		t.Errorf("backends tried = %v, want [maestro]", result.BackendsTried)
	}
	if !result.FallbackOccurred {
		t.Error("all attempted backends failed, fallback must be reported")
	}
	if len(d.calls) != 0 {
		t.Errorf("driver must not be attempted for an id finder, got %v", d.calls)
	}
}

func TestGetText_SkipsMaestro(t *testing.T) {
	m := &fakeMaestro{}
	d := &fakeDriver{connected: true, resp: driver.Response{
		Success: true,
		Result:  map[string]interface{}{"text": "42"},
	}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.GetText(context.Background(), map[string]interface{}{"text": "42"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Data != "42" {
		t.Errorf("data = %v, want 42", result.Data)
	}
	// Maestro appears in the tried list but as a skip, so no fallback.
	if len(result.BackendsTried) != 2 {
		t.Errorf("backends tried = %v", result.BackendsTried)
	}
	if result.FallbackOccurred {
		t.Error("a skipped backend must not count toward fallback")
	}
	if result.Attempts[0].Status != core.AttemptSkipped {
		t.Errorf("maestro attempt status = %s, want skipped", result.Attempts[0].Status)
	}
}

func TestGetText_NestedResponsePayload(t *testing.T) {
	// The VM service extension nests command payloads under "response".
	m := &fakeMaestro{}
	d := &fakeDriver{connected: true, resp: driver.Response{
		Success: true,
		Result:  map[string]interface{}{"isError": false, "response": map[string]interface{}{"text": "42"}},
	}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.GetText(context.Background(), map[string]interface{}{"key": "counter"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Data != "42" {
		t.Errorf("data = %v, want 42", result.Data)
	}
}

func TestScreenshot_NestedResponsePayload(t *testing.T) {
	d := &fakeDriver{connected: true, resp: driver.Response{
		Success: true,
		Result:  map[string]interface{}{"response": map[string]interface{}{"data": "cGln"}},
	}}
	e := newTestExecutor(&fakeMaestro{}, d, &fakeDiscoverer{})

	result := e.Screenshot(context.Background(), nil)

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Data != "cGln" {
		t.Errorf("data = %v, want cGln", result.Data)
	}
}

func TestScrollIntoView_SkipsMaestro(t *testing.T) {
	m := &fakeMaestro{}
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.ScrollIntoView(context.Background(), map[string]interface{}{"text": "row 99"}, 0.5)

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if len(m.calls) != 0 {
		t.Errorf("maestro must not run for scroll-into-view, got %v", m.calls)
	}
	if len(d.calls) != 1 || d.calls[0] != "scroll_into_view" {
		t.Errorf("driver calls = %v", d.calls)
	}
	if result.FallbackOccurred {
		t.Error("a skipped backend must not count toward fallback")
	}
}

func TestWidgetTree(t *testing.T) {
	tests := []struct {
		name      string
		semantics bool
		wantCall  string
	}{
		{"render tree", false, "render_tree"},
		{"semantics tree", true, "semantics_tree"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDriver{connected: true, resp: driver.Response{
				Success: true,
				Result:  map[string]interface{}{"response": map[string]interface{}{"tree": "RenderView#1"}},
			}}
			e := newTestExecutor(&fakeMaestro{}, d, &fakeDiscoverer{})

			result := e.WidgetTree(context.Background(), nil, tt.semantics)

			if !result.Success {
				t.Fatalf("expected success, got %v", result.Error)
			}
			if result.Data != "RenderView#1" {
				t.Errorf("data = %v, want RenderView#1", result.Data)
			}
			if len(d.calls) != 1 || d.calls[0] != tt.wantCall {
				t.Errorf("driver calls = %v, want [%s]", d.calls, tt.wantCall)
			}
			if len(result.BackendsTried) != 1 || result.BackendsTried[0] != "driver" {
				t.Errorf("backends tried = %v, want [driver]", result.BackendsTried)
			}
		})
	}
}

func TestBackendOverride(t *testing.T) {
	m := &fakeMaestro{}
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"text": "Increment", "backend": "driver"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if len(result.BackendsTried) != 1 || result.BackendsTried[0] != "driver" {
		t.Errorf("backends tried = %v, want [driver]", result.BackendsTried)
	}
	if len(m.calls) != 0 {
		t.Errorf("maestro must not run under a driver override, got %v", m.calls)
	}
}

func TestBackendOverride_Invalid(t *testing.T) {
	e := newTestExecutor(&fakeMaestro{}, &fakeDriver{connected: true}, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"text": "x", "backend": "selenium"})

	if result.Success {
		t.Fatal("expected validation failure")
	}
	if len(result.BackendsTried) != 0 {
		t.Errorf("no backend should have been tried, got %v", result.BackendsTried)
	}
}

func TestDriver_RecoveryViaDiscovery(t *testing.T) {
	d := &fakeDriver{connected: false, resp: driver.Response{Success: true}}
	disc := &fakeDiscoverer{endpoint: driver.Endpoint{Host: "localhost", Port: 9223}}
	e := newTestExecutor(&fakeMaestro{}, d, disc)

	result := e.Tap(context.Background(), map[string]interface{}{"key": "counter"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if disc.calls != 1 {
		t.Errorf("discovery calls = %d, want 1", disc.calls)
	}
	if len(d.connectCalls) != 1 || d.connectCalls[0].Port != 9223 {
		t.Errorf("connect calls = %v", d.connectCalls)
	}

	// Second call reuses the live session, no rediscovery.
	result = e.Tap(context.Background(), map[string]interface{}{"key": "counter"})
	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if disc.calls != 1 {
		t.Errorf("discovery calls after reuse = %d, want 1", disc.calls)
	}
}

func TestDriver_ReconnectsLastEndpointFirst(t *testing.T) {
	d := &fakeDriver{connected: false, resp: driver.Response{Success: true}}
	disc := &fakeDiscoverer{endpoint: driver.Endpoint{Host: "localhost", Port: 9999}}
	e := newTestExecutor(&fakeMaestro{}, d, disc)
	e.lastEndpoint = driver.Endpoint{Host: "localhost", Port: 9223}

	result := e.Tap(context.Background(), map[string]interface{}{"key": "counter"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if disc.calls != 0 {
		t.Errorf("discovery must not run when reconnect succeeds, calls = %d", disc.calls)
	}
	if len(d.connectCalls) != 1 || d.connectCalls[0].Port != 9223 {
		t.Errorf("connect calls = %v, want last known endpoint", d.connectCalls)
	}
}

func TestDriver_StaleEndpointTriggersRediscovery(t *testing.T) {
	// App restarted on a different port: reconnecting to the remembered
	// endpoint fails fast and a fresh discovery cycle takes over.
	d := &fakeDriver{
		connected:   false,
		connectErrs: []error{core.ErrConnectFailed.WithMessage("connection refused"), nil},
		resp:        driver.Response{Success: true},
	}
	disc := &fakeDiscoverer{endpoint: driver.Endpoint{Host: "localhost", Port: 9999}}
	e := newTestExecutor(&fakeMaestro{}, d, disc)
	e.lastEndpoint = driver.Endpoint{Host: "localhost", Port: 9223}

	result := e.Tap(context.Background(), map[string]interface{}{"key": "counter"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if disc.calls != 1 {
		t.Errorf("discovery calls = %d, want 1", disc.calls)
	}
	if len(d.connectCalls) != 2 {
		t.Fatalf("connect calls = %v, want stale endpoint then discovered one", d.connectCalls)
	}
	if d.connectCalls[0].Port != 9223 || d.connectCalls[1].Port != 9999 {
		t.Errorf("connect order = %v, want [9223 9999]", d.connectCalls)
	}
	if e.lastEndpoint.Port != 9999 {
		t.Errorf("last endpoint = %v, want the discovered one remembered", e.lastEndpoint)
	}
}

func TestDriver_DiscoveryFailureStillFallsBack(t *testing.T) {
	// Driver goes first for a screenshot; its discovery failure must not
	// prevent the accessibility fallback from running.
	m := &fakeMaestro{shot: "cGln"}
	d := &fakeDriver{connected: false}
	disc := &fakeDiscoverer{err: core.ErrNoEndpoint}
	e := newTestExecutor(m, d, disc)

	result := e.Screenshot(context.Background(), nil)

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.BackendUsed == nil || *result.BackendUsed != core.BackendMaestro {
		t.Errorf("backend used = %v, want maestro", result.BackendUsed)
	}
	if !result.FallbackOccurred {
		t.Error("driver attempt failed, fallback must be reported")
	}
}

func TestAllBackendsFail(t *testing.T) {
	m := &fakeMaestro{err: core.ErrElementNotFound.WithMessage("Element not found: Missing")}
	d := &fakeDriver{connected: true, resp: driver.Response{IsError: true, Err: "no widget matched"}}
	e := newTestExecutor(m, d, &fakeDiscoverer{})

	result := e.Tap(context.Background(), map[string]interface{}{"text": "Missing"})

	if result.Success {
		t.Fatal("expected failure")
	}
	if !result.FallbackOccurred {
		t.Error("fallback must be reported when all attempts fail")
	}
	ee, ok := result.Error.(*core.ExecutionError)
	if !ok || ee.Code != "all_backends_failed" {
		t.Errorf("error = %v, want all_backends_failed", result.Error)
	}

	wire := result.ToMap()
	if wire["backend"] != nil {
		t.Errorf("wire backend = %v, want null", wire["backend"])
	}
	if wire["fallback"] != true {
		t.Errorf("wire fallback = %v, want true", wire["fallback"])
	}
}

func TestUnavailableBackendIsSkipped(t *testing.T) {
	d := &fakeDriver{connected: true, resp: driver.Response{Success: true}}
	e := NewExecutor(nil, d, &fakeDiscoverer{}, 9223, nil)

	result := e.Tap(context.Background(), map[string]interface{}{"text": "Increment"})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.BackendUsed == nil || *result.BackendUsed != core.BackendDriver {
		t.Errorf("backend used = %v, want driver", result.BackendUsed)
	}
	if result.FallbackOccurred {
		t.Error("an unavailable backend is a skip, not a failed attempt")
	}
}

func TestEnterText_PassesValue(t *testing.T) {
	m := &fakeMaestro{}
	e := newTestExecutor(m, &fakeDriver{connected: true}, &fakeDiscoverer{})

	result := e.EnterText(context.Background(), map[string]interface{}{"text": "Email"}, "user@example.com")

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if m.lastInput != "user@example.com" {
		t.Errorf("input = %q", m.lastInput)
	}
}

func TestSwipe_InvalidDirection(t *testing.T) {
	m := &fakeMaestro{err: core.ErrInvalidArgument.WithMessage("invalid swipe direction")}
	e := newTestExecutor(m, &fakeDriver{connected: true}, &fakeDiscoverer{})

	result := e.Swipe(context.Background(), "DIAGONAL", nil)
	if result.Success {
		t.Fatal("expected failure")
	}
}
