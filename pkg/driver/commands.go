package driver

import (
	"context"
	"time"

	"github.com/devicelab-dev/flutter-control/pkg/finder"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// High-level driver commands. Each returns the protocol Response for
// logical-failure inspection plus a transport/timeout error.

// Tap taps the widget matched by the finder.
func (c *Client) Tap(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdTap, Params: f.Serialize(), Timeout: timeout}, tc)
}

// EnterText types into the currently focused field. The driver has no
// per-widget text entry; callers tap the target field first.
func (c *Client) EnterText(ctx context.Context, text string, tc *trace.Context, timeout time.Duration) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdEnterText, Params: map[string]interface{}{"text": text}, Timeout: timeout}, tc)
}

// GetText reads the text of the matched widget.
func (c *Client) GetText(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdGetText, Params: f.Serialize(), Timeout: timeout}, tc)
}

// WaitFor waits for the matched widget to appear.
func (c *Client) WaitFor(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdWaitFor, Params: f.Serialize(), Timeout: timeout}, tc)
}

// WaitForAbsent waits for the matched widget to disappear.
func (c *Client) WaitForAbsent(ctx context.Context, f finder.Finder, tc *trace.Context, timeout time.Duration) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdWaitForAbsent, Params: f.Serialize(), Timeout: timeout}, tc)
}

// ScrollIntoView scrolls until the matched widget is visible.
func (c *Client) ScrollIntoView(ctx context.Context, f finder.Finder, alignment float64, tc *trace.Context, timeout time.Duration) (Response, error) {
	params := f.Serialize()
	params["alignment"] = alignment
	return c.Execute(ctx, Request{Command: CmdScrollIntoView, Params: params, Timeout: timeout}, tc)
}

// RenderTree dumps the render tree.
func (c *Client) RenderTree(ctx context.Context, tc *trace.Context) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdGetRenderTree}, tc)
}

// SemanticsTree dumps the semantics (accessibility) tree.
func (c *Client) SemanticsTree(ctx context.Context, tc *trace.Context) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdGetSemanticsTree}, tc)
}

// Screenshot captures the screen; the response carries base64 PNG data.
func (c *Client) Screenshot(ctx context.Context, tc *trace.Context, timeout time.Duration) (Response, error) {
	return c.Execute(ctx, Request{Command: CmdScreenshot, Timeout: timeout}, tc)
}
