package maestro

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/finder"
	"github.com/devicelab-dev/flutter-control/pkg/logger"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// DefaultFlowTimeout bounds one maestro CLI invocation.
const DefaultFlowTimeout = 120 * time.Second

// Runner drives the Maestro CLI against one device.
type Runner struct {
	// Configuration
	binaryPath string
	deviceID   string
	appID      string
	flowDir    string

	// execFlow is swapped in tests to avoid spawning processes.
	execFlow func(ctx context.Context, flowPath string) (int, string, string, error)
}

// NewRunner locates the maestro binary and prepares a scratch directory for
// synthesized flows. deviceID may be empty when only one device is attached.
func NewRunner(deviceID, appID string) (*Runner, error) {
	binary, err := FindMaestro()
	if err != nil {
		return nil, err
	}

	flowDir := filepath.Join(os.TempDir(), "flutter-control-flows")
	if err := os.MkdirAll(flowDir, 0o755); err != nil {
		return nil, core.ErrInvalidArgument.WithMessage("cannot create flow directory").WithCause(err)
	}

	r := &Runner{
		binaryPath: binary,
		deviceID:   deviceID,
		appID:      appID,
		flowDir:    flowDir,
	}
	r.execFlow = r.runMaestro
	return r, nil
}

// FindMaestro locates the maestro binary in the usual install locations.
func FindMaestro() (string, error) {
	if p, err := exec.LookPath("maestro"); err == nil {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidate := filepath.Join(home, ".maestro", "bin", "maestro")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if _, err := os.Stat("/usr/local/bin/maestro"); err == nil {
		return "/usr/local/bin/maestro", nil
	}

	return "", core.NewExecutionError(core.ErrCategoryValidation, "maestro_not_found",
		"maestro CLI not found; install it or add it to PATH")
}

// AppID returns the application id flows are synthesized for.
func (r *Runner) AppID() string { return r.appID }

// Tap taps the element described by the finder.
func (r *Runner) Tap(ctx context.Context, f finder.Finder, tc *trace.Context) error {
	flow, err := r.flowFor(f, func(b *FlowBuilder, text string) { b.TapOnText(text) },
		func(b *FlowBuilder, id string) { b.TapOnID(id) })
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// DoubleTap double-taps the element described by the finder.
func (r *Runner) DoubleTap(ctx context.Context, f finder.Finder, tc *trace.Context) error {
	flow, err := r.flowFor(f, func(b *FlowBuilder, text string) { b.DoubleTapOnText(text) }, nil)
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// LongPress long-presses the element described by the finder.
func (r *Runner) LongPress(ctx context.Context, f finder.Finder, tc *trace.Context) error {
	flow, err := r.flowFor(f, func(b *FlowBuilder, text string) { b.LongPressOnText(text) }, nil)
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// EnterText taps the target field, clears it, then types the text.
func (r *Runner) EnterText(ctx context.Context, f finder.Finder, text string, tc *trace.Context) error {
	flow, err := r.flowFor(f,
		func(b *FlowBuilder, t string) { b.TapOnText(t); b.EraseText(); b.InputText(text) },
		func(b *FlowBuilder, id string) { b.TapOnID(id); b.EraseText(); b.InputText(text) })
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// AssertVisible checks the described element is on screen.
func (r *Runner) AssertVisible(ctx context.Context, f finder.Finder, tc *trace.Context) error {
	flow, err := r.flowFor(f, func(b *FlowBuilder, text string) { b.AssertVisible(text) },
		func(b *FlowBuilder, id string) { b.AssertVisibleID(id) })
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// AssertNotVisible checks no matching element is on screen.
func (r *Runner) AssertNotVisible(ctx context.Context, f finder.Finder, tc *trace.Context) error {
	flow, err := r.flowFor(f, func(b *FlowBuilder, text string) { b.AssertNotVisible(text) },
		func(b *FlowBuilder, id string) { b.AssertNotVisibleID(id) })
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// Swipe performs a directional swipe on the screen.
func (r *Runner) Swipe(ctx context.Context, direction string, tc *trace.Context) error {
	switch strings.ToUpper(direction) {
	case "UP", "DOWN", "LEFT", "RIGHT":
	default:
		return core.ErrInvalidArgument.WithMessage(fmt.Sprintf("invalid swipe direction %q", direction))
	}
	flow, err := NewFlowBuilder(r.appID).Swipe(direction).Build()
	if err != nil {
		return err
	}
	return r.run(ctx, flow, tc)
}

// Screenshot captures the screen and returns the PNG as base64.
func (r *Runner) Screenshot(ctx context.Context, tc *trace.Context) (string, error) {
	name := "shot_" + trace.NewID()
	flow, err := NewFlowBuilder(r.appID).TakeScreenshot(name).Build()
	if err != nil {
		return "", err
	}

	// Maestro writes screenshots next to the flow file.
	if err := r.run(ctx, flow, tc); err != nil {
		return "", err
	}

	imgPath := filepath.Join(r.flowDir, name+".png")
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return "", core.NewExecutionError(core.ErrCategoryLogical, "screenshot_missing",
			"maestro reported success but no screenshot file was written").WithCause(err)
	}
	defer os.Remove(imgPath)
	return base64.StdEncoding.EncodeToString(data), nil
}

// flowFor builds a one-command flow for the finder. Maestro matches by
// rendered text, accessibility id, or semantics label; anything else is only
// expressible through the driver protocol.
func (r *Runner) flowFor(f finder.Finder, byText func(*FlowBuilder, string), byID func(*FlowBuilder, string)) (string, error) {
	b := NewFlowBuilder(r.appID)
	switch f.Kind() {
	case finder.KindText, finder.KindSemanticsLabel:
		byText(b, f.Value())
	case finder.KindID:
		if byID == nil {
			return "", core.ErrUnsupportedFinder.WithDetails(map[string]interface{}{"finder": f.Describe()})
		}
		byID(b, f.Value())
	default:
		return "", core.ErrUnsupportedFinder.WithDetails(map[string]interface{}{"finder": f.Describe()})
	}
	return b.Build()
}

// run writes the flow to disk, executes it, and maps the parsed result to a
// structured error.
func (r *Runner) run(ctx context.Context, flow string, tc *trace.Context) error {
	flowPath := filepath.Join(r.flowDir, "flow_"+trace.NewID()+".yaml")
	if err := os.WriteFile(flowPath, []byte(flow), 0o644); err != nil {
		return core.ErrInvalidArgument.WithMessage("cannot write flow file").WithCause(err)
	}
	defer os.Remove(flowPath)

	logEvent(tc, "MAESTRO_FLOW", filepath.Base(flowPath))

	exitCode, stdout, stderr, err := r.execFlow(ctx, flowPath)
	if err != nil {
		if ctx.Err() != nil {
			return core.ErrRequestTimeout.WithMessage("maestro flow cancelled").WithCause(ctx.Err())
		}
		return core.NewExecutionError(core.ErrCategoryConnection, "maestro_exec_failed",
			"could not execute maestro CLI").WithCause(err)
	}

	result := ParseOutput(exitCode, stdout, stderr)
	if result.Success {
		return nil
	}
	return resultError(result)
}

// runMaestro spawns the CLI. A non-zero exit is a parsed outcome, not an
// exec error.
func (r *Runner) runMaestro(ctx context.Context, flowPath string) (int, string, string, error) {
	args := []string{}
	if r.deviceID != "" {
		args = append(args, "--device", r.deviceID)
	}
	args = append(args, "test", flowPath)

	cmd := exec.CommandContext(ctx, r.binaryPath, args...)
	cmd.Dir = r.flowDir // takeScreenshot writes relative to the working dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("maestro %s", strings.Join(args, " "))
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
		}
		return -1, stdout.String(), stderr.String(), err
	}
	return 0, stdout.String(), stderr.String(), nil
}

// resultError maps a parsed failure onto the shared error taxonomy.
func resultError(result Result) *core.ExecutionError {
	details := map[string]interface{}{"exit_code": result.ExitCode}
	if result.OutputDir != "" {
		details["output_dir"] = result.OutputDir
	}

	msg := result.ErrorMessage
	switch {
	case strings.HasPrefix(msg, "Element not found"):
		return core.ErrElementNotFound.WithMessage(msg).WithDetails(details)
	case msg == "Timeout waiting for element":
		return core.ErrRequestTimeout.WithMessage(msg).WithDetails(details)
	case msg == "App not running on device":
		return core.ErrAppNotRunning.WithDetails(details)
	default:
		return core.NewExecutionError(core.ErrCategoryLogical, "maestro_failed", msg).WithDetails(details)
	}
}

func logEvent(tc *trace.Context, event, detail string) {
	if tc != nil {
		tc.Log(event, detail)
	}
}
