package maestro

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/flutter-control/pkg/core"
)

// FlowBuilder accumulates Maestro commands and renders them as a flow
// document. Commands are YAML-marshalled so values with special characters
// stay quoted correctly.
type FlowBuilder struct {
	appID    string
	commands []interface{}
}

// NewFlowBuilder creates a builder for the given application id.
func NewFlowBuilder(appID string) *FlowBuilder {
	return &FlowBuilder{appID: appID}
}

// partial wraps text in a regex that matches anywhere within the element
// label, which mirrors how users expect "tap on X" to behave.
func partial(text string) string {
	return ".*" + text + ".*"
}

// TapOnText taps the first element whose text matches.
func (f *FlowBuilder) TapOnText(text string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{"tapOn": text})
	return f
}

// TapOnID taps an element by accessibility id.
func (f *FlowBuilder) TapOnID(id string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"tapOn": map[string]interface{}{"id": id},
	})
	return f
}

// DoubleTapOnText double-taps an element matched by partial text.
func (f *FlowBuilder) DoubleTapOnText(text string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"doubleTapOn": map[string]interface{}{"text": partial(text)},
	})
	return f
}

// LongPressOnText long-presses an element matched by partial text.
func (f *FlowBuilder) LongPressOnText(text string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"longPressOn": map[string]interface{}{"text": partial(text)},
	})
	return f
}

// InputText types into the currently focused field.
func (f *FlowBuilder) InputText(text string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{"inputText": text})
	return f
}

// EraseText clears the focused field.
func (f *FlowBuilder) EraseText() *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{"eraseText": 100})
	return f
}

// Swipe performs a directional swipe. Direction is UP, DOWN, LEFT or RIGHT.
func (f *FlowBuilder) Swipe(direction string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"swipe": map[string]interface{}{"direction": strings.ToUpper(direction)},
	})
	return f
}

// AssertVisible asserts an element with matching text is on screen.
func (f *FlowBuilder) AssertVisible(text string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"assertVisible": map[string]interface{}{"text": partial(text)},
	})
	return f
}

// AssertVisibleID asserts an element with the given id is on screen.
func (f *FlowBuilder) AssertVisibleID(id string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"assertVisible": map[string]interface{}{"id": id},
	})
	return f
}

// AssertNotVisible asserts no element with matching text is on screen.
func (f *FlowBuilder) AssertNotVisible(text string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"assertNotVisible": map[string]interface{}{"text": partial(text)},
	})
	return f
}

// AssertNotVisibleID asserts no element with the given id is on screen.
func (f *FlowBuilder) AssertNotVisibleID(id string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"assertNotVisible": map[string]interface{}{"id": id},
	})
	return f
}

// TakeScreenshot captures the screen to the named file (without extension).
func (f *FlowBuilder) TakeScreenshot(name string) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{"takeScreenshot": name})
	return f
}

// LaunchApp starts the application without clearing state.
func (f *FlowBuilder) LaunchApp() *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{"launchApp": nil})
	return f
}

// WaitUntilVisible waits up to timeoutMs for a matching element.
func (f *FlowBuilder) WaitUntilVisible(text string, timeoutMs int) *FlowBuilder {
	f.commands = append(f.commands, map[string]interface{}{
		"extendedWaitUntil": map[string]interface{}{
			"visible": map[string]interface{}{"text": partial(text)},
			"timeout": timeoutMs,
		},
	})
	return f
}

// Build renders the flow as a Maestro YAML document.
func (f *FlowBuilder) Build() (string, error) {
	if len(f.commands) == 0 {
		return "", core.ErrInvalidArgument.WithMessage("flow has no commands")
	}

	body, err := yaml.Marshal(f.commands)
	if err != nil {
		return "", core.ErrInvalidArgument.WithCause(err)
	}

	var sb strings.Builder
	sb.WriteString("appId: ")
	sb.WriteString(f.appID)
	sb.WriteString("\n---\n")
	sb.Write(body)
	return sb.String(), nil
}
