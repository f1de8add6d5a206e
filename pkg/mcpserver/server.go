// Package mcpserver exposes the unified executor as MCP tools so agent
// front ends can drive the app under test.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/devicelab-dev/flutter-control/pkg/unified"
)

// Server wraps the MCP server around one executor.
type Server struct {
	executor *unified.Executor
	mcp      *mcpserver.MCPServer
}

// Config holds MCP server configuration.
type Config struct {
	Transport string // stdio or streamable-http
	Port      int
}

// New creates and configures the MCP server with all flutter-control tools.
func New(executor *unified.Executor, version string) *Server {
	s := &Server{executor: executor}

	s.mcp = mcpserver.NewMCPServer(
		"flutter-control",
		version,
	)

	s.registerTools()
	return s
}

// Serve starts the MCP server with the configured transport.
func (s *Server) Serve(cfg Config) error {
	switch cfg.Transport {
	case "stdio":
		return mcpserver.ServeStdio(s.mcp)
	case "streamable-http":
		httpServer := mcpserver.NewStreamableHTTPServer(s.mcp)
		return httpServer.Start(fmt.Sprintf(":%d", cfg.Port))
	default:
		return fmt.Errorf("unsupported transport: %s (use stdio or streamable-http)", cfg.Transport)
	}
}

// finderOptions are shared by every element-targeting tool.
func finderOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("text", mcp.Description("Match by rendered text (both backends)")),
		mcp.WithString("semanticsLabel", mcp.Description("Match by semantics label (both backends)")),
		mcp.WithString("id", mcp.Description("Match by accessibility id (accessibility backend only)")),
		mcp.WithString("contentDescription", mcp.Description("Synonym for id")),
		mcp.WithString("key", mcp.Description("Match by widget key (driver backend only)")),
		mcp.WithString("type", mcp.Description("Match by widget type (driver backend only)")),
		mcp.WithString("tooltip", mcp.Description("Match by tooltip message (driver backend only)")),
		mcp.WithBoolean("isRegex", mcp.Description("Treat semanticsLabel as a regular expression")),
		mcp.WithString("backend", mcp.Description("Force a backend: maestro or driver")),
	}
}

func (s *Server) registerTools() {
	// flutter_tap
	s.mcp.AddTool(
		mcp.NewTool("flutter_tap",
			append([]mcp.ToolOption{
				mcp.WithDescription("Tap the element matching the finder. Falls back between backends automatically."),
				mcp.WithBoolean("double", mcp.Description("Double-tap instead of tap")),
				mcp.WithBoolean("long", mcp.Description("Long-press instead of tap")),
			}, finderOptions()...)...,
		),
		s.handleTap,
	)

	// flutter_assert_visible
	s.mcp.AddTool(
		mcp.NewTool("flutter_assert_visible",
			append([]mcp.ToolOption{
				mcp.WithDescription("Assert an element matching the finder is visible on screen."),
			}, finderOptions()...)...,
		),
		s.handleAssertVisible,
	)

	// flutter_assert_not_visible
	s.mcp.AddTool(
		mcp.NewTool("flutter_assert_not_visible",
			append([]mcp.ToolOption{
				mcp.WithDescription("Assert no element matching the finder is visible on screen."),
			}, finderOptions()...)...,
		),
		s.handleAssertNotVisible,
	)

	// flutter_get_text
	s.mcp.AddTool(
		mcp.NewTool("flutter_get_text",
			append([]mcp.ToolOption{
				mcp.WithDescription("Read the rendered text of the matching element. Requires the driver backend."),
			}, finderOptions()...)...,
		),
		s.handleGetText,
	)

	// flutter_enter_text
	s.mcp.AddTool(
		mcp.NewTool("flutter_enter_text",
			append([]mcp.ToolOption{
				mcp.WithDescription("Clear the matching text field and type into it."),
				mcp.WithString("value", mcp.Description("Text to type"), mcp.Required()),
			}, finderOptions()...)...,
		),
		s.handleEnterText,
	)

	// flutter_swipe
	s.mcp.AddTool(
		mcp.NewTool("flutter_swipe",
			mcp.WithDescription("Swipe the screen in a direction."),
			mcp.WithString("direction", mcp.Description("UP, DOWN, LEFT or RIGHT"), mcp.Required()),
		),
		s.handleSwipe,
	)

	// flutter_scroll_into_view
	s.mcp.AddTool(
		mcp.NewTool("flutter_scroll_into_view",
			append([]mcp.ToolOption{
				mcp.WithDescription("Scroll until the matching element is visible. Requires the driver backend."),
				mcp.WithNumber("alignment", mcp.Description("Target alignment within the viewport, 0.0 (leading edge) to 1.0")),
			}, finderOptions()...)...,
		),
		s.handleScrollIntoView,
	)

	// flutter_widget_tree
	s.mcp.AddTool(
		mcp.NewTool("flutter_widget_tree",
			mcp.WithDescription("Dump the render tree, or the semantics tree. Requires the driver backend."),
			mcp.WithBoolean("semantics", mcp.Description("Dump the semantics tree instead of the render tree")),
		),
		s.handleWidgetTree,
	)

	// flutter_screenshot
	s.mcp.AddTool(
		mcp.NewTool("flutter_screenshot",
			mcp.WithDescription("Capture the screen; returns base64 PNG data."),
			mcp.WithString("backend", mcp.Description("Force a backend: maestro or driver")),
		),
		s.handleScreenshot,
	)

	// flutter_driver_discover
	s.mcp.AddTool(
		mcp.NewTool("flutter_driver_discover",
			mcp.WithDescription("Locate the app's VM service endpoint and report the forwarded address."),
		),
		s.handleDiscover,
	)

	// flutter_traces
	s.mcp.AddTool(
		mcp.NewTool("flutter_traces",
			mcp.WithDescription("Inspect recent operation traces for debugging backend selection and fallback."),
			mcp.WithString("trace_id", mcp.Description("Return one trace by id")),
			mcp.WithNumber("count", mcp.Description("Number of recent traces to return (default 10)")),
		),
		s.handleTraces,
	)
}

func (s *Server) handleTap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	switch {
	case boolParam(params, "double", false):
		return resultToContent(s.executor.DoubleTap(ctx, params)), nil
	case boolParam(params, "long", false):
		return resultToContent(s.executor.LongPress(ctx, params)), nil
	default:
		return resultToContent(s.executor.Tap(ctx, params)), nil
	}
}

func (s *Server) handleAssertVisible(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultToContent(s.executor.AssertVisible(ctx, request.GetArguments())), nil
}

func (s *Server) handleAssertNotVisible(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultToContent(s.executor.AssertNotVisible(ctx, request.GetArguments())), nil
}

func (s *Server) handleGetText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultToContent(s.executor.GetText(ctx, request.GetArguments())), nil
}

func (s *Server) handleEnterText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	value := stringParam(params, "value", "")
	if value == "" {
		return mcp.NewToolResultError("value is required"), nil
	}
	return resultToContent(s.executor.EnterText(ctx, params, value)), nil
}

func (s *Server) handleSwipe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	direction := stringParam(params, "direction", "")
	if direction == "" {
		return mcp.NewToolResultError("direction is required"), nil
	}
	return resultToContent(s.executor.Swipe(ctx, direction, params)), nil
}

func (s *Server) handleScrollIntoView(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	return resultToContent(s.executor.ScrollIntoView(ctx, params, floatParam(params, "alignment", 0))), nil
}

func (s *Server) handleWidgetTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	return resultToContent(s.executor.WidgetTree(ctx, params, boolParam(params, "semantics", false))), nil
}

func (s *Server) handleScreenshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultToContent(s.executor.Screenshot(ctx, request.GetArguments())), nil
}

func (s *Server) handleDiscover(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	endpoint, err := s.executor.DiscoverEndpoint(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, _ := json.Marshal(map[string]interface{}{
		"uri":  endpoint.URI,
		"host": endpoint.Host,
		"port": endpoint.Port,
		"ws":   endpoint.WSURL(),
	})
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleTraces(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := s.executor.Traces()
	if store == nil {
		return mcp.NewToolResultError("trace persistence is disabled"), nil
	}

	params := request.GetArguments()
	if id := stringParam(params, "trace_id", ""); id != "" {
		record, ok := store.Get(id)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("trace %s not found", id)), nil
		}
		b, _ := json.MarshalIndent(record, "", "  ")
		return mcp.NewToolResultText(string(b)), nil
	}

	count := intParam(params, "count", 10)
	b, _ := json.MarshalIndent(store.Recent(count), "", "  ")
	return mcp.NewToolResultText(string(b)), nil
}
