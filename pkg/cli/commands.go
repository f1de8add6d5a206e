package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutter-control/pkg/mcpserver"
)

var tapCommand = &cli.Command{
	Name:  "tap",
	Usage: "Tap the element matching the finder",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "double", Usage: "Double-tap instead of tap"},
		&cli.BoolFlag{Name: "long", Usage: "Long-press instead of tap"},
	}, finderFlags...),
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()

		constraints := constraintsFromFlags(c)
		switch {
		case c.Bool("double"):
			return printResult(executor.DoubleTap(c.Context, constraints))
		case c.Bool("long"):
			return printResult(executor.LongPress(c.Context, constraints))
		default:
			return printResult(executor.Tap(c.Context, constraints))
		}
	},
}

var assertCommand = &cli.Command{
	Name:  "assert",
	Usage: "Assert an element is visible (or absent with --gone)",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "gone", Usage: "Assert the element is NOT visible"},
	}, finderFlags...),
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()

		constraints := constraintsFromFlags(c)
		if c.Bool("gone") {
			return printResult(executor.AssertNotVisible(c.Context, constraints))
		}
		return printResult(executor.AssertVisible(c.Context, constraints))
	},
}

var textCommand = &cli.Command{
	Name:  "text",
	Usage: "Read the rendered text of the matching element",
	Flags: finderFlags,
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()
		return printResult(executor.GetText(c.Context, constraintsFromFlags(c)))
	},
}

var inputCommand = &cli.Command{
	Name:  "input",
	Usage: "Clear the matching text field and type into it",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "value", Usage: "Text to type", Required: true},
	}, finderFlags...),
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()
		return printResult(executor.EnterText(c.Context, constraintsFromFlags(c), c.String("value")))
	},
}

var scrollCommand = &cli.Command{
	Name:  "scroll",
	Usage: "Scroll until the matching element is visible",
	Flags: append([]cli.Flag{
		&cli.Float64Flag{Name: "alignment", Usage: "Target alignment within the viewport, 0.0 to 1.0"},
	}, finderFlags...),
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()
		return printResult(executor.ScrollIntoView(c.Context, constraintsFromFlags(c), c.Float64("alignment")))
	},
}

var treeCommand = &cli.Command{
	Name:  "tree",
	Usage: "Dump the render tree, or the semantics tree with --semantics",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "semantics", Usage: "Dump the semantics tree instead of the render tree"},
	},
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()
		return printResult(executor.WidgetTree(c.Context, map[string]interface{}{}, c.Bool("semantics")))
	},
}

var swipeCommand = &cli.Command{
	Name:      "swipe",
	Usage:     "Swipe the screen in a direction",
	ArgsUsage: "<up|down|left|right>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("swipe requires exactly one direction argument", 2)
		}
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()
		return printResult(executor.Swipe(c.Context, c.Args().First(), map[string]interface{}{}))
	},
}

var screenshotCommand = &cli.Command{
	Name:  "screenshot",
	Usage: "Capture the screen; prints base64 PNG in the result data",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "backend", Usage: "Force a backend: maestro or driver"},
	},
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()

		constraints := map[string]interface{}{}
		if v := c.String("backend"); v != "" {
			constraints["backend"] = v
		}
		return printResult(executor.Screenshot(c.Context, constraints))
	},
}

var discoverCommand = &cli.Command{
	Name:  "discover",
	Usage: "Locate the app's VM service endpoint and print the forwarded address",
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()

		endpoint, err := executor.DiscoverEndpoint(c.Context)
		if err != nil {
			return cli.Exit(fmt.Sprintf("discovery failed: %v", err), 1)
		}
		b, _ := json.MarshalIndent(map[string]interface{}{
			"uri":  endpoint.URI,
			"host": endpoint.Host,
			"port": endpoint.Port,
			"ws":   endpoint.WSURL(),
		}, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var tracesCommand = &cli.Command{
	Name:  "traces",
	Usage: "Inspect recent operation traces",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "trace-id", Usage: "Show one trace by id"},
		&cli.IntFlag{Name: "count", Usage: "Number of recent traces", Value: 10},
	},
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()

		store := executor.Traces()
		if store == nil {
			return cli.Exit("trace persistence is disabled", 1)
		}

		if id := c.String("trace-id"); id != "" {
			record, ok := store.Get(id)
			if !ok {
				return cli.Exit(fmt.Sprintf("trace %s not found", id), 1)
			}
			b, _ := json.MarshalIndent(record, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		b, _ := json.MarshalIndent(store.Recent(c.Int("count")), "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var mcpCommand = &cli.Command{
	Name:  "mcp",
	Usage: "Serve the executor as MCP tools for agent front ends",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "transport",
			Usage: "Transport: stdio or streamable-http",
			Value: "stdio",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "Listen port for streamable-http",
			Value: 8931,
		},
	},
	Action: func(c *cli.Context) error {
		executor, _, err := buildExecutor(c)
		if err != nil {
			return err
		}
		defer executor.Close()

		server := mcpserver.New(executor, Version)
		return server.Serve(mcpserver.Config{
			Transport: c.String("transport"),
			Port:      c.Int("port"),
		})
	},
}
