// Package cli provides the command-line interface for flutter-control.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Platform the app runs on (android, ios)",
		EnvVars: []string{"FLUTTER_CONTROL_PLATFORM"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Device serial or simulator UDID",
		EnvVars: []string{"FLUTTER_CONTROL_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "app-id",
		Usage:   "Application bundle id (e.g. com.example.app)",
		EnvVars: []string{"FLUTTER_CONTROL_APP_ID"},
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to config.yaml",
	},
	&cli.IntFlag{
		Name:    "local-port",
		Usage:   "Host-side port for the forwarded VM service",
		EnvVars: []string{"FLUTTER_CONTROL_LOCAL_PORT"},
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-attempt timeout for backend operations",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging to stderr",
		EnvVars: []string{"FLUTTER_CONTROL_VERBOSE"},
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "flutter-control",
		Usage:   "Drive a running Flutter app through accessibility and driver backends",
		Version: Version,
		Description: `flutter-control taps, types, swipes and asserts against a running app,
choosing between the Maestro accessibility backend and the Flutter
Driver protocol per finder, with automatic fallback and session recovery.

Examples:
  flutter-control tap --text "Increment"
  flutter-control assert --key counter_label
  flutter-control text --key counter_label
  flutter-control input --id email_field --value "user@example.com"
  flutter-control discover
  flutter-control mcp --transport stdio`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			mcpCommand,
			tapCommand,
			assertCommand,
			textCommand,
			inputCommand,
			scrollCommand,
			swipeCommand,
			treeCommand,
			screenshotCommand,
			discoverCommand,
			tracesCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
