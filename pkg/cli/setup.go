package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutter-control/pkg/config"
	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/device"
	"github.com/devicelab-dev/flutter-control/pkg/discovery"
	"github.com/devicelab-dev/flutter-control/pkg/driver"
	"github.com/devicelab-dev/flutter-control/pkg/logger"
	"github.com/devicelab-dev/flutter-control/pkg/maestro"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
	"github.com/devicelab-dev/flutter-control/pkg/unified"
)

// finderFlags are shared by every element-targeting command.
var finderFlags = []cli.Flag{
	&cli.StringFlag{Name: "text", Usage: "Match by rendered text (both backends)"},
	&cli.StringFlag{Name: "semantics-label", Usage: "Match by semantics label (both backends)"},
	&cli.StringFlag{Name: "id", Usage: "Match by accessibility id (accessibility only)"},
	&cli.StringFlag{Name: "key", Usage: "Match by widget key (driver only)"},
	&cli.StringFlag{Name: "type", Usage: "Match by widget type (driver only)"},
	&cli.StringFlag{Name: "tooltip", Usage: "Match by tooltip message (driver only)"},
	&cli.BoolFlag{Name: "regex", Usage: "Treat semantics label as a regular expression"},
	&cli.StringFlag{Name: "backend", Usage: "Force a backend: maestro or driver"},
}

// constraintsFromFlags builds the finder constraint map from command flags.
func constraintsFromFlags(c *cli.Context) map[string]interface{} {
	constraints := map[string]interface{}{}
	for flag, key := range map[string]string{
		"text":            "text",
		"semantics-label": "semanticsLabel",
		"id":              "id",
		"key":             "key",
		"type":            "type",
		"tooltip":         "tooltip",
		"backend":         "backend",
	} {
		if v := c.String(flag); v != "" {
			constraints[key] = v
		}
	}
	if c.Bool("regex") {
		constraints["isRegex"] = true
	}
	return constraints
}

// loadConfig merges the config file with command-line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, err
	}

	if v := c.String("platform"); v != "" {
		cfg.Platform = v
	}
	if v := c.String("device"); v != "" {
		cfg.Device = v
	}
	if v := c.String("app-id"); v != "" {
		cfg.AppID = v
	}
	if v := c.Int("local-port"); v != 0 {
		cfg.LocalPort = v
	}
	if v := c.Duration("timeout"); v != 0 {
		cfg.TimeoutMs = int(v.Milliseconds())
	}
	if c.Bool("verbose") {
		cfg.Verbose = true
	}
	return cfg, nil
}

// buildExecutor wires both backends from configuration. A backend whose host
// tooling is missing is left nil; the executor skips it at run time.
func buildExecutor(c *cli.Context) (*unified.Executor, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
		if err := logger.Init(filepath.Join(cfg.LogDir, "flutter-control.log")); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		}
	}
	logger.SetVerbose(cfg.Verbose)

	platform := discovery.PlatformAndroid
	var adb discovery.ADB
	if cfg.Platform == "ios" {
		platform = discovery.PlatformIOS
		if cfg.Device == "" {
			if udid, err := device.BootedSimulator(); err != nil {
				logger.Warn("no simulator resolved: %v", err)
			} else {
				cfg.Device = udid
			}
		}
	} else {
		if dev, err := device.New(cfg.Device); err != nil {
			logger.Warn("adb unavailable, driver discovery disabled: %v", err)
		} else {
			adb = dev
		}
	}

	var accessibility unified.AccessibilityBackend
	if runner, err := maestro.NewRunner(cfg.Device, cfg.AppID); err != nil {
		logger.Warn("accessibility backend unavailable: %v", err)
	} else {
		accessibility = runner
	}

	if err := os.MkdirAll(cfg.TraceDir, 0o755); err != nil {
		cfg.TraceDir = ""
	}

	executor := unified.NewExecutor(
		accessibility,
		driver.NewClient(),
		discovery.New(platform, adb),
		cfg.LocalPort,
		trace.NewStore(cfg.TraceDir),
	)
	executor.SetTimeout(cfg.Timeout())
	return executor, cfg, nil
}

// printResult writes the result JSON to stdout and maps failure to exit code 1.
func printResult(result *core.ExecutionResult) error {
	b, err := json.MarshalIndent(result.ToMap(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}
