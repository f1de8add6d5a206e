package device

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// SimulatorDevice describes an available iOS simulator.
type SimulatorDevice struct {
	Name    string
	UDID    string
	Runtime string
	State   string
}

// FindSimctl verifies that xcrun/simctl is available.
func FindSimctl() (string, error) {
	path, err := exec.LookPath("xcrun")
	if err != nil {
		return "", fmt.Errorf("xcrun not found; install Xcode Command Line Tools: xcode-select --install")
	}
	return path, nil
}

// simctlDevicesOutput represents the JSON output from xcrun simctl list devices.
type simctlDevicesOutput struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

// ListSimulators returns all available iOS simulators.
func ListSimulators() ([]SimulatorDevice, error) {
	if _, err := FindSimctl(); err != nil {
		return nil, err
	}

	cmd := exec.Command("xcrun", "simctl", "list", "devices", "available", "-j")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list simulators: %w", err)
	}

	var data simctlDevicesOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, fmt.Errorf("failed to parse simctl output: %w", err)
	}

	var sims []SimulatorDevice
	for runtime, devices := range data.Devices {
		for _, dev := range devices {
			if !dev.IsAvailable {
				continue
			}
			sims = append(sims, SimulatorDevice{
				Name:    dev.Name,
				UDID:    dev.UDID,
				Runtime: runtime,
				State:   dev.State,
			})
		}
	}
	return sims, nil
}

// BootedSimulator returns the UDID of the first booted simulator.
// Used to default the device when none is configured on iOS.
func BootedSimulator() (string, error) {
	sims, err := ListSimulators()
	if err != nil {
		return "", err
	}
	for _, sim := range sims {
		if strings.EqualFold(sim.State, "Booted") {
			return sim.UDID, nil
		}
	}
	return "", fmt.Errorf("no booted simulator found; start one with: xcrun simctl boot <udid>")
}
