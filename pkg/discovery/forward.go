package discovery

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/driver"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// DevicePortFromURI extracts the device-side port from a VM service URI.
func DevicePortFromURI(uri string) (int, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return 0, core.ErrNoEndpoint.WithCause(err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil || port == 0 {
		return 0, core.ErrNoEndpoint.WithMessage(fmt.Sprintf("no port in VM service URI %q", uri))
	}
	return port, nil
}

// RewriteHost substitutes the device-local host:port with a caller-reachable
// one, preserving the path that carries the auth token.
func RewriteHost(uri, localHost string, localPort int) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", core.ErrNoEndpoint.WithCause(err)
	}
	parsed.Host = fmt.Sprintf("%s:%d", localHost, localPort)
	return parsed.String(), nil
}

// Forward establishes a caller-reachable path to a device-side VM service URI
// and returns the endpoint to connect to. On iOS the simulator shares the
// host network namespace, so the device URI is already reachable and the
// forward is a no-op.
func (d *Discoverer) Forward(uri string, localPort int, tc *trace.Context) (driver.Endpoint, error) {
	if d.Platform == PlatformIOS {
		logEvent(tc, "FORWARD_SKIP", "iOS simulator shares the host network")
		return driver.Endpoint{URI: uri, Host: "127.0.0.1"}, nil
	}

	if d.ADB == nil {
		return driver.Endpoint{}, core.ErrForwardFailed.WithMessage("no adb device available")
	}

	devicePort, err := DevicePortFromURI(uri)
	if err != nil {
		return driver.Endpoint{}, err
	}

	if err := d.ADB.Forward(localPort, devicePort); err != nil {
		logEvent(tc, "FORWARD_ERR", err.Error())
		return driver.Endpoint{}, core.ErrForwardFailed.WithCause(err)
	}

	forwarded, err := RewriteHost(uri, "localhost", localPort)
	if err != nil {
		return driver.Endpoint{}, err
	}
	logEvent(tc, "FORWARD_OK", fmt.Sprintf("localhost:%d -> device:%d", localPort, devicePort))

	return driver.Endpoint{URI: forwarded, Host: "localhost", Port: localPort}, nil
}

// Discover runs the full pipeline: locate the device-side URI, then establish
// the forward. The returned endpoint is ready for the driver client.
func (d *Discoverer) Discover(ctx context.Context, localPort int, tc *trace.Context) (driver.Endpoint, error) {
	uri, err := d.DiscoverURI(ctx, tc)
	if err != nil {
		return driver.Endpoint{}, err
	}
	return d.Forward(uri, localPort, tc)
}

// listListeningSockets shells out to lsof for the iOS simulator port scan.
func listListeningSockets(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-i", "-P", "-n").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
