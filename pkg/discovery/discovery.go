// Package discovery locates the Dart VM service endpoint advertised by a
// running Flutter app and establishes a locally reachable path to it.
//
// Strategy order: mDNS browse for the advertised service record, then a
// bounded logcat tail (Android), then a loopback socket scan of the app
// process (iOS simulator). Each stage failing is non-fatal; only exhausting
// all of them surfaces as "no endpoint found".
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/trace"
)

// MDNSService is the Bonjour service type the Dart VM service advertises,
// with the auth code carried in the TXT record.
const MDNSService = "_dartVmService._tcp"

// mdnsPhaseTimeout bounds each mDNS phase (browse, resolve).
const mdnsPhaseTimeout = 2 * time.Second

// logcatTailLines bounds how much device log the fallback scans.
const logcatTailLines = 100

// Platform selects which fallback strategies apply.
type Platform int

const (
	PlatformAndroid Platform = iota
	PlatformIOS
)

// String returns the platform name.
func (p Platform) String() string {
	if p == PlatformIOS {
		return "ios"
	}
	return "android"
}

// ADB is the device surface discovery needs: log scraping and forwarding.
// *device.AndroidDevice satisfies it.
type ADB interface {
	Logcat(tailLines int) (string, error)
	Forward(localPort, devicePort int) error
}

// mdnsBrowser matches *zeroconf.Resolver; substituted in tests.
type mdnsBrowser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Discoverer runs the endpoint discovery pipeline.
type Discoverer struct {
	Platform Platform
	ADB      ADB // nil when no Android device is attached

	// ProcessName is the app process matched by the iOS port scan.
	ProcessName string

	newBrowser func() (mdnsBrowser, error)
	listSocks  func(ctx context.Context) (string, error)
}

// New creates a Discoverer for the platform.
func New(platform Platform, adb ADB) *Discoverer {
	return &Discoverer{
		Platform:    platform,
		ADB:         adb,
		ProcessName: "Runner",
		newBrowser: func() (mdnsBrowser, error) {
			return zeroconf.NewResolver(nil)
		},
		listSocks: listListeningSockets,
	}
}

// DiscoverURI finds the VM service URI from the device's perspective,
// retrying the whole pipeline with bounded exponential backoff so a service
// record that is a beat late to appear does not force a caller-level retry.
func (d *Discoverer) DiscoverURI(ctx context.Context, tc *trace.Context) (string, error) {
	var uri string
	op := func() error {
		var err error
		uri, err = d.discoverOnce(ctx, tc)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second

	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, 2)); err != nil {
		return "", err
	}
	return uri, nil
}

func (d *Discoverer) discoverOnce(ctx context.Context, tc *trace.Context) (string, error) {
	if uri := d.discoverMDNS(ctx, tc); uri != "" {
		return uri, nil
	}

	if d.Platform == PlatformAndroid && d.ADB != nil {
		logEvent(tc, "DISCOVER_FALLBACK", "trying Android logcat")
		if uri := d.discoverLogcat(tc); uri != "" {
			return uri, nil
		}
	}

	if d.Platform == PlatformIOS {
		logEvent(tc, "DISCOVER_FALLBACK", "trying iOS port scan")
		if uri := d.discoverPortScan(ctx, tc); uri != "" {
			return uri, nil
		}
	}

	return "", core.ErrNoEndpoint
}

// discoverMDNS browses for the advertised service record. A record with a
// port but no auth code still yields an unauthenticated endpoint.
func (d *Discoverer) discoverMDNS(ctx context.Context, tc *trace.Context) string {
	browser, err := d.newBrowser()
	if err != nil {
		logEvent(tc, "MDNS_ERR", err.Error())
		return ""
	}

	browseCtx, cancel := context.WithTimeout(ctx, mdnsPhaseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := browser.Browse(browseCtx, MDNSService, "local.", entries); err != nil {
		logEvent(tc, "MDNS_ERR", err.Error())
		return ""
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				logEvent(tc, "MDNS_NOT_FOUND", "no Dart VM service advertised via mDNS")
				return ""
			}
			if entry == nil || entry.Port == 0 {
				continue
			}
			authCode := authCodeFromTXT(entry.Text)
			uri := formatDeviceURI(entry.Port, authCode)
			if authCode == "" {
				logEvent(tc, "DISCOVER_URI", "mDNS (no auth): "+uri)
			} else {
				logEvent(tc, "DISCOVER_URI", "mDNS: "+uri)
			}
			return uri
		case <-browseCtx.Done():
			logEvent(tc, "MDNS_NOT_FOUND", "no Dart VM service advertised via mDNS")
			return ""
		}
	}
}

// vmServiceLine matches the announcement the Dart VM prints on startup.
var vmServiceURIPattern = regexp.MustCompile(`http://\S+`)

// discoverLogcat scans a bounded logcat tail in reverse chronological order
// for the most recent VM service announcement.
func (d *Discoverer) discoverLogcat(tc *trace.Context) string {
	output, err := d.ADB.Logcat(logcatTailLines)
	if err != nil {
		logEvent(tc, "DISCOVER_LOGCAT_ERR", err.Error())
		return ""
	}

	uri := ExtractURIFromLog(output)
	if uri == "" {
		logEvent(tc, "DISCOVER_LOGCAT_EMPTY", "no VM service URI in logcat")
		return ""
	}
	logEvent(tc, "DISCOVER_URI", "logcat: "+uri)
	return uri
}

// ExtractURIFromLog finds the most recent VM service URI in log output.
func ExtractURIFromLog(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if strings.Contains(line, "Dart VM service is listening on") ||
			strings.Contains(line, "Observatory listening on") {
			if match := vmServiceURIPattern.FindString(line); match != "" {
				return match
			}
		}
	}
	return ""
}

// discoverPortScan enumerates loopback listeners owned by the app process.
// Finds the port but never the auth code.
func (d *Discoverer) discoverPortScan(ctx context.Context, tc *trace.Context) string {
	output, err := d.listSocks(ctx)
	if err != nil {
		logEvent(tc, "DISCOVER_PORTSCAN_ERR", err.Error())
		return ""
	}

	port := ScanForLoopbackPort(output, d.ProcessName)
	if port == 0 {
		return ""
	}
	uri := formatDeviceURI(port, "")
	logEvent(tc, "DISCOVER_URI", "port scan (no auth): "+uri)
	return uri
}

var loopbackPortPattern = regexp.MustCompile(`127\.0\.0\.1:(\d+)`)

// ScanForLoopbackPort finds a loopback listener owned by the named process in
// lsof-style output.
func ScanForLoopbackPort(output, processName string) int {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, processName) || !strings.Contains(line, "LISTEN") {
			continue
		}
		if m := loopbackPortPattern.FindStringSubmatch(line); m != nil {
			var port int
			fmt.Sscanf(m[1], "%d", &port)
			return port
		}
	}
	return 0
}

func authCodeFromTXT(txt []string) string {
	for _, record := range txt {
		if strings.HasPrefix(record, "authCode=") {
			return strings.TrimSuffix(strings.TrimPrefix(record, "authCode="), "/")
		}
	}
	return ""
}

func formatDeviceURI(port int, authCode string) string {
	if authCode == "" {
		return fmt.Sprintf("http://127.0.0.1:%d/", port)
	}
	return fmt.Sprintf("http://127.0.0.1:%d/%s/", port, authCode)
}

func logEvent(tc *trace.Context, event, detail string) {
	if tc != nil {
		tc.Log(event, detail)
	}
}
