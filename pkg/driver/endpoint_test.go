package driver

import "testing"

func TestEndpoint_WSURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		want     string
	}{
		{"uri with auth path",
			Endpoint{URI: "http://localhost:9223/Y5Ml0g2wNQ8=/"},
			"ws://localhost:9223/Y5Ml0g2wNQ8=/ws"},
		{"uri without trailing slash",
			Endpoint{URI: "http://localhost:9223"},
			"ws://localhost:9223/ws"},
		{"https becomes wss",
			Endpoint{URI: "https://localhost:9223/"},
			"wss://localhost:9223/ws"},
		{"host and port",
			Endpoint{Host: "localhost", Port: 9223},
			"ws://localhost:9223/ws"},
		{"default host",
			Endpoint{Port: 9223},
			"ws://localhost:9223/ws"},
		{"uri beats host and port",
			Endpoint{Host: "other", Port: 1, URI: "http://localhost:9223/tok/"},
			"ws://localhost:9223/tok/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.endpoint.WSURL(); got != tt.want {
				t.Errorf("WSURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEndpoint_IsZero(t *testing.T) {
	if !(Endpoint{}).IsZero() {
		t.Error("empty endpoint must be zero")
	}
	if (Endpoint{Port: 9223}).IsZero() {
		t.Error("endpoint with port is not zero")
	}
	if (Endpoint{URI: "http://x/"}).IsZero() {
		t.Error("endpoint with URI is not zero")
	}
}
