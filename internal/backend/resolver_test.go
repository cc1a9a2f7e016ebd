package backend

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"im-sync/internal/backendtest"
	"im-sync/internal/config"
)

func tunnel(name, proto, publicURL string, addr any) Tunnel {
	var t Tunnel
	t.Name = name
	t.Proto = proto
	t.PublicURL = publicURL
	t.Config.Addr = addr
	return t
}

func TestPickTunnel(t *testing.T) {
	tests := []struct {
		name    string
		tunnels []Tunnel
		want    string
	}{
		{
			name: "https preferred over http",
			tunnels: []Tunnel{
				tunnel("be", "http", "http://be.ngrok.app", "http://localhost:8080"),
				tunnel("be (https)", "https", "https://be.ngrok.app", "http://localhost:8080"),
			},
			want: "https://be.ngrok.app",
		},
		{
			name: "matched by port",
			tunnels: []Tunnel{
				tunnel("frontend", "https", "https://fe.ngrok.app", "http://localhost:3000"),
				tunnel("api", "https", "https://api.ngrok.app", "localhost:8080"),
			},
			want: "https://api.ngrok.app",
		},
		{
			name:    "numeric addr",
			tunnels: []Tunnel{tunnel("api", "http", "http://api.ngrok.app", float64(8080))},
			want:    "http://api.ngrok.app",
		},
		{
			name:    "no backend tunnel",
			tunnels: []Tunnel{tunnel("frontend", "https", "https://fe.ngrok.app", "3000")},
		},
		{
			name:    "backend tunnel without public url",
			tunnels: []Tunnel{tunnel("be", "https", "", "8080")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickTunnel(tt.tunnels, "be", "8080")
			if ok != (tt.want != "") || got.PublicURL != tt.want {
				t.Errorf("PickTunnel = %q, %v, want %q", got.PublicURL, ok, tt.want)
			}
		})
	}
}

func TestTunnelDecodesAgentAnswer(t *testing.T) {
	raw := `{"name":"be","public_url":"https://x.ngrok.app","proto":"https","config":{"addr":"http://localhost:8080","inspect":true}}`
	var tn Tunnel
	if err := json.Unmarshal([]byte(raw), &tn); err != nil {
		t.Fatal(err)
	}
	if tn.addr() != "http://localhost:8080" {
		t.Errorf("addr = %q", tn.addr())
	}
}

func TestResolverOrder(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetTunnels(map[string]any{
		"name":       "be",
		"proto":      "https",
		"public_url": "https://be.ngrok.app/",
		"config":     map[string]any{"addr": "http://localhost:8080"},
	})
	base := config.BackendConfig{
		DefaultBaseURL: "http://localhost:8080",
		TunnelName:     "be",
		TunnelPort:     "8080",
		HTTPTimeout:    2 * time.Second,
	}

	tests := []struct {
		name   string
		mutate func(*config.BackendConfig)
		want   string
	}{
		{"explicit base wins", func(c *config.BackendConfig) {
			c.BaseURL = "https://api.example.com"
			c.TunnelAPI = srv.URL + "/api/tunnels"
		}, "https://api.example.com"},
		{"tunnel", func(c *config.BackendConfig) { c.TunnelAPI = srv.URL + "/api/tunnels" }, "https://be.ngrok.app"},
		{"tunnel api missing", func(c *config.BackendConfig) { c.TunnelAPI = srv.URL + "/nope" }, "http://localhost:8080"},
		{"no tunnel api", func(c *config.BackendConfig) {}, "http://localhost:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if got := NewResolver(cfg, nil).Resolve(context.Background()); got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolverCaches(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetTunnels(map[string]any{"name": "be", "proto": "https", "public_url": "https://first.ngrok.app"})
	r := NewResolver(config.BackendConfig{
		DefaultBaseURL: "http://localhost:8080",
		TunnelAPI:      srv.URL + "/api/tunnels",
		TunnelName:     "be",
		HTTPTimeout:    2 * time.Second,
	}, nil)

	first := r.Resolve(context.Background())
	srv.SetTunnels(map[string]any{"name": "be", "proto": "https", "public_url": "https://second.ngrok.app"})
	if again := r.Resolve(context.Background()); again != first || first != "https://first.ngrok.app" {
		t.Errorf("Resolve = %q then %q", first, again)
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
		err  bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://be.ngrok.app/", "wss://be.ngrok.app/ws", false},
		{"https://be.ngrok.app/api?x=1", "wss://be.ngrok.app/ws", false},
		{"ftp://files.example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := WebSocketURL(tt.base, "ws")
			if (err != nil) != tt.err || got != tt.want {
				t.Errorf("WebSocketURL(%q) = %q, %v", tt.base, got, err)
			}
		})
	}
}
