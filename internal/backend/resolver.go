package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"im-sync/internal/config"
	"im-sync/internal/obs"
)

// Tunnel is one entry of the ngrok agent's /api/tunnels answer.
type Tunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr any `json:"addr"` // string or number depending on the agent version
	} `json:"config"`
}

func (t Tunnel) addr() string {
	switch a := t.Config.Addr.(type) {
	case string:
		return a
	case float64:
		return fmt.Sprintf("%.0f", a)
	}
	return ""
}

// Resolver finds the backend base address: an explicit BaseURL wins, then a
// backend tunnel published by a local ngrok agent, then DefaultBaseURL. The
// answer is computed once and cached.
type Resolver struct {
	cfg    config.BackendConfig
	http   *http.Client
	logger *slog.Logger

	once sync.Once
	base string
}

func NewResolver(cfg config.BackendConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: obs.OrDiscard(logger),
	}
}

// Resolve returns the backend base URL without a trailing slash.
func (r *Resolver) Resolve(ctx context.Context) string {
	r.once.Do(func() {
		r.base = strings.TrimSuffix(r.resolve(ctx), "/")
		r.logger.Info("backend resolved", "base", r.base)
	})
	return r.base
}

func (r *Resolver) resolve(ctx context.Context) string {
	if r.cfg.BaseURL != "" {
		return r.cfg.BaseURL
	}
	if r.cfg.TunnelAPI != "" {
		base, err := r.fromTunnels(ctx)
		if err == nil {
			return base
		}
		r.logger.Debug("no backend tunnel", "api", r.cfg.TunnelAPI, "error", err)
	}
	return r.cfg.DefaultBaseURL
}

func (r *Resolver) fromTunnels(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.TunnelAPI, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode}
	}
	var body struct {
		Tunnels []Tunnel `json:"tunnels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode tunnels: %w", err)
	}
	t, ok := PickTunnel(body.Tunnels, r.cfg.TunnelName, r.cfg.TunnelPort)
	if !ok {
		return "", fmt.Errorf("no tunnel named %q or bound to port %s", r.cfg.TunnelName, r.cfg.TunnelPort)
	}
	return t.PublicURL, nil
}

// PickTunnel chooses the backend tunnel: one whose name contains name or whose
// local address is port, preferring https over http.
func PickTunnel(tunnels []Tunnel, name, port string) (Tunnel, bool) {
	isBackend := func(t Tunnel) bool {
		if t.PublicURL == "" {
			return false
		}
		n := strings.ToLower(t.Name)
		if name != "" && strings.Contains(n, strings.ToLower(name)) {
			return true
		}
		addr := t.addr()
		return port != "" && (addr == port || strings.HasSuffix(addr, ":"+port))
	}
	for _, proto := range []string{"https", "http"} {
		for _, t := range tunnels {
			if strings.EqualFold(t.Proto, proto) && isBackend(t) {
				return t, true
			}
		}
	}
	return Tunnel{}, false
}

// WebSocketURL turns the backend base into the websocket endpoint:
// http becomes ws, https becomes wss, and path replaces the path.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend base %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("backend base %q: unsupported scheme %q", base, u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}
