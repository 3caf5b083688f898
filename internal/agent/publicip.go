package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultIPServices are queried in order until one returns an address.
var DefaultIPServices = []string{
	"https://api.ipify.org?format=json",
	"https://ipinfo.io/json",
	"https://checkip.amazonaws.com/",
	"https://httpbin.org/ip",
}

// ErrNoExternalIP is returned when every lookup service failed.
var ErrNoExternalIP = errors.New("external IP unavailable")

// ExternalIP is the host's public address as seen by a lookup service.
type ExternalIP struct {
	IP        string    `json:"ip"`
	Service   string    `json:"service"`
	CheckedAt time.Time `json:"checked_at"`
}

// IPLookup resolves the public address by asking external services.
type IPLookup struct {
	services []string
	client   *http.Client
}

// NewIPLookup creates a lookup over services (DefaultIPServices if empty).
func NewIPLookup(services []string) *IPLookup {
	if len(services) == 0 {
		services = DefaultIPServices
	}
	return &IPLookup{
		services: services,
		client:   &http.Client{Timeout: 6 * time.Second},
	}
}

// Lookup tries each service in order and returns the first valid address.
// The returned error names the last failure when all of them fail.
func (l *IPLookup) Lookup(ctx context.Context) (ExternalIP, error) {
	var lastErr error
	for _, svc := range l.services {
		ip, err := l.query(ctx, svc)
		if err == nil {
			return ExternalIP{IP: ip, Service: serviceHost(svc), CheckedAt: time.Now()}, nil
		}
		lastErr = fmt.Errorf("%s: %w", serviceHost(svc), err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return ExternalIP{}, ErrNoExternalIP
	}
	return ExternalIP{}, fmt.Errorf("%w (%v)", ErrNoExternalIP, lastErr)
}

func (l *IPLookup) query(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return parseIPResponse(body)
}

// parseIPResponse accepts {"ip": ...}, httpbin's {"origin": "a, b"} or a
// bare address in plain text.
func parseIPResponse(body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") {
		var payload struct {
			IP     string `json:"ip"`
			Origin string `json:"origin"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}
		text = payload.IP
		if text == "" {
			text, _, _ = strings.Cut(payload.Origin, ",")
			text = strings.TrimSpace(text)
		}
	}
	if net.ParseIP(text) == nil {
		return "", fmt.Errorf("no address in response %q", truncate(text, 64))
	}
	return text, nil
}

func serviceHost(url string) string {
	rest := url
	if _, after, ok := strings.Cut(url, "://"); ok {
		rest = after
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "?")
	return host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
