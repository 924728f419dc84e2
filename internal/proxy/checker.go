package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"
)

var ipPattern = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// Checker probes endpoints against an IP reflector. HTTP proxies go through
// a per-probe http.Transport; socks4/socks5 endpoints are dialed with a
// SOCKS dialer instead, since Transport.Proxy only speaks HTTP CONNECT.
type Checker struct {
	logger       *zap.Logger
	reflectorURL string
	timeout      time.Duration
}

// NewChecker builds a prober that reports each endpoint's exit IP as seen by
// reflectorURL. The reflector must answer with either a JSON body containing
// an "ip" or "origin" field, or a bare dotted-quad.
func NewChecker(logger *zap.Logger, reflectorURL string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		logger:       logger.Named("proxy_checker"),
		reflectorURL: reflectorURL,
		timeout:      timeout,
	}
}

// Probe requests the reflector through the endpoint and returns the observed
// exit IP and round-trip latency.
func (c *Checker) Probe(ctx context.Context, ep *Endpoint) (ProbeResult, error) {
	transport, err := c.transportFor(ep)
	if err != nil {
		return ProbeResult{}, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.reflectorURL, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json,text/plain")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe via %s: %w", ep.Addr(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return ProbeResult{}, fmt.Errorf("probe via %s: HTTP %d", ep.Addr(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("reading probe response: %w", err)
	}

	ip := extractIP(body)
	if ip == "" {
		return ProbeResult{}, fmt.Errorf("probe via %s: no IP in reflector response", ep.Addr())
	}

	return ProbeResult{ExitIP: ip, Latency: time.Since(start)}, nil
}

// DirectIP returns the machine's own exit IP, bypassing any proxy. Used by
// the leak checker as the comparison baseline.
func (c *Checker) DirectIP(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.reflectorURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("direct IP lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	ip := extractIP(body)
	if ip == "" {
		return "", fmt.Errorf("no IP in reflector response")
	}
	return ip, nil
}

func (c *Checker) transportFor(ep *Endpoint) (*http.Transport, error) {
	base := &http.Transport{
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 1,
		TLSHandshakeTimeout: c.timeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
	}

	switch ep.Protocol {
	case "socks5", "socks4":
		// x/net/proxy only implements socks5; socks4 endpoints get the
		// same treatment, which rejects the genuinely v4-only ones.
		var auth *xproxy.Auth
		if ep.HasAuth() {
			auth = &xproxy.Auth{User: ep.Username, Password: ep.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", ep.Addr(), auth, &net.Dialer{Timeout: c.timeout})
		if err != nil {
			return nil, fmt.Errorf("building socks dialer for %s: %w", ep.Addr(), err)
		}
		base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	default:
		base.Proxy = http.ProxyURL(ep.URL())
	}

	return base, nil
}

func extractIP(body []byte) string {
	trimmed := strings.TrimSpace(string(body))

	var payload struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.IP != "" {
			return payload.IP
		}
		if payload.Origin != "" {
			return payload.Origin
		}
	}

	return ipPattern.FindString(trimmed)
}
