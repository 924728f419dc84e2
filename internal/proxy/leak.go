package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Advisory is the result of a leak check. It is informational only; the
// orchestrator reports it but never blocks a session on it.
type Advisory struct {
	IsSecure bool     `json:"isSecure"`
	ExitIP   string   `json:"exitIP"`
	DNS      []string `json:"dns,omitempty"`
	Leaks    []string `json:"leaks,omitempty"`
}

// LeakChecker compares an endpoint's exit identity against the machine's
// own, flagging configurations that would still expose the real address.
type LeakChecker struct {
	logger  *zap.Logger
	checker *Checker
	leakURL string
}

// NewLeakChecker builds an advisory checker on top of an existing probe
// checker, which supplies the per-protocol transports.
func NewLeakChecker(logger *zap.Logger, checker *Checker) *LeakChecker {
	return &LeakChecker{
		logger:  logger.Named("leak_checker"),
		checker: checker,
		leakURL: "https://ipleak.net/json/",
	}
}

// Check probes the endpoint's exit IP and DNS resolvers. Any failure
// downgrades to an insecure advisory rather than an error; callers treat
// the whole check as best-effort.
func (lc *LeakChecker) Check(ctx context.Context, ep *Endpoint) Advisory {
	adv := Advisory{IsSecure: true}

	directIP, err := lc.checker.DirectIP(ctx)
	if err != nil {
		lc.logger.Warn("Could not determine direct IP for leak comparison.", zap.Error(err))
		directIP = ""
	}

	res, err := lc.checker.Probe(ctx, ep)
	if err != nil {
		return Advisory{
			IsSecure: false,
			Leaks:    []string{fmt.Sprintf("exit IP check failed: %v", err)},
		}
	}
	adv.ExitIP = res.ExitIP

	if directIP != "" && res.ExitIP == directIP {
		adv.Leaks = append(adv.Leaks, "exit IP matches direct IP; proxy is not masking the connection")
	}

	if dns, err := lc.resolverIPs(ctx, ep); err == nil {
		adv.DNS = dns
		for _, resolver := range dns {
			if directIP != "" && resolver == directIP {
				adv.Leaks = append(adv.Leaks, "DNS leak detected: resolver matches direct IP")
				break
			}
		}
	} else {
		lc.logger.Debug("DNS leak lookup failed.",
			zap.String("proxy", ep.Addr()), zap.Error(err))
	}

	adv.IsSecure = len(adv.Leaks) == 0
	return adv
}

// resolverIPs asks the leak reflector, through the proxy, which resolvers
// answered for the request.
func (lc *LeakChecker) resolverIPs(ctx context.Context, ep *Endpoint) ([]string, error) {
	transport, err := lc.checker.transportFor(ep)
	if err != nil {
		return nil, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lc.leakURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}

	var payload struct {
		DNS []struct {
			IP string `json:"ip"`
		} `json:"dns"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(payload.DNS))
	for _, d := range payload.DNS {
		if d.IP != "" {
			out = append(out, d.IP)
		}
	}
	return out, nil
}
