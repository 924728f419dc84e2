package proxy

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultFetchSources are public proxy list endpoints, tried in order.
// Individual source failures are tolerated; only a total blank is an error.
var DefaultFetchSources = []string{
	"https://raw.githubusercontent.com/mertguvencli/http-proxy-list/main/proxy-list/data.txt",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
	"https://raw.githubusercontent.com/ShiftyTR/Proxy-List/master/http.txt",
	"https://raw.githubusercontent.com/jetkai/proxy-list/main/online-proxies/txt/proxies-https.txt",
	"https://raw.githubusercontent.com/roosterkid/openproxylist/main/HTTPS_RAW.txt",
	"https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all",
	"https://www.proxy-list.download/api/v1/get?type=http",
	"https://www.proxy-list.download/api/v1/get?type=https",
	"https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt",
}

var fetchUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Candidate extraction, most specific first so the auth forms win.
var candidatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5}:[^:\s]+:[^:\s]+`),
	regexp.MustCompile(`[a-zA-Z0-9.-]+:\d{1,5}:[^:\s]+:[^:\s]+`),
	regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5}`),
	regexp.MustCompile(`[a-zA-Z0-9.-]+:\d{1,5}`),
}

// SourceStatus records the outcome of one source download.
type SourceStatus struct {
	Source string `json:"source"`
	OK     bool   `json:"ok"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// Fetcher downloads proxy candidates from public list sources. Requests are
// paced through a rate limiter so the sources don't throttle us.
type Fetcher struct {
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
	sources []string
}

// NewFetcher builds a fetcher over the given sources; nil falls back to
// DefaultFetchSources. ratePerSec caps source requests per second.
func NewFetcher(logger *zap.Logger, sources []string, ratePerSec float64) *Fetcher {
	if len(sources) == 0 {
		sources = DefaultFetchSources
	}
	if ratePerSec <= 0 {
		ratePerSec = 2.0
	}
	return &Fetcher{
		logger:  logger.Named("proxy_fetcher"),
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		sources: sources,
	}
}

// FetchAll downloads every source, extracts candidates and dedupes them.
// A source failing is logged and skipped; FetchAll errors only when every
// source failed or the context ended.
func (f *Fetcher) FetchAll(ctx context.Context) ([]*Endpoint, []SourceStatus, error) {
	seen := make(map[string]struct{})
	var endpoints []*Endpoint
	statuses := make([]SourceStatus, 0, len(f.sources))

	for i, source := range f.sources {
		if err := f.limiter.Wait(ctx); err != nil {
			return endpoints, statuses, fmt.Errorf("proxy fetch interrupted: %w", err)
		}

		f.logger.Info("Fetching proxy source.",
			zap.Int("index", i+1),
			zap.Int("total", len(f.sources)),
			zap.String("source", shortenURL(source)))

		lines, err := f.fetchOne(ctx, source)
		if err != nil {
			f.logger.Warn("Proxy source failed.",
				zap.String("source", shortenURL(source)), zap.Error(err))
			statuses = append(statuses, SourceStatus{Source: source, Error: err.Error()})
			continue
		}

		added := 0
		for _, candidate := range lines {
			ep := Parse(candidate)
			if ep == nil {
				continue
			}
			if _, dup := seen[ep.Key()]; dup {
				continue
			}
			seen[ep.Key()] = struct{}{}
			endpoints = append(endpoints, ep)
			added++
		}
		statuses = append(statuses, SourceStatus{Source: source, OK: true, Count: added})
	}

	if len(endpoints) == 0 {
		return nil, statuses, fmt.Errorf("no proxies fetched from any source: %w", ErrEmptyProxyList)
	}

	f.logger.Info("Proxy fetch finished.", zap.Int("unique", len(endpoints)))
	return endpoints, statuses, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, source string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgents[rand.Intn(len(fetchUserAgents))])
	req.Header.Set("Accept", "text/plain,text/html;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	return ExtractCandidates(string(body)), nil
}

// ExtractCandidates pulls proxy-looking tokens out of an arbitrary text
// blob, one candidate per input line, skipping comments.
func ExtractCandidates(blob string) []string {
	var out []string
	for _, line := range strings.Split(blob, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") {
			continue
		}
		for _, pattern := range candidatePatterns {
			if match := pattern.FindString(trimmed); match != "" {
				out = append(out, match)
				break
			}
		}
	}
	return out
}

// SaveToFile writes endpoints to a proxy list file in host:port[:user:pass]
// form with a timestamp header, suitable for reloading via the file source.
func SaveToFile(path string, endpoints []*Endpoint) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Auto-fetched proxies - %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Total: %d working proxies\n#\n", len(endpoints))
	for _, ep := range endpoints {
		if ep.HasAuth() {
			fmt.Fprintf(&b, "%s:%d:%s:%s\n", ep.Host, ep.Port, ep.Username, ep.Password)
		} else {
			fmt.Fprintf(&b, "%s:%d\n", ep.Host, ep.Port)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("saving proxy list to %s: %w", path, err)
	}
	return nil
}

func shortenURL(u string) string {
	if len(u) > 60 {
		return u[:60] + "..."
	}
	return u
}
