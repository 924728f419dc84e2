// Package identity assigns browser identities (user-agent plus device and
// platform class) to sessions, round-robin within a filtered catalog so a
// run with more sessions than identities still spreads them evenly.
package identity

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Device is the form-factor class of an identity.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
	DeviceRandom  Device = "random"
)

// Platform is the operating-system class of an identity.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformRandom  Platform = "random"
)

// Identity is one assignable browser persona.
type Identity struct {
	UserAgent string   `json:"userAgent"`
	Device    Device   `json:"device"`
	Platform  Platform `json:"platform"`
	Browser   string   `json:"browser"`
}

// fallbackUA is used whenever a requested class filters the catalog down to
// nothing. Assignment never fails for lack of inventory.
const fallbackUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var defaultUserAgents = []string{
	// Chrome on Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	// Chrome on macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	// Chrome on Linux
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	// Firefox on Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	// Firefox on macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	// Safari on macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	// Edge on Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	// Mobile
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.43 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.43 Mobile Safari/537.36",
	// Tablet
	"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// Rotator holds the identity catalog and hands out identities by session
// index. The catalog is immutable after construction, so Rotator is safe for
// concurrent use without locking.
type Rotator struct {
	logger  *zap.Logger
	catalog []Identity
}

// NewRotator builds a rotator over the built-in catalog.
func NewRotator(logger *zap.Logger) *Rotator {
	return newRotator(logger, defaultUserAgents)
}

// NewRotatorFromFile loads user-agent strings from a newline-separated file,
// one UA per line with # comments. A missing file falls back to the built-in
// catalog.
func NewRotatorFromFile(logger *zap.Logger, path string) (*Rotator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("User agent file not found, using built-in catalog.",
				zap.String("path", path))
			return NewRotator(logger), nil
		}
		return nil, fmt.Errorf("reading user agent file %s: %w", path, err)
	}

	var uas []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		uas = append(uas, trimmed)
	}
	if len(uas) == 0 {
		logger.Warn("User agent file was empty, using built-in catalog.",
			zap.String("path", path))
		return NewRotator(logger), nil
	}
	return newRotator(logger, uas), nil
}

func newRotator(logger *zap.Logger, uas []string) *Rotator {
	catalog := make([]Identity, 0, len(uas))
	for _, ua := range uas {
		catalog = append(catalog, Classify(ua))
	}
	logger.Named("identity").Debug("Identity catalog built.", zap.Int("size", len(catalog)))
	return &Rotator{logger: logger.Named("identity"), catalog: catalog}
}

// Assign returns the identity for a session index after filtering the
// catalog by device and platform class. "random" (or empty) leaves that axis
// unfiltered. Index i maps to filtered[i mod len]; an empty filter result
// falls back to a hardcoded desktop identity rather than failing.
func (r *Rotator) Assign(sessionIndex int, device Device, platform Platform) Identity {
	filtered := r.filter(device, platform)
	if len(filtered) == 0 {
		r.logger.Warn("No identities match requested class, using fallback.",
			zap.String("device", string(device)),
			zap.String("platform", string(platform)))
		return Classify(fallbackUA)
	}
	return filtered[sessionIndex%len(filtered)]
}

// PickAny returns a uniformly random identity from the unfiltered catalog.
func (r *Rotator) PickAny() Identity {
	if len(r.catalog) == 0 {
		return Classify(fallbackUA)
	}
	return r.catalog[rand.Intn(len(r.catalog))]
}

// Size returns the catalog size.
func (r *Rotator) Size() int { return len(r.catalog) }

// Default returns the hardcoded fallback identity, used when user-agent
// rotation is disabled.
func Default() Identity {
	return Classify(fallbackUA)
}

func (r *Rotator) filter(device Device, platform Platform) []Identity {
	anyDevice := device == "" || device == DeviceRandom
	anyPlatform := platform == "" || platform == PlatformRandom

	var out []Identity
	for _, id := range r.catalog {
		if !anyDevice && id.Device != device {
			continue
		}
		if !anyPlatform && id.Platform != platform {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Classify buckets a user-agent string into device, platform and browser
// classes by substring matching. Unrecognized agents land in
// desktop/windows, never in an error.
func Classify(ua string) Identity {
	id := Identity{UserAgent: ua, Device: DeviceDesktop, Platform: PlatformWindows, Browser: "Unknown"}

	switch {
	case strings.Contains(ua, "Edg"):
		id.Browser = "Edge"
	case strings.Contains(ua, "Chrome") && strings.Contains(ua, "Safari"):
		id.Browser = "Chrome"
	case strings.Contains(ua, "Firefox"):
		id.Browser = "Firefox"
	case strings.Contains(ua, "Safari"):
		id.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "Android"):
		id.Platform = PlatformAndroid
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		id.Platform = PlatformIOS
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS X"):
		id.Platform = PlatformMacOS
	case strings.Contains(ua, "Linux"), strings.Contains(ua, "X11"):
		id.Platform = PlatformLinux
	case strings.Contains(ua, "Windows"):
		id.Platform = PlatformWindows
	}

	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		id.Device = DeviceTablet
	case strings.Contains(ua, "Mobile"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "Android"):
		id.Device = DeviceMobile
	}

	return id
}
