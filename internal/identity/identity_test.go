package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		ua       string
		device   Device
		platform Platform
		browser  string
	}{
		{
			name:     "chrome on windows",
			ua:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			device:   DeviceDesktop,
			platform: PlatformWindows,
			browser:  "Chrome",
		},
		{
			name:     "edge wins over chrome",
			ua:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			device:   DeviceDesktop,
			platform: PlatformWindows,
			browser:  "Edge",
		},
		{
			name:     "safari on macos",
			ua:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
			device:   DeviceDesktop,
			platform: PlatformMacOS,
			browser:  "Safari",
		},
		{
			name:     "android phone",
			ua:       "Mozilla/5.0 (Linux; Android 14; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.43 Mobile Safari/537.36",
			device:   DeviceMobile,
			platform: PlatformAndroid,
			browser:  "Chrome",
		},
		{
			name:     "iphone",
			ua:       "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
			device:   DeviceMobile,
			platform: PlatformIOS,
			browser:  "Safari",
		},
		{
			name:     "ipad is a tablet",
			ua:       "Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
			device:   DeviceTablet,
			platform: PlatformIOS,
			browser:  "Safari",
		},
		{
			name:     "unknown agent buckets into desktop windows",
			ua:       "TotallyMadeUpAgent/1.0",
			device:   DeviceDesktop,
			platform: PlatformWindows,
			browser:  "Unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := Classify(tc.ua)
			assert.Equal(t, tc.device, id.Device)
			assert.Equal(t, tc.platform, id.Platform)
			assert.Equal(t, tc.browser, id.Browser)
			assert.Equal(t, tc.ua, id.UserAgent)
		})
	}
}

func TestRotatorAssign(t *testing.T) {
	r := NewRotator(zaptest.NewLogger(t))
	require.Greater(t, r.Size(), 0)

	t.Run("modulo over filtered catalog", func(t *testing.T) {
		a := r.Assign(0, DeviceMobile, PlatformRandom)
		b := r.Assign(0, DeviceMobile, PlatformRandom)
		assert.Equal(t, a, b, "same index and filter is deterministic")
		assert.Equal(t, DeviceMobile, a.Device)

		// Count the mobile identities, then confirm periodicity.
		n := 0
		seen := map[string]bool{}
		for i := 0; i < r.Size()*2; i++ {
			id := r.Assign(i, DeviceMobile, PlatformRandom)
			if !seen[id.UserAgent] {
				seen[id.UserAgent] = true
				n++
			}
		}
		wrapped := r.Assign(n, DeviceMobile, PlatformRandom)
		assert.Equal(t, a, wrapped, "index n wraps back to index 0")
	})

	t.Run("random axes widen the filter", func(t *testing.T) {
		devices := map[Device]bool{}
		for i := 0; i < r.Size(); i++ {
			devices[r.Assign(i, DeviceRandom, PlatformRandom).Device] = true
		}
		assert.True(t, devices[DeviceDesktop])
		assert.True(t, devices[DeviceMobile])
	})

	t.Run("impossible class falls back instead of failing", func(t *testing.T) {
		id := r.Assign(3, DeviceTablet, PlatformWindows)
		assert.NotEmpty(t, id.UserAgent)
		assert.Equal(t, DeviceDesktop, id.Device, "fallback is a desktop identity")
	})
}

func TestNewRotatorFromFile(t *testing.T) {
	t.Run("loads entries and skips comments", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.txt")
		content := "# custom agents\n" +
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36\n" +
			"\n" +
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		r, err := NewRotatorFromFile(zaptest.NewLogger(t), path)
		require.NoError(t, err)
		assert.Equal(t, 2, r.Size())
		assert.Equal(t, PlatformLinux, r.Assign(0, DeviceRandom, PlatformRandom).Platform)
	})

	t.Run("missing file falls back to builtin catalog", func(t *testing.T) {
		r, err := NewRotatorFromFile(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "nope.txt"))
		require.NoError(t, err)
		assert.Equal(t, len(defaultUserAgents), r.Size())
	})
}
