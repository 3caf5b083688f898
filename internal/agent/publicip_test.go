package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPResponse(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"ipify json", `{"ip":"203.0.113.7"}`, "203.0.113.7", false},
		{"ipinfo json", `{"ip":"2001:db8::1","city":"Oslo"}`, "2001:db8::1", false},
		{"httpbin origin list", `{"origin": "198.51.100.4, 10.0.0.1"}`, "198.51.100.4", false},
		{"plain text", "192.0.2.33\n", "192.0.2.33", false},
		{"html error page", "<html>rate limited</html>", "", true},
		{"json without address", `{"error":"nope"}`, "", true},
		{"broken json", `{"ip":`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseIPResponse([]byte(tc.body))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIPLookupFallsThrough(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not an address")
	}))
	defer garbage.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ip":"203.0.113.7"}`)
	}))
	defer ok.Close()

	l := NewIPLookup([]string{down.URL, garbage.URL, ok.URL + "/json"})
	got, err := l.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got.IP)
	assert.Equal(t, ok.Listener.Addr().String(), got.Service)
}

func TestIPLookupAllFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	_, err := NewIPLookup([]string{down.URL}).Lookup(context.Background())
	assert.ErrorIs(t, err, ErrNoExternalIP)
	assert.Contains(t, err.Error(), "status 503")
}

func TestTelemetryCachesExternalIP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "198.51.100.9")
	}))
	defer srv.Close()

	tel := NewTelemetry(time.Minute, time.Minute, time.Minute, NewIPLookup([]string{srv.URL}))
	for i := 0; i < 3; i++ {
		ip, err := tel.ExternalIP(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.9", ip.IP)
	}
	assert.Equal(t, int32(1), hits.Load())

	tel.Refresh()
	_, err := tel.ExternalIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = NewTelemetry(time.Minute, time.Minute, time.Minute, nil).ExternalIP(context.Background())
	assert.ErrorIs(t, err, ErrNoExternalIP)
}

func TestReadLinkSpeed(t *testing.T) {
	root := t.TempDir()
	old := sysClassNet
	sysClassNet = root
	t.Cleanup(func() { sysClassNet = old })

	write := func(name, speed string) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, name, "speed"), []byte(speed), 0o644))
	}
	write("eth0", "1000\n")
	write("eth1", "100\n")
	write("wlan0", "-1\n")

	assert.Equal(t, 1000, readLinkSpeed("eth0"))
	assert.Equal(t, 100, readLinkSpeed("eth1"))
	assert.Equal(t, 0, readLinkSpeed("wlan0"))
	assert.Equal(t, 0, readLinkSpeed("docker0"))

	assert.Equal(t, "1.0 Gbps", FormatLinkSpeed(1000))
	assert.Equal(t, "2.5 Gbps", FormatLinkSpeed(2500))
	assert.Equal(t, "100 Mbps", FormatLinkSpeed(100))
	assert.Equal(t, "N/A", FormatLinkSpeed(0))
}
