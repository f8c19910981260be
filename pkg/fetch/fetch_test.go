package fetch

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchThroughHTTPProxy(t *testing.T) {
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user_1:s3cret"))
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a forward proxy sees the absolute target URL
		assert.Equal(t, "ipinfo.example", r.URL.Host)
		if r.Header.Get("Proxy-Authorization") != wantAuth {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer proxySrv.Close()

	u, err := url.Parse(proxySrv.URL)
	require.NoError(t, err)
	u.User = url.UserPassword("user_1", "s3cret")

	res, err := Fetch(context.Background(), "http://ipinfo.example/json", Options{Proxy: u.String()})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.JSONEq(t, `{"ip":"203.0.113.7"}`, string(res.Body))

	u.User = url.UserPassword("user_1", "wrong")
	res, err = Fetch(context.Background(), "http://ipinfo.example/json", Options{Proxy: u.String()})
	require.NoError(t, err)
	assert.Equal(t, http.StatusProxyAuthRequired, res.Response.StatusCode)
}

func TestFetchDirectWithHeadersAndAddressOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Check"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	res, err := Fetch(context.Background(), "http://unreachable.invalid/", Options{
		Address: addr,
		Headers: []string{"X-Check: yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
	assert.Greater(t, res.Latency, time.Duration(0))
}

func TestFetchTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	_, err := Fetch(context.Background(), srv.URL, Options{Timeout: 50 * time.Millisecond})
	assert.Error(t, err)
}

func TestFetchRejectsBadProxy(t *testing.T) {
	tests := []struct {
		name  string
		proxy string
	}{
		{"no scheme", "127.0.0.1:8080"},
		{"unknown transport", "bogus://127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fetch(context.Background(), "http://example.com", Options{Proxy: tt.proxy, Timeout: time.Second})
			assert.Error(t, err)
		})
	}
}
