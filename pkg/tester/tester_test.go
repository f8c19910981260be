package tester

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"proxy-provisioner/pkg/ipinfo"
	"proxy-provisioner/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordFor(t *testing.T, id, proxyURL, password string) models.PlanRecord {
	t.Helper()
	host, port, err := net.SplitHostPort(proxyURL[len("http://"):])
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return models.PlanRecord{
		PlanID:     id,
		PlanClass:  models.ResidentialClass,
		Username:   "user_" + id,
		Password:   password,
		LocalHost:  host,
		PublicPort: p,
	}
}

func TestCheckRecords(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := proxyAuth(r)
		if !ok || pass != "good" {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		_, _ = w.Write([]byte(`{"ip":"198.51.100.` + strconv.Itoa(len(user)) + `","country":"DE","org":"AS64500 Example GmbH"}`))
	}))
	defer proxySrv.Close()

	records := []models.PlanRecord{
		recordFor(t, "a", proxySrv.URL, "good"),
		recordFor(t, "b", proxySrv.URL, "bad"),
		recordFor(t, "ccc", proxySrv.URL, "good"),
	}

	results := CheckRecords(context.Background(), records, Options{
		Target:  "http://ipinfo.example/json",
		Timeout: 5 * time.Second,
		Workers: 2,
	})
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].PlanID)
	assert.True(t, results[0].OK)
	assert.Equal(t, "DE", results[0].Country)
	assert.Equal(t, "Example GmbH", results[0].ASOrg)
	assert.Equal(t, "198.51.100.6", results[0].IP)

	assert.Equal(t, "b", results[1].PlanID)
	assert.False(t, results[1].OK)
	assert.Equal(t, http.StatusProxyAuthRequired, results[1].Status)

	assert.True(t, results[2].OK)
	assert.Equal(t, "198.51.100.8", results[2].IP)
}

func TestCheckRecordsUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	results := CheckRecords(context.Background(), []models.PlanRecord{recordFor(t, "dead", "http://"+addr, "x")}, Options{
		Target:  "http://ipinfo.example/json",
		Timeout: 2 * time.Second,
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.NotEmpty(t, results[0].Error)
}

func TestCheckRecordsUpstreamDial(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"198.51.100.1"}`))
	}))
	defer proxySrv.Close()

	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()
	go func() {
		for {
			conn, err := upstream.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := closed.Addr().(*net.TCPAddr)
	require.NoError(t, closed.Close())

	live := recordFor(t, "live", proxySrv.URL, "pw")
	live.AuthHost = "127.0.0.1"
	live.AuthPort = upstream.Addr().(*net.TCPAddr).Port

	dead := recordFor(t, "dead", proxySrv.URL, "pw")
	dead.AuthHost = "127.0.0.1"
	dead.AuthPort = closedAddr.Port

	results := CheckRecords(context.Background(), []models.PlanRecord{live, dead}, Options{
		Target:        "http://ipinfo.example/json",
		Timeout:       2 * time.Second,
		CheckUpstream: true,
	})
	require.Len(t, results, 2)

	assert.True(t, results[0].OK)
	assert.Empty(t, results[0].UpstreamError)
	assert.Positive(t, results[0].UpstreamLatency)

	assert.True(t, results[1].OK, "the forwarder answered even though the upstream is down")
	assert.NotEmpty(t, results[1].UpstreamError)
}

func TestCheckRecordsLooksUpBareIP(t *testing.T) {
	var lookups atomic.Int32
	lookupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		assert.Equal(t, "/203.0.113.9", r.URL.Path)
		assert.Equal(t, "ipinfo-token", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"ip":"203.0.113.9","country":"NL","org":"AS64501 Exit BV"}`))
	}))
	defer lookupSrv.Close()
	prev := ipinfo.BaseURL
	ipinfo.BaseURL = lookupSrv.URL
	t.Cleanup(func() { ipinfo.BaseURL = prev })

	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.9\n"))
	}))
	defer proxySrv.Close()
	records := []models.PlanRecord{recordFor(t, "a", proxySrv.URL, "pw")}

	tests := []struct {
		name        string
		lookup      bool
		wantCountry string
		wantASN     string
	}{
		{"lookup", true, "NL", "64501"},
		{"no lookup", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := CheckRecords(context.Background(), records, Options{
				Target:      "http://ipify.example/",
				Timeout:     5 * time.Second,
				LookupIP:    tt.lookup,
				IPInfoToken: "ipinfo-token",
			})
			require.Len(t, results, 1)
			assert.True(t, results[0].OK)
			assert.Equal(t, "203.0.113.9", results[0].IP)
			assert.Equal(t, tt.wantCountry, results[0].Country)
			assert.Equal(t, tt.wantASN, results[0].ASN)
		})
	}
	assert.Equal(t, int32(1), lookups.Load())
}

func TestCheckRecordsEmpty(t *testing.T) {
	assert.Empty(t, CheckRecords(context.Background(), nil, Options{}))
}

func proxyAuth(r *http.Request) (string, string, bool) {
	h := r.Header.Get("Proxy-Authorization")
	if h == "" {
		return "", "", false
	}
	req := &http.Request{Header: http.Header{"Authorization": {h}}}
	return req.BasicAuth()
}
