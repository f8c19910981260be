package ipinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOrg(t *testing.T) {
	tests := []struct {
		org     string
		wantASN string
		wantOrg string
	}{
		{"AS15169 Google LLC", "15169", "Google LLC"},
		{"AS7922", "", "AS7922"},
		{"Some Hosting Ltd", "", "Some Hosting Ltd"},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.org, func(t *testing.T) {
			asn, org := SplitOrg(tt.org)
			assert.Equal(t, tt.wantASN, asn)
			assert.Equal(t, tt.wantOrg, org)
		})
	}
}

func TestDecode(t *testing.T) {
	info, err := Decode([]byte(`{"ip":"203.0.113.7","country":"US","org":"AS64500 Example"}`))
	require.NoError(t, err)
	assert.Equal(t, "US", info.Country)

	_, err = Decode([]byte(`<html>`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"error":"rate limited"}`))
	assert.Error(t, err)
}

func TestGetIPInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/8.8.8.8", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"ip":"8.8.8.8","city":"Mountain View"}`))
	}))
	defer srv.Close()

	old := BaseURL
	BaseURL = srv.URL
	defer func() { BaseURL = old }()

	info, err := GetIPInfo(context.Background(), "8.8.8.8", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Mountain View", info.City)
}
