package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// BaseURL is the ipinfo.io API root.
var BaseURL = "https://ipinfo.io"

type IPInfoResponse struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Anycast  bool   `json:"anycast"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
}

// Decode parses an ipinfo.io JSON body, as returned by /json through a proxy.
func Decode(body []byte) (IPInfoResponse, error) {
	var ipInfo IPInfoResponse
	if err := json.Unmarshal(body, &ipInfo); err != nil {
		return IPInfoResponse{}, fmt.Errorf("invalid ipinfo response: %w", err)
	}
	if ipInfo.IP == "" {
		return IPInfoResponse{}, fmt.Errorf("invalid ipinfo response: no ip")
	}
	return ipInfo, nil
}

// GetIPInfo looks up ip directly, without a proxy.
func GetIPInfo(ctx context.Context, ip, token string) (IPInfoResponse, error) {
	u := fmt.Sprintf("%s/%s", BaseURL, url.PathEscape(ip))
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return IPInfoResponse{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return IPInfoResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return IPInfoResponse{}, fmt.Errorf("ipinfo returned %s", resp.Status)
	}

	var ipInfo IPInfoResponse
	err = json.NewDecoder(resp.Body).Decode(&ipInfo)
	if err != nil {
		return IPInfoResponse{}, err
	}

	return ipInfo, nil
}

// SplitOrg parses the ASN and AS org name from the "org" field ("AS15169 Google LLC").
func SplitOrg(org string) (asNumber, asOrg string) {
	orgParts := strings.SplitN(org, " ", 2)
	if len(orgParts) == 2 && strings.HasPrefix(orgParts[0], "AS") {
		return strings.TrimPrefix(orgParts[0], "AS"), orgParts[1]
	}
	// If we can't parse it properly, return the whole string as the org
	return "", org
}
