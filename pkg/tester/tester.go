// Package tester checks that registered plans actually forward traffic.
package tester

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"proxy-provisioner/pkg/fetch"
	"proxy-provisioner/pkg/ipinfo"
	"proxy-provisioner/pkg/models"

	"github.com/Jigsaw-Code/outline-sdk/transport"
)

const (
	defaultWorkers = 4
	DefaultTarget  = "https://ipinfo.io/json"
)

type Options struct {
	// Target is fetched through every plan endpoint (default: ipinfo.io/json)
	Target string
	// Timeout per check (default: 30s)
	Timeout time.Duration
	Workers int
	// CheckUpstream also dials each plan's auth_host:auth_port, telling a dead
	// forwarder apart from a dead upstream.
	CheckUpstream bool
	// Dialer for the upstream check (default: plain TCP)
	Dialer transport.StreamDialer
	// LookupIP resolves country and AS on ipinfo.io when the target answers
	// with a bare IP address instead of ipinfo JSON.
	LookupIP    bool
	IPInfoToken string
	Logger      *slog.Logger
}

// Result is the outcome of one reachability check.
type Result struct {
	PlanID    string           `json:"plan_id"`
	PlanClass models.PlanClass `json:"plan_class"`
	OK        bool             `json:"ok"`
	Status    int              `json:"status,omitempty"`
	Latency   time.Duration    `json:"latency"`
	IP        string           `json:"ip,omitempty"`
	Country   string           `json:"country,omitempty"`
	ASN       string           `json:"asn,omitempty"`
	ASOrg     string           `json:"as_org,omitempty"`
	Error     string           `json:"error,omitempty"`

	UpstreamLatency time.Duration `json:"upstream_latency,omitempty"`
	UpstreamError   string        `json:"upstream_error,omitempty"`
}

type job struct {
	index  int
	record models.PlanRecord
}

// CheckRecords fetches opts.Target through each record's public endpoint in a
// worker pool. Results are returned in the order of records.
func CheckRecords(ctx context.Context, records []models.PlanRecord, opts Options) []Result {
	if opts.Target == "" {
		opts.Target = DefaultTarget
	}
	if opts.Timeout <= 0 {
		opts.Timeout = fetch.DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CheckUpstream && opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(records) {
		workers = len(records)
	}

	jobs := make(chan job, len(records))
	results := make([]Result, len(records))

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(ctx, &wg, jobs, results, opts)
	}

	// Send jobs to workers
	for i, rec := range records {
		jobs <- job{index: i, record: rec}
	}
	close(jobs)

	wg.Wait()
	return results
}

func worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan job, results []Result, opts Options) {
	defer wg.Done()
	for j := range jobs {
		res := checkRecord(ctx, &j.record, opts)
		if res.OK {
			opts.Logger.Debug("Plan reachable", "plan_id", res.PlanID, "ip", res.IP, "latency", res.Latency)
		} else {
			opts.Logger.Warn("Plan unreachable", "plan_id", res.PlanID, "status", res.Status, "error", res.Error)
		}
		// each index is written by exactly one worker
		results[j.index] = res
	}
}

func checkRecord(ctx context.Context, rec *models.PlanRecord, opts Options) Result {
	res := Result{PlanID: rec.PlanID, PlanClass: rec.PlanClass}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	if opts.CheckUpstream {
		latency, err := dialUpstream(ctx, opts.Dialer, rec, opts.Timeout)
		if err != nil {
			res.UpstreamError = err.Error()
		} else {
			res.UpstreamLatency = latency
		}
	}

	fetched, err := fetch.Fetch(ctx, opts.Target, fetch.Options{
		Proxy:   rec.Endpoint(),
		Timeout: opts.Timeout,
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Status = fetched.Response.StatusCode
	res.Latency = fetched.Latency
	res.OK = res.Status >= 200 && res.Status < 300
	if !res.OK {
		res.Error = fetched.Response.Status
		return res
	}

	// the target need not be ipinfo; only decode when it looks like it
	if info, err := ipinfo.Decode(fetched.Body); err == nil {
		res.IP = info.IP
		res.setInfo(info)
		return res
	}
	ip := net.ParseIP(strings.TrimSpace(string(fetched.Body)))
	if ip == nil {
		return res
	}
	res.IP = ip.String()
	if opts.LookupIP {
		info, err := ipinfo.GetIPInfo(ctx, res.IP, opts.IPInfoToken)
		if err != nil {
			opts.Logger.Debug("IP lookup failed", "plan_id", rec.PlanID, "ip", res.IP, "error", err)
			return res
		}
		res.setInfo(info)
	}
	return res
}

func (r *Result) setInfo(info ipinfo.IPInfoResponse) {
	r.Country = info.Country
	r.ASN, r.ASOrg = ipinfo.SplitOrg(info.Org)
}

func dialUpstream(ctx context.Context, dialer transport.StreamDialer, rec *models.PlanRecord, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := dialer.DialStream(ctx, net.JoinHostPort(rec.AuthHost, strconv.Itoa(rec.AuthPort)))
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}
