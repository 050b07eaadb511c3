package lim

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"binpastes/cfg"
	"binpastes/svc/util"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	maxClients      = 10000
	globalWindow    = time.Minute
	globalTimeout   = 100 * time.Millisecond
	adaptivePeriod  = 60 * time.Second
	adaptiveCost    = 2
	maxForwardedIPs = 100
)

// Counter is a limiter shared across instances; *db.Redis satisfies it.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// Limiter applies a token bucket per client and endpoint, then an optional
// global per-endpoint budget kept in Counter.
type Limiter struct {
	counter       Counter
	proxies       Proxies
	detector      *AnomalyDetector
	adaptiveUntil atomic.Int64
	clients       *lru.Cache[string, *rate.Limiter]
	perClient     int
	burst         int
	globalRPM     int
}
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New returns a running limiter. counter may be nil.
func New(rl cfg.RateLimitCfg, counter Counter, trustedProxies []string) (*Limiter, error) {
	proxies, err := ParseProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	if rl.ConservativeLimit <= 0 || rl.RPM <= 0 {
		return nil, errors.New("rate limits must be positive")
	}
	burst := rl.Burst
	if burst <= 0 {
		burst = 1
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, errors.Wrap(err, "client limiter cache")
	}
	l := &Limiter{
		counter:   counter,
		proxies:   proxies,
		clients:   clients,
		perClient: rl.ConservativeLimit,
		burst:     burst,
		globalRPM: rl.RPM,
	}
	l.detector = NewAnomalyDetector(time.Minute, l.TriggerAdaptiveMode)
	l.detector.Start()
	return l, nil
}
func (l *Limiter) Stop() {
	l.detector.Stop()
}
func (l *Limiter) Proxies() Proxies {
	return l.proxies
}
func (l *Limiter) TriggerAdaptiveMode() {
	l.adaptiveUntil.Store(time.Now().Add(adaptivePeriod).UnixNano())
}
func (l *Limiter) isAdaptiveMode() bool {
	return time.Now().UnixNano() < l.adaptiveUntil.Load()
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

// CheckLimit charges one request from the caller of r against endpoint.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	now := time.Now()
	ip := l.proxies.ClientIP(r)
	res := l.checkLocal(ip+":"+endpoint, now)
	if !res.Allowed || l.counter == nil {
		return res
	}
	limit := l.globalRPM
	if l.isAdaptiveMode() {
		limit = max(limit/2, 1)
	}
	ctx, cancel := context.WithTimeout(r.Context(), globalTimeout)
	defer cancel()
	usage, err := l.counter.RateLimit(ctx, "global:"+endpoint, limit, globalWindow)
	if err != nil {
		util.Warn().Err(err).Str("endpoint", endpoint).Msg("global rate limit unavailable, using local limit only")
		return res
	}
	if usage > limit {
		return &RateLimitResult{Limit: limit, Reset: now.Add(globalWindow)}
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: min(limit-usage, res.Remaining),
		Reset:     now.Add(globalWindow),
	}
}
func (l *Limiter) checkLocal(key string, now time.Time) *RateLimitResult {
	bucket, ok := l.clients.Get(key)
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(l.perClient)/60.0), l.burst)
		if prev, found, _ := l.clients.PeekOrAdd(key, bucket); found {
			bucket = prev
		}
	}
	cost := 1
	if l.isAdaptiveMode() {
		cost = min(adaptiveCost, l.burst)
	}
	allowed := bucket.AllowN(now, cost)
	remaining := int(bucket.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     l.perClient,
		Remaining: remaining,
		Reset:     now.Add(time.Minute),
	}
}

// Proxies are the networks whose X-Forwarded-For header is believed.
type Proxies []*net.IPNet

func ParseProxies(entries []string) (Proxies, error) {
	out := make(Proxies, 0, len(entries))
	for _, s := range entries {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			_, n, err := net.ParseCIDR(s)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid CIDR in trusted proxies: %s", s)
			}
			out = append(out, n)
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, errors.Errorf("invalid IP in trusted proxies: %s", s)
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}
func (p Proxies) trusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range p {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP is the socket address, or the nearest untrusted hop of
// X-Forwarded-For when the socket peer is a trusted proxy.
func (p Proxies) ClientIP(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(p) == 0 || !p.trusted(remoteIP) {
		return remoteIP
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	if len(hops) > maxForwardedIPs {
		util.Warn().Int("hops", len(hops)).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
		hops = hops[len(hops)-maxForwardedIPs:]
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			util.Warn().Str("ip", util.RedactIP(hop)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !p.trusted(hop) {
			return hop
		}
	}
	return remoteIP
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
