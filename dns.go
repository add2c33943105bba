package chanmon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// resolver tracks the IP set of the remote-write host so the exporter can
// detect endpoint moves and recreate its client. Lookups race every
// configured transport (UDP, DoT, DoH, system) and take the first success.
type resolver struct {
	host string
	cfg  resolverConfig

	mu          sync.Mutex
	ips         []string
	cache       map[string]dnsCacheEntry
	lastResolve time.Time
}

type resolverConfig struct {
	enabled         bool
	cacheTTL        time.Duration
	refreshInterval time.Duration
	timeout         time.Duration
	udpServers      []string
	tlsServers      []string
	dohEndpoints    []string
}

type dnsCacheEntry struct {
	ips []string
	ttl time.Time
}

func newResolver(host string, config Config) *resolver {
	return &resolver{
		host: host,
		cfg: resolverConfig{
			enabled:         config.DNSEnable,
			cacheTTL:        pickDuration(config.DNSCacheTTL, 10*time.Minute),
			refreshInterval: pickDuration(config.DNSRefreshInterval, 5*time.Minute),
			timeout:         pickDuration(config.DNSTimeout, 800*time.Millisecond),
			udpServers:      append([]string(nil), config.DNSUDPServers...),
			tlsServers:      append([]string(nil), config.DNSTLSServers...),
			dohEndpoints:    append([]string(nil), config.DNSDoHEndpoints...),
		},
		cache: make(map[string]dnsCacheEntry),
	}
}

// active reports whether there is a hostname worth refreshing. IP-literal
// endpoints never change under DNS.
func (r *resolver) active() bool {
	return r.cfg.enabled && r.host != "" && net.ParseIP(r.host) == nil
}

func (r *resolver) resolvedIPs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ips...)
}

// refresh re-resolves the host and reports whether the IP set changed.
// Unforced refreshes are throttled and served from cache when fresh.
func (r *resolver) refresh(ctx context.Context, force bool) bool {
	if r.host == "" || net.ParseIP(r.host) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !force && time.Since(r.lastResolve) < time.Minute {
		return false
	}

	if ce, ok := r.cache[r.host]; ok && time.Now().Before(ce.ttl) && !force {
		r.lastResolve = time.Now()
		if !stringSlicesEqual(ce.ips, r.ips) {
			r.ips = ce.ips
			return true
		}
		return false
	}

	var newSet []string
	var err error
	if r.cfg.enabled {
		newSet, err = r.resolveFastest(ctx)
	} else {
		var sysIPs []net.IP
		sysIPs, err = net.LookupIP(r.host)
		for _, ip := range sysIPs {
			newSet = append(newSet, ip.String())
		}
	}
	r.lastResolve = time.Now()

	if err != nil || len(newSet) == 0 {
		return false
	}

	if r.cfg.enabled {
		r.cache[r.host] = dnsCacheEntry{ips: newSet, ttl: time.Now().Add(r.cfg.cacheTTL)}
	}

	changed := !stringSlicesEqual(newSet, r.ips)
	r.ips = newSet
	return changed || force
}

// resolveFastest queries all configured resolvers concurrently and returns
// the first successful answer.
func (r *resolver) resolveFastest(parent context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.timeout)
	defer cancel()

	type result struct {
		ips []string
		err error
	}
	ch := make(chan result, 1)

	attempt := func(fn func() ([]string, error)) {
		go func() {
			ips, err := fn()
			select {
			case ch <- result{ips, err}:
			default:
			}
		}()
	}

	for _, srv := range r.cfg.udpServers {
		s := srv
		attempt(func() ([]string, error) { return r.exchange(ctx, "udp", s) })
	}
	for _, srv := range r.cfg.tlsServers {
		s := srv
		attempt(func() ([]string, error) { return r.exchange(ctx, "tcp-tls", s) })
	}
	for _, ep := range r.cfg.dohEndpoints {
		e := ep
		attempt(func() ([]string, error) { return r.resolveDoH(ctx, e) })
	}
	attempt(func() ([]string, error) {
		netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip", r.host)
		ips := make([]string, 0, len(netIPs))
		for _, ip := range netIPs {
			ips = append(ips, ip.String())
		}
		return ips, err
	})

	attempts := 1 + len(r.cfg.udpServers) + len(r.cfg.tlsServers) + len(r.cfg.dohEndpoints)
	var firstErr error
	for i := 0; i < attempts; i++ {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no dns result")
	}
	return nil, firstErr
}

// exchange performs one A query over the given transport ("udp" or
// "tcp-tls").
func (r *resolver) exchange(ctx context.Context, network, server string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(r.host), dns.TypeA)
	c := &dns.Client{Net: network, Timeout: r.cfg.timeout}
	resp, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s dns query failed: %v", network, err)
	}
	return answersToIPs(resp), nil
}

func (r *resolver) resolveDoH(ctx context.Context, endpoint string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(r.host), dns.TypeA)
	payload, err := q.Pack()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var msg dns.Msg
	if err := msg.Unpack(body); err != nil {
		return nil, err
	}
	if msg.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("doh rcode: %d", msg.Rcode)
	}
	return answersToIPs(&msg), nil
}

func answersToIPs(msg *dns.Msg) []string {
	ips := make([]string, 0, len(msg.Answer))
	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
