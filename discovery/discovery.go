// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery locates the HDMI matrix on the local network via mDNS.
//
// The matrix web controller advertises a plain HTTP service; the scanner
// browses the configured service type and matches advertised instances
// against a configured substring. Discovery is used only when matrix.host is
// not set explicitly, so a fixed address always wins.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
)

// Candidate is a matrix controller found on the network.
type Candidate struct {
	Instance string
	Address  net.IP
	Port     int
	Hostname string
}

// Addr returns the host address to hand to the matrix client.
func (c *Candidate) Addr() string {
	return c.Address.String()
}

// Scanner browses for matrix controllers via mDNS.
type Scanner struct {
	serviceType string
	domain      string
	match       string

	mu         sync.RWMutex
	candidates map[string]*Candidate
}

// NewScanner creates a scanner. match is the lowercase substring an
// advertised instance name must contain to count as a matrix.
func NewScanner(serviceType, domain, match string) *Scanner {
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		match:       strings.ToLower(match),
		candidates:  make(map[string]*Candidate),
	}
}

// Discover browses the network for up to timeout and returns matching
// candidates in discovery order.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]*Candidate, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	// Buffered so a burst of advertisements never blocks the resolver.
	entries := make(chan *zeroconf.ServiceEntry, 10)
	found := make([]*Candidate, 0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			candidate := s.parseServiceEntry(entry)
			if candidate == nil {
				continue
			}

			s.mu.Lock()
			s.candidates[candidate.Instance] = candidate
			s.mu.Unlock()

			found = append(found, candidate)

			logger.Info().
				Str("instance", candidate.Instance).
				Str("address", candidate.Address.String()).
				Int("port", candidate.Port).
				Msg("Discovered matrix controller")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := resolver.Browse(discoverCtx, s.serviceType, s.domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-discoverCtx.Done()
	wg.Wait()

	return found, nil
}

// DiscoverHost runs a scan and returns the address of the first matching
// matrix controller.
func (s *Scanner) DiscoverHost(ctx context.Context, timeout time.Duration) (string, error) {
	candidates, err := s.Discover(ctx, timeout)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no matrix controller matching %q found via mDNS", s.match)
	}
	if len(candidates) > 1 {
		logger.Warn().Int("count", len(candidates)).Str("using", candidates[0].Instance).
			Msg("Multiple matrix controllers found, using first")
	}
	return candidates[0].Addr(), nil
}

// parseServiceEntry converts a zeroconf service entry to a Candidate,
// filtering out entries that do not look like a matrix controller.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Candidate {
	if entry == nil {
		return nil
	}
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}
	if s.match != "" && !strings.Contains(strings.ToLower(entry.Instance), s.match) &&
		!strings.Contains(strings.ToLower(entry.HostName), s.match) {
		return nil
	}

	// Prefer IPv4, the matrix web controller does not listen on IPv6.
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	return &Candidate{
		Instance: entry.Instance,
		Address:  addr,
		Port:     entry.Port,
		Hostname: entry.HostName,
	}
}

// Candidates returns every matrix controller seen so far.
func (s *Scanner) Candidates() []*Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	return out
}
