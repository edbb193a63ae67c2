// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestNewScanner(t *testing.T) {
	serviceType := "_http._tcp"
	domain := "local."

	scanner := NewScanner(serviceType, domain, "HDMI-Matrix")

	if scanner == nil {
		t.Fatal("NewScanner() returned nil")
	}

	if scanner.serviceType != serviceType {
		t.Errorf("serviceType = %v, want %v", scanner.serviceType, serviceType)
	}

	if scanner.domain != domain {
		t.Errorf("domain = %v, want %v", scanner.domain, domain)
	}

	// The match substring is compared case-insensitively.
	if scanner.match != "hdmi-matrix" {
		t.Errorf("match = %v, want hdmi-matrix", scanner.match)
	}

	if len(scanner.candidates) != 0 {
		t.Errorf("candidates map should be empty, got %d entries", len(scanner.candidates))
	}
}

func makeEntry(instance, hostname string, ipv4, ipv6 []net.IP) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, "_http._tcp", "local.")
	entry.HostName = hostname
	entry.Port = 80
	entry.AddrIPv4 = ipv4
	entry.AddrIPv6 = ipv6
	return entry
}

func TestParseServiceEntry(t *testing.T) {
	v4 := []net.IP{net.ParseIP("192.168.1.50")}
	v6 := []net.IP{net.ParseIP("fe80::1")}

	tests := []struct {
		name     string
		match    string
		entry    *zeroconf.ServiceEntry
		want     bool
		wantAddr string
	}{
		{
			name:  "nil entry",
			match: "hdmi-matrix",
			entry: nil,
			want:  false,
		},
		{
			name:  "no addresses",
			match: "hdmi-matrix",
			entry: makeEntry("HDMI-Matrix Controller", "matrix.local.", nil, nil),
			want:  false,
		},
		{
			name:  "instance does not match",
			match: "hdmi-matrix",
			entry: makeEntry("Office Printer", "printer.local.", v4, nil),
			want:  false,
		},
		{
			name:     "instance matches case-insensitively",
			match:    "hdmi-matrix",
			entry:    makeEntry("HDMI-MATRIX Controller", "matrix.local.", v4, nil),
			want:     true,
			wantAddr: "192.168.1.50",
		},
		{
			name:     "hostname matches when instance does not",
			match:    "hdmi-matrix",
			entry:    makeEntry("Web Controller", "hdmi-matrix.local.", v4, nil),
			want:     true,
			wantAddr: "192.168.1.50",
		},
		{
			name:     "falls back to IPv6 when no IPv4 address",
			match:    "hdmi-matrix",
			entry:    makeEntry("HDMI-Matrix Controller", "matrix.local.", nil, v6),
			want:     true,
			wantAddr: "fe80::1",
		},
		{
			name:     "empty match accepts any instance",
			match:    "",
			entry:    makeEntry("Anything", "anything.local.", v4, nil),
			want:     true,
			wantAddr: "192.168.1.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := NewScanner("_http._tcp", "local.", tt.match)
			candidate := scanner.parseServiceEntry(tt.entry)

			if !tt.want {
				if candidate != nil {
					t.Errorf("parseServiceEntry() = %+v, want nil", candidate)
				}
				return
			}

			if candidate == nil {
				t.Fatal("parseServiceEntry() = nil, want a candidate")
			}
			if candidate.Addr() != tt.wantAddr {
				t.Errorf("Addr() = %v, want %v", candidate.Addr(), tt.wantAddr)
			}
			if candidate.Port != 80 {
				t.Errorf("Port = %d, want 80", candidate.Port)
			}
		})
	}
}

func TestCandidates(t *testing.T) {
	scanner := NewScanner("_http._tcp", "local.", "")

	if got := scanner.Candidates(); len(got) != 0 {
		t.Errorf("Candidates() = %d entries before any scan, want 0", len(got))
	}

	scanner.candidates["a"] = &Candidate{
		Instance: "a",
		Address:  net.ParseIP("192.168.1.50"),
		Port:     80,
	}
	scanner.candidates["b"] = &Candidate{
		Instance: "b",
		Address:  net.ParseIP("192.168.1.51"),
		Port:     80,
	}

	if got := scanner.Candidates(); len(got) != 2 {
		t.Errorf("Candidates() = %d entries, want 2", len(got))
	}
}
