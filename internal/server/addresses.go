// Package server binds the configured listen addresses and serves one
// handler on all of them.
package server

import (
	"log/slog"
	"net/netip"
	"strings"
)

// ParseAddresses splits each entry on commas and validates every part as an
// IP:port pair ("127.0.0.1:8080", "[::1]:8080"). Host names are rejected.
// Invalid parts are logged and skipped. Duplicates keep their first position,
// except port 0, which asks for a fresh ephemeral port each time.
func ParseAddresses(raw []string) []netip.AddrPort {
	seen := make(map[netip.AddrPort]struct{})
	var addrs []netip.AddrPort
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := netip.ParseAddrPort(part)
			if err != nil {
				slog.Error("invalid address format", "address", part, "error", err)
				continue
			}
			if _, dup := seen[addr]; dup && addr.Port() != 0 {
				slog.Warn("duplicate address ignored", "address", part)
				continue
			}
			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
