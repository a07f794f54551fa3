package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"
)

const (
	ipv4PrefixBits = 24
	ipv6PrefixBits = 48
)

// IPPrefix masks ip to its network prefix. Unparseable input is returned
// trimmed, so it still contributes to the fingerprint.
func IPPrefix(ip string) string {
	ip = strings.TrimSpace(ip)
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	addr = addr.Unmap().WithZone("")
	bits := ipv6PrefixBits
	if addr.Is4() {
		bits = ipv4PrefixBits
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return p.String()
}

// Fingerprint is the hex SHA-256 of the user agent and the IP prefix.
func Fingerprint(userAgent, ip string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(userAgent)))
	h.Write([]byte{0})
	h.Write([]byte(IPPrefix(ip)))
	return hex.EncodeToString(h.Sum(nil))
}
