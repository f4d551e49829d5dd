package config

import (
	"net"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

// LoadTrustedProxies parses TRUSTED_PROXIES, a comma separated list of CIDRs
// or bare addresses of the reverse proxies in front of the server. Entries
// that do not parse are skipped.
func LoadTrustedProxies() []*net.IPNet {
	return parseProxies(os.Getenv("TRUSTED_PROXIES"))
}

func parseProxies(s string) []*net.IPNet {
	var out []*net.IPNet
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				continue
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if _, n, err := net.ParseCIDR(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// IPExtractor decides how Echo resolves the client address. Without trusted
// proxies the socket peer is the client and forwarding headers are ignored.
// Otherwise X-Forwarded-For is walked from the right and the first hop that
// is not one of the proxies wins; loopback and private ranges are only
// trusted when listed.
func IPExtractor(proxies []*net.IPNet) echo.IPExtractor {
	if len(proxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range proxies {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}
