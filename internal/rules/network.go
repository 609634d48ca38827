package rules

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/solatis/routingfilter/internal/types"
	"go4.org/netipx"
)

// buildIPSet parses NETWORK values (bare addresses or CIDRs) into one set.
// Prefixes are masked, so "10.1.2.3/8" means 10.0.0.0/8.
func buildIPSet(values []any) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, v := range values {
		s, ok := toText(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidNetwork, v)
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrInvalidNetwork, err)
			}
			b.AddPrefix(unmapPrefix(p))
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidNetwork, err)
		}
		b.Add(addr.Unmap().WithZone(""))
	}
	return b.IPSet()
}

// matchNetwork reports whether target (an address or a CIDR) lies in or
// overlaps set. Returns an error when target does not parse.
func matchNetwork(set *netipx.IPSet, target string) (bool, error) {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "/") {
		p, err := netip.ParsePrefix(target)
		if err != nil {
			return false, err
		}
		return set.OverlapsPrefix(unmapPrefix(p)), nil
	}
	addr, err := netip.ParseAddr(target)
	if err != nil {
		return false, err
	}
	return set.Contains(addr.Unmap().WithZone("")), nil
}

// unmapPrefix converts an IPv4-mapped IPv6 prefix to its IPv4 form.
func unmapPrefix(p netip.Prefix) netip.Prefix {
	addr := p.Addr()
	if addr.Is4In6() && p.Bits() >= 96 {
		return netip.PrefixFrom(addr.Unmap(), p.Bits()-96).Masked()
	}
	return p.Masked()
}
