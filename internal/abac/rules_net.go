package abac

import (
	"errors"
	"net/netip"
	"strings"
)

// CIDR is satisfied when the value is an IP address inside the network.
type CIDR struct {
	CIDR string `json:"cidr"`
}

func NewCIDR(cidr string) *CIDR { return &CIDR{CIDR: cidr} }

func (*CIDR) Type() string { return TypeCIDR }

func (r *CIDR) validate() error {
	if r.CIDR == "" {
		return errors.New("cidr is required")
	}
	return nil
}

// Satisfied never errors: a malformed address or network just fails the match.
func (r *CIDR) Satisfied(what any, _ *Inquiry) (bool, error) {
	s, ok := what.(string)
	if !ok {
		return false, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false, nil
	}
	prefix, ok := parseNetwork(r.CIDR)
	if !ok {
		return false, nil
	}
	return prefix.Contains(addr.Unmap()), nil
}

// parseNetwork accepts "addr/bits" or a bare address (a host network). A
// prefix with host bits set is rejected.
func parseNetwork(s string) (netip.Prefix, bool) {
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), true
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	if p.Masked() != p {
		return netip.Prefix{}, false
	}
	return p, true
}

func (r *CIDR) MarshalJSON() ([]byte, error) {
	type plain CIDR
	return marshalTagged(TypeCIDR, (*plain)(r))
}
