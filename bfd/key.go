package bfd

import (
	"errors"
	"fmt"
	"net/netip"
)

// VRFDefault is the name of the default routing domain. Session keys never
// carry an empty vrf name.
const VRFDefault = "default"

var ErrInvalidAddress = errors.New("invalid address")

// SessionKey identifies one BFD session. Two peers configured from different
// sources (CLI, another routing daemon) that canonicalize to the same key
// share a single session object.
type SessionKey struct {
	Peer     netip.Addr
	Local    netip.Addr // zero value when no source address was configured
	Multihop bool
	Ifname   string // empty when the session is not bound to an interface
	Vrf      string
}

// NewSessionKey canonicalizes the raw attributes into a key: the "*"
// interface sentinel becomes "no interface", an empty vrf name becomes the
// default vrf and mapped IPv4-in-IPv6 addresses are unmapped. Eliminating
// the sentinel here keeps string comparisons out of the rest of the daemon.
func NewSessionKey(peer, local netip.Addr, mhop bool, ifname, vrfname string) SessionKey {
	if ifname == "*" {
		ifname = ""
	}
	if vrfname == "" {
		vrfname = VRFDefault
	}
	return SessionKey{
		Peer:     peer.Unmap(),
		Local:    local.Unmap(),
		Multihop: mhop,
		Ifname:   ifname,
		Vrf:      vrfname,
	}
}

// ParseSessionKey builds a canonical key from the string form carried by
// configuration nodes. local may be empty.
func ParseSessionKey(peer, local string, mhop bool, ifname, vrfname string) (SessionKey, error) {
	pa, err := netip.ParseAddr(peer)
	if err != nil {
		return SessionKey{}, fmt.Errorf("%w: dest-addr %q", ErrInvalidAddress, peer)
	}
	var la netip.Addr
	if local != "" {
		la, err = netip.ParseAddr(local)
		if err != nil {
			return SessionKey{}, fmt.Errorf("%w: source-addr %q", ErrInvalidAddress, local)
		}
	}
	return NewSessionKey(pa, la, mhop, ifname, vrfname), nil
}

func (k SessionKey) String() string {
	local, ifname := "-", "-"
	if k.Local.IsValid() {
		local = k.Local.String()
	}
	if k.Ifname != "" {
		ifname = k.Ifname
	}
	mhop := "no"
	if k.Multihop {
		mhop = "yes"
	}
	return fmt.Sprintf("mhop:%s peer:%s local:%s vrf:%s ifname:%s",
		mhop, k.Peer, local, k.Vrf, ifname)
}
