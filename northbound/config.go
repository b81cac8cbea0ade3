package northbound

import (
	"fmt"
	"net/netip"

	"github.com/c-po/frr/bfd"
)

// registerCallbacks binds every attribute path of the BFD configuration
// model to its phase machine. Multihop sessions share the single-hop leaf
// handlers; echo mode is single-hop only and minimum-ttl multihop only.
func (nb *Northbound) registerCallbacks() {
	for _, cbs := range []*Callbacks{
		{Path: "/bfd", Create: nb.bfdCreate, Destroy: nb.bfdDestroy},

		{Path: "/bfd/profile", Create: nb.profileCreate, Destroy: nb.profileDestroy},
		{Path: "/bfd/profile/detection-multiplier", Modify: nb.profileDetectMultModify},
		{Path: "/bfd/profile/desired-transmission-interval", Modify: nb.profileMinTxModify},
		{Path: "/bfd/profile/required-receive-interval", Modify: nb.profileMinRxModify},
		{Path: "/bfd/profile/administrative-down", Modify: nb.profileShutdownModify},
		{Path: "/bfd/profile/passive-mode", Modify: nb.profilePassiveModify},
		{Path: "/bfd/profile/minimum-ttl", Modify: nb.profileMinimumTTLModify, Destroy: nb.profileMinimumTTLDestroy},
		{Path: "/bfd/profile/echo-mode", Modify: nb.profileEchoModeModify},
		{Path: "/bfd/profile/desired-echo-transmission-interval", Modify: nb.profileEchoIntervalModify},

		{Path: "/bfd/sessions/single-hop", Create: nb.singleHopCreate, Destroy: nb.singleHopDestroy},
		{Path: "/bfd/sessions/single-hop/source-addr", Modify: nb.sourceAddrModify, Destroy: nb.sourceAddrDestroy},
		{Path: "/bfd/sessions/single-hop/profile", Modify: nb.sessionProfileModify, Destroy: nb.sessionProfileDestroy},
		{Path: "/bfd/sessions/single-hop/detection-multiplier", Modify: nb.sessionDetectMultModify},
		{Path: "/bfd/sessions/single-hop/desired-transmission-interval", Modify: nb.sessionMinTxModify},
		{Path: "/bfd/sessions/single-hop/required-receive-interval", Modify: nb.sessionMinRxModify},
		{Path: "/bfd/sessions/single-hop/administrative-down", Modify: nb.sessionShutdownModify},
		{Path: "/bfd/sessions/single-hop/passive-mode", Modify: nb.sessionPassiveModify},
		{Path: "/bfd/sessions/single-hop/echo-mode", Modify: nb.sessionEchoModeModify},
		{Path: "/bfd/sessions/single-hop/desired-echo-transmission-interval", Modify: nb.sessionEchoIntervalModify},

		{Path: "/bfd/sessions/multi-hop", Create: nb.multiHopCreate, Destroy: nb.multiHopDestroy},
		{Path: "/bfd/sessions/multi-hop/profile", Modify: nb.sessionProfileModify, Destroy: nb.sessionProfileDestroy},
		{Path: "/bfd/sessions/multi-hop/detection-multiplier", Modify: nb.sessionDetectMultModify},
		{Path: "/bfd/sessions/multi-hop/desired-transmission-interval", Modify: nb.sessionMinTxModify},
		{Path: "/bfd/sessions/multi-hop/required-receive-interval", Modify: nb.sessionMinRxModify},
		{Path: "/bfd/sessions/multi-hop/administrative-down", Modify: nb.sessionShutdownModify},
		{Path: "/bfd/sessions/multi-hop/passive-mode", Modify: nb.sessionPassiveModify},
		{Path: "/bfd/sessions/multi-hop/minimum-ttl", Modify: nb.sessionMinimumTTLModify, Destroy: nb.sessionMinimumTTLDestroy},
	} {
		nb.callbacks[cbs.Path] = cbs
	}
}

// sessionKey derives the canonical session identity from a session node.
func sessionKey(n *Node, mhop bool) (bfd.SessionKey, error) {
	return bfd.ParseSessionKey(n.Field("dest-addr"), n.Field("source-addr"),
		mhop, n.Field("interface"), n.Field("vrf"))
}

// /bfd

func (nb *Northbound) bfdCreate(Args) error {
	return nil
}

func (nb *Northbound) bfdDestroy(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	nb.bs.SessionsRemoveManual()
	return nil
}

// /bfd/sessions/single-hop
// /bfd/sessions/multi-hop

func (nb *Northbound) singleHopCreate(args Args) error  { return nb.sessionCreate(args, false) }
func (nb *Northbound) singleHopDestroy(args Args) error { return nb.sessionDestroy(args, false) }
func (nb *Northbound) multiHopCreate(args Args) error   { return nb.sessionCreate(args, true) }
func (nb *Northbound) multiHopDestroy(args Args) error  { return nb.sessionDestroy(args, true) }

func (nb *Northbound) sessionCreate(args Args, mhop bool) error {
	switch args.Event {
	case EventValidate:
		peer, err := netip.ParseAddr(args.Node.Field("dest-addr"))
		if err != nil {
			return fmt.Errorf("%w: dest-addr %q", bfd.ErrInvalidAddress, args.Node.Field("dest-addr"))
		}
		// A link-local peer gives no way to pick the outgoing link unless
		// an interface is named.
		ifname := args.Node.Field("interface")
		if peer.Is6() && peer.IsLinkLocalUnicast() && (ifname == "" || ifname == "*") {
			return ErrLinkLocalInterface
		}
		return nb.validateSessionSiblings(args.Node, mhop)

	case EventPrepare:
		key, err := sessionKey(args.Node, mhop)
		if err != nil {
			return err
		}
		if bs := nb.bs.Sessions().Lookup(key); bs != nil {
			// Another daemon discovered this peer first; adopt the session.
			bs.Flags |= bfd.FlagConfigured
			bs.RefCount++
			args.Resource.Session = bs
			return nil
		}
		bs := bfd.NewSession(key)
		bs.Flags |= bfd.FlagConfigured
		bs.RefCount = 1
		args.Resource.Session = bs

	case EventApply:
		bs := args.Resource.Session
		// Only freshly allocated sessions need registration.
		if bs.Discrs.MyDiscr == 0 {
			if err := nb.bs.Register(bs); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrResource, bs.Key, err)
			}
		}
		nb.runningSetEntry(args.Node, bs)

	case EventAbort:
		bs := args.Resource.Session
		if bs == nil {
			return nil
		}
		nb.runningUnsetEntry(args.Node)
		if bs.RefCount > 1 {
			// Adopted during prepare: hand the reference back.
			bs.RefCount--
			bs.Flags &^= bfd.FlagConfigured
			return nil
		}
		nb.bs.Free(bs)
	}
	return nil
}

// validateSessionSiblings compares the node against the other entries of
// its list by canonical key. Two entries collapsing onto one key (omitted
// vrf next to an explicit "default", two spellings of one IPv6 address)
// are rejected outright: letting both through would double-register one
// session. Mixing the wildcard and a specific interface for the same
// (source, dest, vrf) triple is rejected too, as the two distinct keys
// would describe what is one liveness peer.
func (nb *Northbound) validateSessionSiblings(node *Node, mhop bool) error {
	sessions := node.Parent("sessions")
	if sessions == nil {
		return nil
	}
	listName := "single-hop"
	if mhop {
		listName = "multi-hop"
	}
	key, err := sessionKey(node, mhop)
	if err != nil {
		return err
	}
	anyIf := key
	anyIf.Ifname = ""
	count, wildcard := 0, false
	for _, sib := range sessions.ChildrenNamed(listName) {
		sk, err := sessionKey(sib, mhop)
		if err != nil {
			// The sibling fails its own validation.
			continue
		}
		if sib != node && sk == key {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, key)
		}
		sa := sk
		sa.Ifname = ""
		if sa != anyIf {
			continue
		}
		if sk.Ifname == "" {
			wildcard = true
		}
		count++
	}
	if wildcard && count > 1 {
		return fmt.Errorf("%w: peer %s vrf %s", ErrWildcardConflict, key.Peer, key.Vrf)
	}
	return nil
}

func (nb *Northbound) sessionDestroy(args Args, mhop bool) error {
	switch args.Event {
	case EventValidate:
		key, err := sessionKey(args.Node, mhop)
		if err != nil {
			return err
		}
		if nb.bs.Sessions().Lookup(key) == nil {
			return fmt.Errorf("%w: %s", ErrInconsistency, key)
		}

	case EventApply:
		bs, _ := nb.runningUnsetEntry(args.Node).(*bfd.Session)
		if bs == nil {
			return nil
		}
		// The configuration layer may already have released its reference,
		// e.g. when the whole subtree is being destroyed.
		if !bs.Flags.Has(bfd.FlagConfigured) {
			return nil
		}
		bs.Flags &^= bfd.FlagConfigured
		bs.RefCount--
		if bs.RefCount > 0 {
			// Other daemons still hold the session.
			return nil
		}
		nb.bs.Free(bs)
	}
	return nil
}

// /bfd/profile

func (nb *Northbound) profileCreate(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	bp, err := nb.bs.ProfileNew(args.Node.Field("name"))
	if err != nil {
		return err
	}
	nb.runningSetEntry(args.Node, bp)
	return nil
}

func (nb *Northbound) profileDestroy(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	bp, _ := nb.runningUnsetEntry(args.Node).(*bfd.Profile)
	if bp != nil {
		nb.bs.ProfileFree(bp)
	}
	return nil
}

// /bfd/profile/detection-multiplier

func (nb *Northbound) profileDetectMultModify(args Args) error {
	switch args.Event {
	case EventValidate:
		v, err := args.Node.Uint8()
		if err != nil {
			return err
		}
		if v < 1 {
			return fmt.Errorf("%w: detection multiplier must be at least 1", bfd.ErrValueRange)
		}
	case EventApply:
		v, err := args.Node.Uint8()
		if err != nil {
			return err
		}
		return nb.bs.ProfileSetDetectMult(nb.runningProfile(args.Node), v)
	}
	return nil
}

// /bfd/profile/desired-transmission-interval

func (nb *Northbound) profileMinTxModify(args Args) error {
	switch args.Event {
	case EventValidate:
		return validateIntervalNode(args.Node)
	case EventApply:
		v, err := args.Node.Uint32()
		if err != nil {
			return err
		}
		return nb.bs.ProfileSetMinTx(nb.runningProfile(args.Node), v)
	}
	return nil
}

// /bfd/profile/required-receive-interval

func (nb *Northbound) profileMinRxModify(args Args) error {
	switch args.Event {
	case EventValidate:
		return validateIntervalNode(args.Node)
	case EventApply:
		v, err := args.Node.Uint32()
		if err != nil {
			return err
		}
		return nb.bs.ProfileSetMinRx(nb.runningProfile(args.Node), v)
	}
	return nil
}

// /bfd/profile/desired-echo-transmission-interval

func (nb *Northbound) profileEchoIntervalModify(args Args) error {
	switch args.Event {
	case EventValidate:
		return validateIntervalNode(args.Node)
	case EventApply:
		v, err := args.Node.Uint32()
		if err != nil {
			return err
		}
		return nb.bs.ProfileSetMinEchoRx(nb.runningProfile(args.Node), v)
	}
	return nil
}

// /bfd/profile/administrative-down

func (nb *Northbound) profileShutdownModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Bool()
	if err != nil {
		return err
	}
	nb.bs.ProfileSetShutdown(nb.runningProfile(args.Node), v)
	return nil
}

// /bfd/profile/passive-mode

func (nb *Northbound) profilePassiveModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Bool()
	if err != nil {
		return err
	}
	nb.bs.ProfileSetPassive(nb.runningProfile(args.Node), v)
	return nil
}

// /bfd/profile/echo-mode

func (nb *Northbound) profileEchoModeModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Bool()
	if err != nil {
		return err
	}
	nb.bs.ProfileSetEchoMode(nb.runningProfile(args.Node), v)
	return nil
}

// /bfd/profile/minimum-ttl

func (nb *Northbound) profileMinimumTTLModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Uint8()
	if err != nil {
		return err
	}
	nb.bs.ProfileSetMinimumTTL(nb.runningProfile(args.Node), v)
	return nil
}

func (nb *Northbound) profileMinimumTTLDestroy(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	nb.bs.ProfileUnsetMinimumTTL(nb.runningProfile(args.Node))
	return nil
}

// /bfd/sessions/single-hop/source-addr
//
// The source address is part of the immutable session key; changing it in
// place is rejected so the host falls back to destroy+create. Setting it
// while the session entry itself is being created is fine: the create
// callback reads the leaf from the document before any session exists.

func (nb *Northbound) sourceAddrModify(args Args) error {
	if args.Event != EventValidate {
		return nil
	}
	bs, _ := nb.runningGetEntry(args.Node).(*bfd.Session)
	if bs == nil {
		// Session is being created in this transaction.
		return nil
	}
	local, err := netip.ParseAddr(args.Node.Value)
	if err != nil {
		return fmt.Errorf("%w: source-addr %q", bfd.ErrInvalidAddress, args.Node.Value)
	}
	if local.Unmap() == bs.Key.Local {
		return nil
	}
	return ErrSourceAddrImmutable
}

func (nb *Northbound) sourceAddrDestroy(args Args) error {
	if args.Event != EventValidate {
		return nil
	}
	if args.Node.parent != nil && args.Node.parent.Detached() {
		// The whole session entry is being destroyed; its own callback
		// handles the teardown. A leaf deleted on its own leaves the
		// entry attached and falls through to the rejection.
		return nil
	}
	return ErrSourceAddrImmutable
}

// Session profile binding

func (nb *Northbound) sessionProfileModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	nb.bs.ProfileApply(args.Node.Value, nb.runningSession(args.Node))
	return nil
}

func (nb *Northbound) sessionProfileDestroy(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	nb.bs.ProfileRemove(nb.runningSession(args.Node))
	return nil
}

// Session scalar fields. Each no-ops when the new value matches what the
// engine already installed, so committing an unchanged document does not
// churn the engine.

func (nb *Northbound) sessionDetectMultModify(args Args) error {
	switch args.Event {
	case EventValidate:
		v, err := args.Node.Uint8()
		if err != nil {
			return err
		}
		if v < 1 {
			return fmt.Errorf("%w: detection multiplier must be at least 1", bfd.ErrValueRange)
		}
	case EventApply:
		v, err := args.Node.Uint8()
		if err != nil {
			return err
		}
		bs := nb.runningSession(args.Node)
		if v == bs.PeerProfile.DetectionMultiplier {
			return nil
		}
		bs.PeerProfile.DetectionMultiplier = v
		nb.bs.SessionApply(bs)
	}
	return nil
}

func (nb *Northbound) sessionMinTxModify(args Args) error {
	switch args.Event {
	case EventValidate:
		return validateIntervalNode(args.Node)
	case EventApply:
		v, err := args.Node.Uint32()
		if err != nil {
			return err
		}
		bs := nb.runningSession(args.Node)
		if v == bs.Timers.DesiredMinTx {
			return nil
		}
		bs.PeerProfile.MinTx = v
		nb.bs.SessionApply(bs)
	}
	return nil
}

func (nb *Northbound) sessionMinRxModify(args Args) error {
	switch args.Event {
	case EventValidate:
		return validateIntervalNode(args.Node)
	case EventApply:
		v, err := args.Node.Uint32()
		if err != nil {
			return err
		}
		bs := nb.runningSession(args.Node)
		if v == bs.Timers.RequiredMinRx {
			return nil
		}
		bs.PeerProfile.MinRx = v
		nb.bs.SessionApply(bs)
	}
	return nil
}

func (nb *Northbound) sessionEchoIntervalModify(args Args) error {
	switch args.Event {
	case EventValidate:
		return validateIntervalNode(args.Node)
	case EventApply:
		v, err := args.Node.Uint32()
		if err != nil {
			return err
		}
		bs := nb.runningSession(args.Node)
		if v == bs.Timers.RequiredMinEcho {
			return nil
		}
		bs.PeerProfile.MinEchoRx = v
		nb.bs.SessionApply(bs)
	}
	return nil
}

func (nb *Northbound) sessionShutdownModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Bool()
	if err != nil {
		return err
	}
	bs := nb.runningSession(args.Node)
	if v == bs.PeerProfile.AdminShutdown {
		return nil
	}
	bs.PeerProfile.AdminShutdown = v
	nb.bs.SessionApply(bs)
	return nil
}

func (nb *Northbound) sessionPassiveModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Bool()
	if err != nil {
		return err
	}
	bs := nb.runningSession(args.Node)
	if v == bs.PeerProfile.Passive {
		return nil
	}
	bs.PeerProfile.Passive = v
	nb.bs.SessionApply(bs)
	return nil
}

func (nb *Northbound) sessionEchoModeModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Bool()
	if err != nil {
		return err
	}
	bs := nb.runningSession(args.Node)
	if v == bs.PeerProfile.EchoMode {
		return nil
	}
	bs.PeerProfile.EchoMode = v
	nb.bs.SessionApply(bs)
	return nil
}

// /bfd/sessions/multi-hop/minimum-ttl

func (nb *Northbound) sessionMinimumTTLModify(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	v, err := args.Node.Uint8()
	if err != nil {
		return err
	}
	bs := nb.runningSession(args.Node)
	if v == bs.PeerProfile.MinimumTTL {
		return nil
	}
	bs.PeerProfile.MinimumTTL = v
	nb.bs.SessionApply(bs)
	return nil
}

func (nb *Northbound) sessionMinimumTTLDestroy(args Args) error {
	if args.Event != EventApply {
		return nil
	}
	bs := nb.runningSession(args.Node)
	bs.PeerProfile.MinimumTTL = bfd.DefaultMhopTTL
	nb.bs.SessionApply(bs)
	return nil
}

func validateIntervalNode(n *Node) error {
	v, err := n.Uint32()
	if err != nil {
		return err
	}
	return bfd.ValidateInterval(v)
}
