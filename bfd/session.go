package bfd

import "fmt"

// SessionFlags marks the origin and mode of a session.
type SessionFlags uint32

const (
	// FlagConfigured is set while the configuration layer owns a reference
	// to the session. It contributes exactly one unit to RefCount.
	FlagConfigured SessionFlags = 1 << iota
	// FlagMultihop marks sessions whose peer is not on an attached link.
	FlagMultihop
	// FlagIPv6 marks sessions keyed by an IPv6 peer.
	FlagIPv6
)

func (f SessionFlags) Has(set SessionFlags) bool {
	return f&set != 0
}

// SessionState is the protocol state of a session.
type SessionState uint8

const (
	StateAdminDown SessionState = iota
	StateDown
	StateInit
	StateUp
)

func (s SessionState) String() string {
	switch s {
	case StateAdminDown:
		return "admin-down"
	case StateDown:
		return "down"
	case StateInit:
		return "init"
	case StateUp:
		return "up"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Timers is the parameter block the engine actually installed. It is
// written only by the engine; the configuration layer reads it to detect
// no-op changes.
type Timers struct {
	DesiredMinTx    uint32
	RequiredMinRx   uint32
	RequiredMinEcho uint32
	DetectMult      uint8
	MinimumTTL      uint8
}

// Discriminators holds the wire identifiers of a session. MyDiscr is zero
// until the engine registers the session.
type Discriminators struct {
	MyDiscr     uint32
	RemoteDiscr uint32
}

// Session is one bidirectional liveness relationship with a peer.
type Session struct {
	Key   SessionKey
	Flags SessionFlags

	// RefCount is the number of co-owners. The configuration layer holds
	// at most one reference; each auto-discovering daemon holds one.
	RefCount int

	// ProfileName is the profile bound by configuration, empty if none.
	ProfileName string

	// PeerProfile holds the values explicitly configured on this session.
	// Fields still at their defaults fall through to the bound profile.
	PeerProfile Profile

	// Timers and Discrs are owned by the engine.
	Timers Timers
	Discrs Discriminators

	State SessionState
}

// NewSession allocates a session for key with default parameters and no
// owners. The multihop and address-family flags are derived from the key;
// the caller accounts for its own reference.
func NewSession(key SessionKey) *Session {
	bs := &Session{
		Key:         key,
		PeerProfile: defaultProfile(""),
		State:       StateDown,
	}
	if key.Multihop {
		bs.Flags |= FlagMultihop
	}
	if key.Peer.Is6() {
		bs.Flags |= FlagIPv6
	}
	return bs
}

func (bs *Session) String() string {
	return bs.Key.String()
}

// SessionRegistry indexes live sessions by canonical key and by local
// discriminator. It is shared between the configuration layer and the
// engine; both run on the daemon's single event loop, so no locking.
type SessionRegistry struct {
	byKey   map[SessionKey]*Session
	byDiscr map[uint32]*Session // key is local discriminator
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byKey:   make(map[SessionKey]*Session),
		byDiscr: make(map[uint32]*Session),
	}
}

// Lookup returns the session for key, nil if absent.
func (r *SessionRegistry) Lookup(key SessionKey) *Session {
	return r.byKey[key]
}

// LookupDiscr returns the session with the given local discriminator.
func (r *SessionRegistry) LookupDiscr(discr uint32) *Session {
	return r.byDiscr[discr]
}

// Insert adds a session under its key. Duplicate insertion is a programmer
// error.
func (r *SessionRegistry) Insert(bs *Session) {
	if _, ok := r.byKey[bs.Key]; ok {
		panic("bfd: duplicate session key " + bs.Key.String())
	}
	r.byKey[bs.Key] = bs
	if bs.Discrs.MyDiscr != 0 {
		r.byDiscr[bs.Discrs.MyDiscr] = bs
	}
}

func (r *SessionRegistry) Remove(bs *Session) {
	delete(r.byKey, bs.Key)
	delete(r.byDiscr, bs.Discrs.MyDiscr)
}

func (r *SessionRegistry) Len() int {
	return len(r.byKey)
}

// Each calls fn for every registered session.
func (r *SessionRegistry) Each(fn func(*Session)) {
	for _, bs := range r.byKey {
		fn(bs)
	}
}

// ManualSessions returns the sessions currently owned by the configuration
// layer, used on whole-subtree destroy.
func (r *SessionRegistry) ManualSessions() []*Session {
	var out []*Session
	for _, bs := range r.byKey {
		if bs.Flags.Has(FlagConfigured) {
			out = append(out, bs)
		}
	}
	return out
}
