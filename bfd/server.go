package bfd

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
)

var ErrSessionLimit = errors.New("session limit reached")

// Stats counts engine work since startup, exported for telemetry. The
// counters only ever grow.
type Stats struct {
	Registrations  uint64
	SessionsFreed  uint64
	SessionApplies uint64
	ProfileUpdates uint64
}

// Server is the engine half of the reconciler contract: it owns
// discriminator assignment, parameter assimilation and the propagation of
// profile changes to referring sessions. Packet processing and the timer
// wheel hang off the installed Timers blocks and are handled elsewhere.
//
// All methods run on the daemon's main event loop.
type Server struct {
	sessions *SessionRegistry
	profiles *ProfileRegistry

	limit int // max sessions, 0 means unlimited
	stats Stats
}

type ServerOption func(*Server)

// WithSessionLimit caps the number of registered sessions. Registration
// beyond the cap fails with ErrSessionLimit.
func WithSessionLimit(n int) ServerOption {
	return func(s *Server) { s.limit = n }
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		sessions: NewSessionRegistry(),
		profiles: NewProfileRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Sessions() *SessionRegistry { return s.sessions }
func (s *Server) Profiles() *ProfileRegistry { return s.profiles }
func (s *Server) Stats() Stats               { return s.stats }

// Register assigns a local discriminator to a freshly allocated session,
// inserts it into the registry and installs its parameters. Registering an
// already registered session is a no-op.
func (s *Server) Register(bs *Session) error {
	if bs.Discrs.MyDiscr != 0 {
		return nil
	}
	if s.limit > 0 && s.sessions.Len() >= s.limit {
		return fmt.Errorf("%w: %d sessions", ErrSessionLimit, s.limit)
	}
	bs.Discrs.MyDiscr = s.genDiscr()
	s.sessions.Insert(bs)
	s.stats.Registrations++
	s.SessionApply(bs)
	slog.Info("bfd: session registered", "session", bs, "discr", bs.Discrs.MyDiscr)
	return nil
}

func (s *Server) genDiscr() uint32 {
	for {
		d := rand.Uint32()
		if d != 0 && s.sessions.LookupDiscr(d) == nil {
			return d
		}
	}
}

// Free tears a session down and removes it from the registry. The caller
// is responsible for the reference accounting that led here.
func (s *Server) Free(bs *Session) {
	if bs.Discrs.MyDiscr != 0 {
		s.sessions.Remove(bs)
		bs.Discrs.MyDiscr = 0
	}
	s.stats.SessionsFreed++
	slog.Info("bfd: session freed", "session", bs)
}

// SessionsRemoveManual releases the configuration layer's ownership of
// every session it holds. Sessions co-owned by other daemons stay alive.
func (s *Server) SessionsRemoveManual() {
	for _, bs := range s.sessions.ManualSessions() {
		bs.Flags &^= FlagConfigured
		bs.RefCount--
		if bs.RefCount > 0 {
			continue
		}
		s.Free(bs)
	}
}

// ProfileNew allocates a named profile with built-in defaults.
func (s *Server) ProfileNew(name string) (*Profile, error) {
	return s.profiles.New(name)
}

// ProfileFree removes a profile. Sessions referencing it by name fall back
// to built-in defaults on their next evaluation, which happens right here.
func (s *Server) ProfileFree(bp *Profile) {
	s.profiles.Delete(bp)
	s.profileChanged(bp.Name)
}

// ProfileUpdate re-evaluates every session referencing the profile. Called
// exactly once per profile mutation.
func (s *Server) ProfileUpdate(bp *Profile) {
	s.stats.ProfileUpdates++
	s.profileChanged(bp.Name)
}

func (s *Server) profileChanged(name string) {
	s.sessions.Each(func(bs *Session) {
		if bs.ProfileName == name {
			s.SessionApply(bs)
		}
	})
}

// ProfileApply binds the named profile to the session and re-evaluates it.
// The profile does not need to exist yet; the binding is by name.
func (s *Server) ProfileApply(name string, bs *Session) {
	if bs.ProfileName == name {
		return
	}
	bs.ProfileName = name
	s.SessionApply(bs)
}

// ProfileRemove drops the session's profile binding.
func (s *Server) ProfileRemove(bs *Session) {
	if bs.ProfileName == "" {
		return
	}
	bs.ProfileName = ""
	s.SessionApply(bs)
}

// SessionApply recomputes the installed parameter block: values configured
// directly on the session win over the bound profile, which wins over
// built-in defaults. Idempotent; callers invoke it after any change that
// may affect the effective parameters.
func (s *Server) SessionApply(bs *Session) {
	s.stats.SessionApplies++

	eff := defaultProfile("")
	if bp := s.profiles.Lookup(bs.ProfileName); bp != nil {
		eff = *bp
	}
	def := defaultProfile("")
	peer := &bs.PeerProfile
	if peer.DetectionMultiplier != def.DetectionMultiplier {
		eff.DetectionMultiplier = peer.DetectionMultiplier
	}
	if peer.MinTx != def.MinTx {
		eff.MinTx = peer.MinTx
	}
	if peer.MinRx != def.MinRx {
		eff.MinRx = peer.MinRx
	}
	if peer.MinEchoRx != def.MinEchoRx {
		eff.MinEchoRx = peer.MinEchoRx
	}
	if peer.MinimumTTL != def.MinimumTTL {
		eff.MinimumTTL = peer.MinimumTTL
	}
	if peer.AdminShutdown {
		eff.AdminShutdown = true
	}
	if peer.Passive {
		eff.Passive = true
	}
	if peer.EchoMode {
		eff.EchoMode = true
	}

	bs.Timers = Timers{
		DesiredMinTx:    eff.MinTx,
		RequiredMinRx:   eff.MinRx,
		RequiredMinEcho: eff.MinEchoRx,
		DetectMult:      eff.DetectionMultiplier,
		MinimumTTL:      eff.MinimumTTL,
	}
	switch {
	case eff.AdminShutdown:
		bs.State = StateAdminDown
	case bs.State == StateAdminDown:
		bs.State = StateDown
	}
	slog.Debug("bfd: session parameters installed", "session", bs, "timers", bs.Timers)
}

// Profile field setters. Each validates, short-circuits when the value is
// unchanged and otherwise fires exactly one profile update.

func (s *Server) ProfileSetDetectMult(bp *Profile, v uint8) error {
	if v < 1 {
		return fmt.Errorf("%w: detection multiplier must be at least 1", ErrValueRange)
	}
	if bp.DetectionMultiplier == v {
		return nil
	}
	bp.DetectionMultiplier = v
	s.ProfileUpdate(bp)
	return nil
}

func (s *Server) ProfileSetMinTx(bp *Profile, v uint32) error {
	if err := ValidateInterval(v); err != nil {
		return err
	}
	if bp.MinTx == v {
		return nil
	}
	bp.MinTx = v
	s.ProfileUpdate(bp)
	return nil
}

func (s *Server) ProfileSetMinRx(bp *Profile, v uint32) error {
	if err := ValidateInterval(v); err != nil {
		return err
	}
	if bp.MinRx == v {
		return nil
	}
	bp.MinRx = v
	s.ProfileUpdate(bp)
	return nil
}

func (s *Server) ProfileSetMinEchoRx(bp *Profile, v uint32) error {
	if err := ValidateInterval(v); err != nil {
		return err
	}
	if bp.MinEchoRx == v {
		return nil
	}
	bp.MinEchoRx = v
	s.ProfileUpdate(bp)
	return nil
}

func (s *Server) ProfileSetShutdown(bp *Profile, v bool) {
	if bp.AdminShutdown == v {
		return
	}
	bp.AdminShutdown = v
	s.ProfileUpdate(bp)
}

func (s *Server) ProfileSetPassive(bp *Profile, v bool) {
	if bp.Passive == v {
		return
	}
	bp.Passive = v
	s.ProfileUpdate(bp)
}

func (s *Server) ProfileSetEchoMode(bp *Profile, v bool) {
	if bp.EchoMode == v {
		return
	}
	bp.EchoMode = v
	s.ProfileUpdate(bp)
}

func (s *Server) ProfileSetMinimumTTL(bp *Profile, v uint8) {
	if bp.MinimumTTL == v {
		return
	}
	bp.MinimumTTL = v
	s.ProfileUpdate(bp)
}

// ProfileUnsetMinimumTTL resets the minimum TTL to its multihop default.
func (s *Server) ProfileUnsetMinimumTTL(bp *Profile) {
	bp.MinimumTTL = DefaultMhopTTL
	s.ProfileUpdate(bp)
}
