package bfd

import (
	"errors"
	"fmt"
)

// Built-in session parameter defaults. Timing values are microseconds.
const (
	DefaultDetectMult uint8  = 3
	DefaultMinTx      uint32 = 300 * 1000
	DefaultMinRx      uint32 = 300 * 1000
	DefaultMinEchoRx  uint32 = 50 * 1000
	// DefaultMhopTTL is the minimum TTL accepted on multihop sessions when
	// none was configured.
	DefaultMhopTTL uint8 = 254
)

// Bounds accepted for the transmit, receive and echo-receive intervals,
// in microseconds.
const (
	IntervalMin uint32 = 10 * 1000
	IntervalMax uint32 = 60 * 1000 * 1000
)

var (
	ErrProfileExists = errors.New("profile already exists")
	ErrValueRange    = errors.New("value out of range")
)

// ValidateInterval checks a timing interval against the accepted bounds.
// The same bounds apply to transmit, receive and echo-receive intervals.
func ValidateInterval(v uint32) error {
	if v < IntervalMin || v > IntervalMax {
		return fmt.Errorf("%w: interval %d outside [%d, %d]", ErrValueRange, v, IntervalMin, IntervalMax)
	}
	return nil
}

// Profile is a named bundle of session parameters. Sessions reference
// profiles by name; the engine re-reads the profile whenever a session is
// re-evaluated, so profiles hold no back-pointers to sessions.
type Profile struct {
	Name string

	DetectionMultiplier uint8
	MinTx               uint32
	MinRx               uint32
	MinEchoRx           uint32
	AdminShutdown       bool
	Passive             bool
	EchoMode            bool
	MinimumTTL          uint8
}

func defaultProfile(name string) Profile {
	return Profile{
		Name:                name,
		DetectionMultiplier: DefaultDetectMult,
		MinTx:               DefaultMinTx,
		MinRx:               DefaultMinRx,
		MinEchoRx:           DefaultMinEchoRx,
		MinimumTTL:          DefaultMhopTTL,
	}
}

// ProfileRegistry holds the named profiles, unique process-wide.
type ProfileRegistry struct {
	profiles map[string]*Profile // key is profile name
}

func NewProfileRegistry() *ProfileRegistry {
	return &ProfileRegistry{profiles: make(map[string]*Profile)}
}

// New allocates a profile with built-in defaults.
func (r *ProfileRegistry) New(name string) (*Profile, error) {
	if _, ok := r.profiles[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileExists, name)
	}
	bp := new(Profile)
	*bp = defaultProfile(name)
	r.profiles[name] = bp
	return bp, nil
}

// Lookup returns the profile named name, nil if absent or name is empty.
func (r *ProfileRegistry) Lookup(name string) *Profile {
	if name == "" {
		return nil
	}
	return r.profiles[name]
}

func (r *ProfileRegistry) Delete(bp *Profile) {
	delete(r.profiles, bp.Name)
}

func (r *ProfileRegistry) Len() int {
	return len(r.profiles)
}

// Each calls fn for every registered profile.
func (r *ProfileRegistry) Each(fn func(*Profile)) {
	for _, bp := range r.profiles {
		fn(bp)
	}
}
