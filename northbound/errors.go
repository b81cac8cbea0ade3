package northbound

import "errors"

var (
	// ErrBadValue marks a leaf value that does not parse as its type.
	ErrBadValue = errors.New("malformed value")

	// ErrLinkLocalInterface rejects link-local peers configured without an
	// interface: there is no way to pick the link to send packets on.
	ErrLinkLocalInterface = errors.New("link-local peers require an interface")

	// ErrWildcardConflict rejects configuring the same peer both with and
	// without an interface name.
	ErrWildcardConflict = errors.New("peer configured both with and without an interface")

	// ErrDuplicateSession rejects two configuration entries that
	// canonicalize to the same session identity, e.g. an omitted vrf next
	// to an explicit "default", or two spellings of one IPv6 address.
	ErrDuplicateSession = errors.New("duplicate session entry for one peer")

	// ErrInconsistency marks a destroy of a session the daemon never had.
	ErrInconsistency = errors.New("no such session")

	// ErrResource marks an engine registration refusal during apply.
	ErrResource = errors.New("session registration failed")

	// ErrSourceAddrImmutable rejects in-place modification of a session's
	// source address. The address is part of the session identity; the
	// session has to be deleted and re-added.
	ErrSourceAddrImmutable = errors.New("source-addr cannot be changed in place")
)
