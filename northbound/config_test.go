package northbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-po/frr/bfd"
)

// Test fixture driving transactions against a document tree the way the
// gNMI host does: create entries, set leaves, stage the changes, commit.
type fixture struct {
	t    *testing.T
	bs   *bfd.Server
	nb   *Northbound
	tree *Node
	txn  *Transaction
}

func newFixture(t *testing.T, opts ...bfd.ServerOption) *fixture {
	bs := bfd.NewServer(opts...)
	return &fixture{
		t:    t,
		bs:   bs,
		nb:   New(bs),
		tree: NewTree(),
	}
}

func (f *fixture) begin() {
	f.txn = f.nb.NewTransaction()
}

// set ensures the path, stages creates for new steps and a modify for each
// leaf, mirroring how the host translates one update.
func (f *fixture) set(elems []Elem, leaves [][2]string) *Node {
	n, created := f.tree.Ensure(elems)
	for _, c := range created {
		f.txn.Add(OpCreate, c)
	}
	for _, kv := range leaves {
		leaf, made := n.Ensure([]Elem{{Name: kv[0]}})
		for _, c := range made {
			f.txn.Add(OpCreate, c)
		}
		leaf.Value = kv[1]
		f.txn.Add(OpModify, leaf)
	}
	return n
}

// del stages destroys bottom-up and detaches the subtree, mirroring how
// the host translates one delete.
func (f *fixture) del(elems []Elem) {
	n := f.tree.Find(elems)
	require.NotNil(f.t, n, "delete target must exist")
	n.WalkBottomUp(func(c *Node) { f.txn.Add(OpDestroy, c) })
	n.Detach()
}

func (f *fixture) commit() error {
	return f.txn.Commit()
}

func (f *fixture) mustCommit() {
	require.NoError(f.t, f.txn.Commit())
}

func profileElems(name string) []Elem {
	return []Elem{
		{Name: "bfd"},
		{Name: "profile", Keys: map[string]string{"name": name}},
	}
}

func singleHopElems(dest, iface, vrf string) []Elem {
	return []Elem{
		{Name: "bfd"},
		{Name: "sessions"},
		{Name: "single-hop", Keys: map[string]string{"dest-addr": dest, "interface": iface, "vrf": vrf}},
	}
}

func multiHopElems(source, dest, vrf string) []Elem {
	return []Elem{
		{Name: "bfd"},
		{Name: "sessions"},
		{Name: "multi-hop", Keys: map[string]string{"source-addr": source, "dest-addr": dest, "vrf": vrf}},
	}
}

func (f *fixture) session(peer, local string, mhop bool, ifname, vrf string) *bfd.Session {
	f.t.Helper()
	key, err := bfd.ParseSessionKey(peer, local, mhop, ifname, vrf)
	require.NoError(f.t, err)
	return f.bs.Sessions().Lookup(key)
}

func TestSingleHopCreateWithParameters(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{
		{"desired-transmission-interval", "100000"},
		{"detection-multiplier", "5"},
	})
	f.mustCommit()

	bs := f.session("192.0.2.1", "", false, "*", "default")
	require.NotNil(t, bs)
	assert.NotZero(t, bs.Discrs.MyDiscr, "session was registered")
	assert.Equal(t, 1, bs.RefCount)
	assert.True(t, bs.Flags.Has(bfd.FlagConfigured))
	assert.False(t, bs.Flags.Has(bfd.FlagMultihop))

	assert.Equal(t, uint32(100000), bs.Timers.DesiredMinTx)
	assert.Equal(t, bfd.DefaultMinRx, bs.Timers.RequiredMinRx)
	assert.Equal(t, uint8(5), bs.Timers.DetectMult)
}

func TestMultiHopCreate(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(multiHopElems("192.0.2.10", "192.0.2.1", "default"), nil)
	f.mustCommit()

	bs := f.session("192.0.2.1", "192.0.2.10", true, "*", "default")
	require.NotNil(t, bs)
	assert.True(t, bs.Flags.Has(bfd.FlagMultihop))
	assert.Equal(t, bfd.DefaultMhopTTL, bs.Timers.MinimumTTL)
}

func TestSessionDestroyFreesSession(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.mustCommit()
	require.Equal(t, 1, f.bs.Sessions().Len())

	f.begin()
	f.del(singleHopElems("192.0.2.1", "*", "default"))
	f.mustCommit()

	assert.Equal(t, 0, f.bs.Sessions().Len())
	assert.Equal(t, uint64(1), f.bs.Stats().SessionsFreed)
}

func TestSessionDestroyUnknownRejected(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.mustCommit()

	// Hand-build a destroy for a session that was never configured.
	f.begin()
	entry, _ := f.tree.Ensure(singleHopElems("192.0.2.99", "*", "default"))
	entry.WalkBottomUp(func(c *Node) { f.txn.Add(OpDestroy, c) })
	entry.Detach()

	require.ErrorIs(t, f.commit(), ErrInconsistency)
	assert.Equal(t, 1, f.bs.Sessions().Len(), "the existing session is untouched")
}

func TestLinkLocalPeerRequiresInterface(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("fe80::1", "*", "default"), nil)
	require.ErrorIs(t, f.commit(), ErrLinkLocalInterface)
	assert.Equal(t, 0, f.bs.Sessions().Len())

	// The same peer with an interface is accepted.
	f = newFixture(t)
	f.begin()
	f.set(singleHopElems("fe80::1", "eth0", "default"), nil)
	f.mustCommit()
	require.NotNil(t, f.session("fe80::1", "", false, "eth0", "default"))
}

func TestWildcardInterfaceConflictRejected(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "eth0", "default"), nil)
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)

	require.ErrorIs(t, f.commit(), ErrWildcardConflict)
	assert.Equal(t, 0, f.bs.Sessions().Len(), "validation failed before any side effect")
	assert.Equal(t, uint64(0), f.bs.Stats().Registrations)
}

func TestAliasedEntriesOnePeerRejected(t *testing.T) {
	// An omitted vrf key and an explicit "default" are two distinct tree
	// entries collapsing onto one canonical key.
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.set([]Elem{
		{Name: "bfd"},
		{Name: "sessions"},
		{Name: "single-hop", Keys: map[string]string{"dest-addr": "192.0.2.1", "interface": "*"}},
	}, nil)

	require.ErrorIs(t, f.commit(), ErrDuplicateSession)
	assert.Equal(t, 0, f.bs.Sessions().Len())
	assert.Equal(t, uint64(0), f.bs.Stats().Registrations)
}

func TestAliasedIPv6SpellingsRejected(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("2001:db8::1", "*", "default"), nil)
	f.set(singleHopElems("2001:db8:0:0:0:0:0:1", "*", "default"), nil)

	require.ErrorIs(t, f.commit(), ErrDuplicateSession)
	assert.Equal(t, 0, f.bs.Sessions().Len())
}

func TestAliasOfCommittedEntryRejected(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.mustCommit()

	bs := f.session("192.0.2.1", "", false, "*", "default")
	require.NotNil(t, bs)

	// The alias would otherwise adopt the session and double-count the
	// configuration layer's reference.
	f.begin()
	f.set([]Elem{
		{Name: "bfd"},
		{Name: "sessions"},
		{Name: "single-hop", Keys: map[string]string{"dest-addr": "192.0.2.1", "interface": "*"}},
	}, nil)
	require.ErrorIs(t, f.commit(), ErrDuplicateSession)

	assert.Equal(t, 1, bs.RefCount)
	assert.Equal(t, 1, f.bs.Sessions().Len())
}

func TestDistinctInterfacesSamePeerAccepted(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "eth0", "default"), nil)
	f.set(singleHopElems("192.0.2.1", "eth1", "default"), nil)
	f.mustCommit()

	assert.Equal(t, 2, f.bs.Sessions().Len())
}

func TestSessionAdoption(t *testing.T) {
	f := newFixture(t)

	// Another daemon discovered the peer first.
	key, err := bfd.ParseSessionKey("192.0.2.1", "", false, "*", "default")
	require.NoError(t, err)
	adopted := bfd.NewSession(key)
	adopted.RefCount = 1
	require.NoError(t, f.bs.Register(adopted))
	discr := adopted.Discrs.MyDiscr

	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.mustCommit()

	assert.Equal(t, 1, f.bs.Sessions().Len(), "no second session for the same peer")
	assert.Equal(t, 2, adopted.RefCount)
	assert.True(t, adopted.Flags.Has(bfd.FlagConfigured))
	assert.Equal(t, discr, adopted.Discrs.MyDiscr, "adoption does not re-register")

	// Removing the configuration releases only our reference.
	f.begin()
	f.del(singleHopElems("192.0.2.1", "*", "default"))
	f.mustCommit()

	require.Same(t, adopted, f.bs.Sessions().Lookup(key), "the discovering daemon still owns it")
	assert.Equal(t, 1, adopted.RefCount)
	assert.False(t, adopted.Flags.Has(bfd.FlagConfigured))
}

func TestProfileLifecycleAndPrecedence(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(profileElems("lowlat"), [][2]string{
		{"required-receive-interval", "50000"},
		{"detection-multiplier", "4"},
	})
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{
		{"profile", "lowlat"},
		{"desired-transmission-interval", "200000"},
	})
	f.mustCommit()

	bs := f.session("192.0.2.1", "", false, "*", "default")
	require.NotNil(t, bs)
	assert.Equal(t, "lowlat", bs.ProfileName)
	assert.Equal(t, uint32(200000), bs.Timers.DesiredMinTx, "explicit session value wins")
	assert.Equal(t, uint32(50000), bs.Timers.RequiredMinRx, "profile fills unset values")
	assert.Equal(t, uint8(4), bs.Timers.DetectMult)
	assert.Equal(t, bfd.DefaultMinEchoRx, bs.Timers.RequiredMinEcho, "defaults fill the rest")

	// Unbinding the profile reverts its contribution.
	f.begin()
	f.del(append(singleHopElems("192.0.2.1", "*", "default"), Elem{Name: "profile"}))
	f.mustCommit()

	assert.Empty(t, bs.ProfileName)
	assert.Equal(t, uint32(200000), bs.Timers.DesiredMinTx, "explicit value survives")
	assert.Equal(t, bfd.DefaultMinRx, bs.Timers.RequiredMinRx)
	assert.Equal(t, bfd.DefaultDetectMult, bs.Timers.DetectMult)
}

func TestProfileUpdatePropagatesOnce(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(profileElems("lowlat"), nil)
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{{"profile", "lowlat"}})
	f.set(singleHopElems("192.0.2.2", "*", "default"), [][2]string{{"profile", "lowlat"}})
	f.set(singleHopElems("192.0.2.3", "*", "default"), nil)
	f.mustCommit()

	updates := f.bs.Stats().ProfileUpdates

	f.begin()
	f.set(profileElems("lowlat"), [][2]string{{"required-receive-interval", "100000"}})
	f.mustCommit()

	assert.Equal(t, updates+1, f.bs.Stats().ProfileUpdates, "one mutation, one update")

	one := f.session("192.0.2.1", "", false, "*", "default")
	two := f.session("192.0.2.2", "", false, "*", "default")
	three := f.session("192.0.2.3", "", false, "*", "default")
	assert.Equal(t, uint32(100000), one.Timers.RequiredMinRx)
	assert.Equal(t, uint32(100000), two.Timers.RequiredMinRx)
	assert.Equal(t, bfd.DefaultMinRx, three.Timers.RequiredMinRx, "unbound session untouched")
}

func TestProfileDestroyRevertsBoundSessions(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(profileElems("lowlat"), [][2]string{{"desired-transmission-interval", "50000"}})
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{{"profile", "lowlat"}})
	f.mustCommit()

	bs := f.session("192.0.2.1", "", false, "*", "default")
	require.Equal(t, uint32(50000), bs.Timers.DesiredMinTx)

	f.begin()
	f.del(profileElems("lowlat"))
	f.mustCommit()

	assert.Equal(t, 0, f.bs.Profiles().Len())
	assert.Equal(t, "lowlat", bs.ProfileName, "binding by name survives the profile")
	assert.Equal(t, bfd.DefaultMinTx, bs.Timers.DesiredMinTx, "session falls back to defaults")
}

func TestDuplicateProfileRejected(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(profileElems("lowlat"), nil)
	f.mustCommit()

	// A second create for the same name, as a host replaying state would
	// never produce, is refused by the engine.
	f.begin()
	entry := f.tree.Find(profileElems("lowlat"))
	f.txn.Add(OpCreate, entry)
	require.ErrorIs(t, f.commit(), bfd.ErrProfileExists)
}

func TestIntervalValidation(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{
		{"desired-transmission-interval", "5"}, // below the accepted floor
	})

	require.ErrorIs(t, f.commit(), bfd.ErrValueRange)
	assert.Equal(t, 0, f.bs.Sessions().Len(), "validation failure leaves no session behind")
}

func TestMalformedValueRejected(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{
		{"detection-multiplier", "lots"},
	})

	require.ErrorIs(t, f.commit(), ErrBadValue)
	assert.Equal(t, 0, f.bs.Sessions().Len())
}

func TestRecommitUnchangedDocumentIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(profileElems("lowlat"), [][2]string{{"required-receive-interval", "50000"}})
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{
		{"profile", "lowlat"},
		{"desired-transmission-interval", "100000"},
		{"administrative-down", "false"},
	})
	f.mustCommit()

	applies := f.bs.Stats().SessionApplies
	updates := f.bs.Stats().ProfileUpdates

	// Re-sending the identical configuration stages only modifies.
	f.begin()
	f.set(profileElems("lowlat"), [][2]string{{"required-receive-interval", "50000"}})
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{
		{"profile", "lowlat"},
		{"desired-transmission-interval", "100000"},
		{"administrative-down", "false"},
	})
	f.mustCommit()

	assert.Equal(t, applies, f.bs.Stats().SessionApplies, "no engine churn on a no-op commit")
	assert.Equal(t, updates, f.bs.Stats().ProfileUpdates)
}

func TestAdministrativeShutdown(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.mustCommit()

	bs := f.session("192.0.2.1", "", false, "*", "default")
	require.Equal(t, bfd.StateDown, bs.State)

	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{{"administrative-down", "true"}})
	f.mustCommit()
	assert.Equal(t, bfd.StateAdminDown, bs.State)

	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), [][2]string{{"administrative-down", "false"}})
	f.mustCommit()
	assert.Equal(t, bfd.StateDown, bs.State)
}

func TestSourceAddrImmutable(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "eth0", "default"), [][2]string{{"source-addr", "192.0.2.10"}})
	f.mustCommit()

	bs := f.session("192.0.2.1", "192.0.2.10", false, "eth0", "default")
	require.NotNil(t, bs)

	// Re-setting the same value is accepted.
	f.begin()
	f.set(singleHopElems("192.0.2.1", "eth0", "default"), [][2]string{{"source-addr", "192.0.2.10"}})
	f.mustCommit()

	// Changing it in place is not.
	f.begin()
	f.set(singleHopElems("192.0.2.1", "eth0", "default"), [][2]string{{"source-addr", "192.0.2.20"}})
	require.ErrorIs(t, f.commit(), ErrSourceAddrImmutable)

	// Neither is deleting the leaf on its own.
	f.tree.Find(append(singleHopElems("192.0.2.1", "eth0", "default"), Elem{Name: "source-addr"})).Value = "192.0.2.10"
	f.begin()
	f.del(append(singleHopElems("192.0.2.1", "eth0", "default"), Elem{Name: "source-addr"}))
	require.ErrorIs(t, f.commit(), ErrSourceAddrImmutable)
}

func TestSourceAddrDeleteWithWholeSession(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "eth0", "default"), [][2]string{{"source-addr", "192.0.2.10"}})
	f.mustCommit()

	f.begin()
	f.del(singleHopElems("192.0.2.1", "eth0", "default"))
	f.mustCommit()

	assert.Equal(t, 0, f.bs.Sessions().Len())
}

func TestMultiHopMinimumTTL(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(multiHopElems("192.0.2.10", "192.0.2.1", "default"), [][2]string{{"minimum-ttl", "10"}})
	f.mustCommit()

	bs := f.session("192.0.2.1", "192.0.2.10", true, "*", "default")
	require.Equal(t, uint8(10), bs.Timers.MinimumTTL)

	// Deleting the leaf resets the multihop default.
	f.begin()
	f.del(append(multiHopElems("192.0.2.10", "192.0.2.1", "default"), Elem{Name: "minimum-ttl"}))
	f.mustCommit()
	assert.Equal(t, bfd.DefaultMhopTTL, bs.Timers.MinimumTTL)
}

func TestApplyFailureAbortsWholeTransaction(t *testing.T) {
	f := newFixture(t, bfd.WithSessionLimit(1))
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.set(singleHopElems("192.0.2.2", "*", "default"), nil)

	err := f.commit()
	require.ErrorIs(t, err, ErrResource)
	require.ErrorIs(t, err, bfd.ErrSessionLimit)

	assert.Equal(t, 0, f.bs.Sessions().Len(), "the session applied before the failure was rolled back")
}

func TestApplyFailureRollsBackAdoption(t *testing.T) {
	f := newFixture(t, bfd.WithSessionLimit(1))

	key, err := bfd.ParseSessionKey("192.0.2.1", "", false, "*", "default")
	require.NoError(t, err)
	adopted := bfd.NewSession(key)
	adopted.RefCount = 1
	require.NoError(t, f.bs.Register(adopted))

	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil) // adopts
	f.set(singleHopElems("192.0.2.2", "*", "default"), nil) // hits the limit
	require.ErrorIs(t, f.commit(), ErrResource)

	require.Same(t, adopted, f.bs.Sessions().Lookup(key))
	assert.Equal(t, 1, adopted.RefCount, "the adopted reference was handed back")
	assert.False(t, adopted.Flags.Has(bfd.FlagConfigured))
}

func TestBfdContainerDestroyReleasesAllSessions(t *testing.T) {
	f := newFixture(t)
	f.begin()
	f.set(singleHopElems("192.0.2.1", "*", "default"), nil)
	f.set(multiHopElems("192.0.2.10", "192.0.2.2", "default"), nil)
	f.mustCommit()
	require.Equal(t, 2, f.bs.Sessions().Len())

	// A co-owned session survives the sweep.
	key, err := bfd.ParseSessionKey("192.0.2.3", "", false, "*", "default")
	require.NoError(t, err)
	shared := bfd.NewSession(key)
	shared.RefCount = 1
	require.NoError(t, f.bs.Register(shared))

	f.begin()
	f.del([]Elem{{Name: "bfd"}})
	f.mustCommit()

	assert.Equal(t, 1, f.bs.Sessions().Len())
	assert.Same(t, shared, f.bs.Sessions().Lookup(key))
}
