package bfd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRegistryNew(t *testing.T) {
	r := NewProfileRegistry()

	bp, err := r.New("lowlat")
	require.NoError(t, err)
	assert.Equal(t, "lowlat", bp.Name)
	assert.Equal(t, DefaultDetectMult, bp.DetectionMultiplier)
	assert.Equal(t, DefaultMinTx, bp.MinTx)
	assert.Equal(t, DefaultMinRx, bp.MinRx)
	assert.Equal(t, DefaultMinEchoRx, bp.MinEchoRx)
	assert.Equal(t, DefaultMhopTTL, bp.MinimumTTL)
	assert.False(t, bp.AdminShutdown)

	_, err = r.New("lowlat")
	require.ErrorIs(t, err, ErrProfileExists)
	assert.Equal(t, 1, r.Len())
}

func TestProfileRegistryLookupDelete(t *testing.T) {
	r := NewProfileRegistry()
	bp, err := r.New("lowlat")
	require.NoError(t, err)

	assert.Same(t, bp, r.Lookup("lowlat"))
	assert.Nil(t, r.Lookup(""))
	assert.Nil(t, r.Lookup("missing"))

	r.Delete(bp)
	assert.Nil(t, r.Lookup("lowlat"))
	assert.Equal(t, 0, r.Len())
}

func TestValidateInterval(t *testing.T) {
	require.NoError(t, ValidateInterval(IntervalMin))
	require.NoError(t, ValidateInterval(IntervalMax))
	require.ErrorIs(t, ValidateInterval(IntervalMin-1), ErrValueRange)
	require.ErrorIs(t, ValidateInterval(IntervalMax+1), ErrValueRange)
	require.ErrorIs(t, ValidateInterval(0), ErrValueRange)
}

func TestProfileSettersFireOneUpdate(t *testing.T) {
	s := NewServer()
	bp, err := s.ProfileNew("lowlat")
	require.NoError(t, err)

	base := s.Stats().ProfileUpdates
	require.NoError(t, s.ProfileSetMinTx(bp, 100*1000))
	assert.Equal(t, base+1, s.Stats().ProfileUpdates)

	// Same value again must not re-fire.
	require.NoError(t, s.ProfileSetMinTx(bp, 100*1000))
	assert.Equal(t, base+1, s.Stats().ProfileUpdates)

	require.NoError(t, s.ProfileSetMinRx(bp, 80*1000))
	require.NoError(t, s.ProfileSetMinEchoRx(bp, 60*1000))
	require.NoError(t, s.ProfileSetDetectMult(bp, 5))
	assert.Equal(t, base+4, s.Stats().ProfileUpdates)

	s.ProfileSetShutdown(bp, true)
	s.ProfileSetShutdown(bp, true)
	s.ProfileSetPassive(bp, true)
	s.ProfileSetEchoMode(bp, true)
	s.ProfileSetMinimumTTL(bp, 10)
	assert.Equal(t, base+8, s.Stats().ProfileUpdates)
}

func TestProfileSetterValidation(t *testing.T) {
	s := NewServer()
	bp, err := s.ProfileNew("lowlat")
	require.NoError(t, err)

	require.ErrorIs(t, s.ProfileSetDetectMult(bp, 0), ErrValueRange)
	require.ErrorIs(t, s.ProfileSetMinTx(bp, 5), ErrValueRange)
	require.ErrorIs(t, s.ProfileSetMinRx(bp, IntervalMax+1), ErrValueRange)
	require.ErrorIs(t, s.ProfileSetMinEchoRx(bp, 1), ErrValueRange)

	// Failed sets leave the profile untouched and fire no update.
	assert.Equal(t, DefaultDetectMult, bp.DetectionMultiplier)
	assert.Equal(t, DefaultMinTx, bp.MinTx)
	assert.Equal(t, uint64(0), s.Stats().ProfileUpdates)
}

func TestProfileUnsetMinimumTTL(t *testing.T) {
	s := NewServer()
	bp, err := s.ProfileNew("mhop")
	require.NoError(t, err)

	s.ProfileSetMinimumTTL(bp, 10)
	updates := s.Stats().ProfileUpdates

	s.ProfileUnsetMinimumTTL(bp)
	assert.Equal(t, DefaultMhopTTL, bp.MinimumTTL)
	assert.Equal(t, updates+1, s.Stats().ProfileUpdates)
}
