package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/polyswing/internal/strategy"
)

func TestStateEnforcesCaps(t *testing.T) {
	s := NewState(100, 2)

	require.NoError(t, s.Add(&Position{Asset: "BTC", Stake: 5, Status: StatusOpen}))
	require.NoError(t, s.Add(&Position{Asset: "ETH", Stake: 5, Status: StatusOpen}))

	// One position per asset.
	err := s.Add(&Position{Asset: "BTC", Stake: 5})
	assert.ErrorContains(t, err, "already open")

	// Max two total.
	err = s.Add(&Position{Asset: "SOL", Stake: 5})
	assert.ErrorContains(t, err, "max open positions")

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, 10.0, s.Exposure())
}

func TestStateRemoveAndReadd(t *testing.T) {
	s := NewState(100, 2)
	require.NoError(t, s.Add(&Position{Asset: "BTC", Status: StatusOpen}))

	s.Remove("BTC")
	assert.False(t, s.Has("BTC"))
	assert.NoError(t, s.Add(&Position{Asset: "BTC", Status: StatusOpen}))
}

func TestStateOpenIsDeterministic(t *testing.T) {
	s := NewState(100, 2)
	require.NoError(t, s.Add(&Position{Asset: "ETH"}))
	require.NoError(t, s.Add(&Position{Asset: "BTC"}))

	open := s.Open()
	require.Len(t, open, 2)
	assert.Equal(t, "BTC", open[0].Asset)
	assert.Equal(t, "ETH", open[1].Asset)
}

func TestPositionStatusOnlyMovesForward(t *testing.T) {
	p := &Position{MarketID: "m1", Status: StatusPending}

	require.NoError(t, p.Advance(StatusOpen))
	require.NoError(t, p.Advance(StatusTPHit))
	require.NoError(t, p.Advance(StatusSettled))

	assert.Error(t, p.Advance(StatusOpen), "settled positions cannot reopen")
	assert.Error(t, p.Advance(StatusSettled), "no self transition")
}

func TestPositionStatusMaySkipTPHit(t *testing.T) {
	p := &Position{MarketID: "m1", Status: StatusOpen}
	assert.NoError(t, p.Advance(StatusSettled), "unresolved positions settle directly")
}

func TestPositionUnrealizedReturn(t *testing.T) {
	p := &Position{EntryPrice: 0.50}
	assert.InDelta(t, 0.30, p.UnrealizedReturn(0.65), 1e-9)
	assert.InDelta(t, -0.20, p.UnrealizedReturn(0.40), 1e-9)
}

func TestPositionStopBroken(t *testing.T) {
	up := &Position{Direction: strategy.Up, SupportLevel: 50_000}
	assert.True(t, up.StopBroken(49_900))
	assert.False(t, up.StopBroken(50_100))

	down := &Position{Direction: strategy.Down, ResistanceLevel: 51_000}
	assert.True(t, down.StopBroken(51_100))
	assert.False(t, down.StopBroken(50_900))

	// Unset levels never trigger.
	bare := &Position{Direction: strategy.Up}
	assert.False(t, bare.StopBroken(1))
}

func TestStateBalanceSyncAndCredit(t *testing.T) {
	s := NewState(100, 2)
	s.Credit(12.5)
	assert.Equal(t, 112.5, s.Balance)

	s.SyncBalance(96)
	assert.Equal(t, 96.0, s.Balance)
	assert.Equal(t, 100.0, s.InitialCapital, "initial capital is fixed")
}
