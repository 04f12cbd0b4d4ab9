package journal

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/sim"
)

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open("journal", Options{FS: fs, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return s
}

func round(n int, prices ...int64) *sim.RoundResult {
	at := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute)
	res := &engine.RoundResult{Round: n, Instrument: "ACME"}
	for i, p := range prices {
		res.Trades = append(res.Trades, &domain.Trade{
			TradeID:    string(rune('a'+i)) + "-trade",
			Instrument: "ACME",
			BuyerID:    "b",
			SellerID:   "s",
			Price:      p,
			Quantity:   int64(i + 1),
			Round:      n,
			ExecutedAt: at,
		})
	}
	return &sim.RoundResult{
		Round:           n,
		Instruments:     []*engine.RoundResult{res},
		ReferencePrices: map[string]int64{"ACME": 5000},
	}
}

func TestObserveRound_RoundTrip(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ObserveRound(ctx, round(1, 5000, 5010)))
	require.NoError(t, s.ObserveRound(ctx, round(2, 4990)))

	got, err := s.Round(1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Round)
	require.Len(t, got.Trades(), 2)
	assert.Equal(t, int64(5010), got.Trades()[1].Price)
	assert.Equal(t, int64(5000), got.ReferencePrices["ACME"])

	latest, err := s.LatestRound()
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	trades, err := s.Trades("ACME")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, []int64{5000, 5010, 4990}, []int64{trades[0].Price, trades[1].Price, trades[2].Price})

	none, err := s.Trades("BOLT")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRound_NotFound(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	_, err := s.Round(9)
	assert.ErrorIs(t, err, ErrRoundNotFound)

	latest, err := s.LatestRound()
	require.NoError(t, err)
	assert.Zero(t, latest)

	fp, err := s.Fingerprint()
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestFingerprint_DependsOnContentAndOrder(t *testing.T) {
	ctx := context.Background()
	write := func(rounds ...*sim.RoundResult) string {
		s := openMem(t, vfs.NewMem())
		defer s.Close()
		for _, r := range rounds {
			require.NoError(t, s.ObserveRound(ctx, r))
		}
		fp, err := s.Fingerprint()
		require.NoError(t, err)
		return fp
	}

	a := write(round(1, 5000), round(2, 5010))
	b := write(round(1, 5000), round(2, 5010))
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, write(round(1, 5000), round(2, 5011)))
	assert.NotEqual(t, a, write(round(2, 5010), round(1, 5000)))
}

func TestFingerprint_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s := openMem(t, fs)
	require.NoError(t, s.ObserveRound(ctx, round(1, 5000)))
	require.NoError(t, s.Close())

	s = openMem(t, fs)
	require.NoError(t, s.ObserveRound(ctx, round(2, 5010)))
	resumed, err := s.Fingerprint()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	once := openMem(t, vfs.NewMem())
	defer once.Close()
	require.NoError(t, once.ObserveRound(ctx, round(1, 5000)))
	require.NoError(t, once.ObserveRound(ctx, round(2, 5010)))
	straight, err := once.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, straight, resumed)
}
