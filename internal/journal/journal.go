// Package journal persists completed rounds to an embedded pebble store
// and keeps a chained blake3 fingerprint of the run, so two runs with the
// same seed can be compared by a single hash.
package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/zeebo/blake3"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/sim"
)

var ErrRoundNotFound = errors.New("round_not_found")

var (
	roundPrefix = []byte("round/")
	tradePrefix = []byte("trade/")
	metaFinger  = []byte("meta/fingerprint")
	metaLatest  = []byte("meta/latest_round")
)

// Options configures a Store.
type Options struct {
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS
	// Sync makes every round durable before ObserveRound returns.
	Sync   bool
	Logger *slog.Logger
}

// Store is the round journal.
type Store struct {
	db     *pebble.DB
	write  *pebble.WriteOptions
	logger *slog.Logger

	mu   sync.Mutex
	last []byte // fingerprint after the last journaled round
}

// Open opens or creates a journal in dir.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dir, err)
	}
	write := pebble.NoSync
	if opts.Sync {
		write = pebble.Sync
	}
	s := &Store{db: db, write: write, logger: logger}
	if val, closer, err := db.Get(metaFinger); err == nil {
		s.last = append([]byte(nil), val...)
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		db.Close()
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}
	return s, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

func roundKey(round int) []byte {
	return []byte(fmt.Sprintf("%s%010d", roundPrefix, round))
}

// tradeKey orders trades by instrument, round and execution sequence.
func tradeKey(t *domain.Trade, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d/%06d", tradePrefix, t.Instrument, t.Round, seq))
}

// chain hashes the previous fingerprint with the next round.
func chain(prev, round []byte) []byte {
	h := blake3.New()
	_, _ = h.Write(prev)
	_, _ = h.Write(round)
	return h.Sum(nil)
}

// ObserveRound writes the round, its trades and the updated fingerprint in
// one batch.
func (s *Store) ObserveRound(_ context.Context, r *sim.RoundResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode round %d: %w", r.Round, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sum := chain(s.last, raw)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(roundKey(r.Round), raw, nil); err != nil {
		return err
	}
	for i, t := range r.Trades() {
		tr, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode trade %s: %w", t.TradeID, err)
		}
		if err := b.Set(tradeKey(t, i), tr, nil); err != nil {
			return err
		}
	}
	if err := b.Set(metaFinger, sum, nil); err != nil {
		return err
	}
	if err := b.Set(metaLatest, []byte(fmt.Sprintf("%d", r.Round)), nil); err != nil {
		return err
	}
	if err := b.Commit(s.write); err != nil {
		return fmt.Errorf("commit round %d: %w", r.Round, err)
	}
	s.last = sum

	s.logger.Debug("round journaled",
		slog.Int("round", r.Round),
		slog.Int("bytes", len(raw)),
	)
	return nil
}

// Round reads back a journaled round.
func (s *Store) Round(round int) (*sim.RoundResult, error) {
	val, closer, err := s.db.Get(roundKey(round))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var r sim.RoundResult
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("decode round %d: %w", round, err)
	}
	return &r, nil
}

// LatestRound returns the highest journaled round, or 0 if none.
func (s *Store) LatestRound() (int, error) {
	val, closer, err := s.db.Get(metaLatest)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	var round int
	if _, err := fmt.Sscanf(string(val), "%d", &round); err != nil {
		return 0, fmt.Errorf("decode latest round: %w", err)
	}
	return round, nil
}

// Trades returns the journaled trades of instrument in round order.
func (s *Store) Trades(instrument string) ([]*domain.Trade, error) {
	prefix := []byte(fmt.Sprintf("%s%s/", tradePrefix, instrument))
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*domain.Trade
	for iter.First(); iter.Valid(); iter.Next() {
		var t domain.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode trade %s: %w", iter.Key(), err)
		}
		out = append(out, &t)
	}
	return out, iter.Error()
}

// Fingerprint is the hex encoded blake3 chain over every round written so
// far, in order. It is empty before the first round.
func (s *Store) Fingerprint() (string, error) {
	val, closer, err := s.db.Get(metaFinger)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return hex.EncodeToString(val), nil
}
