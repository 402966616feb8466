package addressindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
)

// watermarkKey is the diagnostic record of the last block height whose
// batch committed. Never consulted to decide whether to apply a batch.
var watermarkKey = []byte{nsWatermark, ':', 't', 'i', 'p'}

// tipHashKey records the hash of the block the watermark height belongs
// to, alongside watermarkKey — together they answer get_address_utxos's
// chainInfo {hash, height} shape without the store tracking a full chain.
var tipHashKey = []byte{nsWatermark, ':', 'h', 'a', 's', 'h'}

// quietLogger silences pebble's info logs, keeps errors. Grounded on the
// teacher's db.QuietLogger: info is noise, errors are not.
type quietLogger struct{ errf func(format string, args ...any) }

func (l quietLogger) Infof(format string, args ...interface{})  {}
func (l quietLogger) Errorf(format string, args ...interface{}) { l.errf(format, args...) }
func (l quietLogger) Fatalf(format string, args ...interface{}) { l.errf(format, args...) }

// QuietLogger returns a pebble.Logger that only surfaces errors, through
// errf (typically log.Printf with a "[pebble]" prefix).
func QuietLogger(errf func(format string, args ...any)) pebble.Logger {
	return quietLogger{errf: errf}
}

// Store is the address index's ordered key/value projection, backed by a
// single pebble.DB. Exactly one Store per process: reopening the database
// is an admin operation, not a hot path.
type Store struct {
	db *pebble.DB
	mu sync.RWMutex
}

// Open opens (or creates) the address index database at dir.
func Open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("addressindex: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BatchOp is one raw mutation against the store. Built by the block-delta
// applier (C4) from the key/value codecs (C2); the store itself never
// constructs index-specific keys.
type BatchOp struct {
	Erase bool
	Key   []byte
	Value []byte
}

// WriteOp returns a BatchOp that sets key to value.
func WriteOp(key, value []byte) BatchOp { return BatchOp{Key: key, Value: value} }

// EraseOp returns a BatchOp that deletes key.
func EraseOp(key []byte) BatchOp { return BatchOp{Erase: true, Key: key} }

// ApplyBatch commits ops atomically. On crash mid-commit pebble's WAL
// guarantees the store reverts to the pre-batch state. height, if >= 0, is
// recorded as the new watermark (purely diagnostic).
func (s *Store) ApplyBatch(ctx context.Context, ops []BatchOp, height int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		var err error
		if op.Erase {
			err = batch.Delete(op.Key, nil)
		} else {
			err = batch.Set(op.Key, op.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	if height >= 0 {
		heightBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(heightBuf, uint64(height))
		if err := batch.Set(watermarkKey, heightBuf, nil); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Watermark returns the height of the last block whose batch committed, or
// -1 if none has.
func (s *Store) Watermark() (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, closer, err := s.db.Get(watermarkKey)
	if err == pebble.ErrNotFound {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer closer.Close()

	if len(val) != 8 {
		return -1, nil
	}
	return int32(binary.BigEndian.Uint64(val)), nil
}

// TipHash returns the hash recorded alongside the current watermark, or
// ok == false if no block has ever been applied (the tipHashKey write is
// an ordinary op in the same batch as the watermark, see Connect/
// Disconnect in delta.go, so the two are always written together).
func (s *Store) TipHash() (hash [32]byte, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, closer, err := s.db.Get(tipHashKey)
	if err == pebble.ErrNotFound {
		return hash, false, nil
	}
	if err != nil {
		return hash, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer closer.Close()

	if len(val) != 32 {
		return hash, false, nil
	}
	copy(hash[:], val)
	return hash, true, nil
}

// UnspentEntry pairs a decoded UnspentKey with its value.
type UnspentEntry struct {
	Key   UnspentKey
	Value UnspentValue
}

// ReadUnspent prefix-iterates the 'u' namespace for (typ, hash), stopping on
// the first mismatching key. Output order is storage order.
func (s *Store) ReadUnspent(ctx context.Context, typ AddressType, hash [20]byte) ([]UnspentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := addressPrefix(nsUnspent, typ, hash)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer iter.Close()

	var out []UnspentEntry
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		key, err := DecodeUnspentKey(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		value, err := DecodeUnspentValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		out = append(out, UnspentEntry{Key: key, Value: value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return out, nil
}

// ActivityEntry pairs a decoded ActivityKey with its signed amount.
type ActivityEntry struct {
	Key    ActivityKey
	Amount int64
}

// ReadActivity prefix-iterates the 'a' namespace for (typ, hash). toHeight
// == 0 means unbounded; fromHeight, if > 0, positions the cursor at the
// first key whose height is >= fromHeight (honoring the original source's
// unused "start" parameter, see SPEC_FULL.md §9).
func (s *Store) ReadActivity(ctx context.Context, typ AddressType, hash [20]byte, fromHeight, toHeight uint32) ([]ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := addressPrefix(nsActivity, typ, hash)
	lower := prefix
	if fromHeight > 0 {
		lower = make([]byte, len(prefix)+4)
		copy(lower, prefix)
		binary.BigEndian.PutUint32(lower[len(prefix):], fromHeight)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer iter.Close()

	var out []ActivityEntry
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		key, err := DecodeActivityKey(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if toHeight > 0 && key.BlockHeight > toHeight {
			break
		}
		amount, err := DecodeActivityValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		out = append(out, ActivityEntry{Key: key, Amount: amount})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return out, nil
}
