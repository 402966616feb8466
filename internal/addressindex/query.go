package addressindex

import (
	"context"
	"sort"
)

// UTXO is one entry of the query-surface result for GetUTXOs.
type UTXO struct {
	TxID        TxID
	OutputIndex uint32
	Satoshis    int64
	Script      []byte
	BlockHeight int32
}

// GetUTXOs returns every live unspent output across all of addrs, sorted
// ascending by BlockHeight. Entries at equal height keep the order they were
// read in: addrs order, then storage order within each address.
func GetUTXOs(ctx context.Context, store *Store, addrs []AddressID) ([]UTXO, error) {
	var out []UTXO
	for _, addr := range addrs {
		entries, err := store.ReadUnspent(ctx, addr.Type, addr.Hash)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, UTXO{
				TxID:        e.Key.TxID,
				OutputIndex: e.Key.OutputIndex,
				Satoshis:    e.Value.Satoshis,
				Script:      e.Value.Script,
				BlockHeight: e.Value.BlockHeight,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlockHeight < out[j].BlockHeight
	})
	return out, nil
}

// HasAnyActivity reports whether any of addrs owns at least one activity
// record (credit or debit), without materializing the records themselves.
func HasAnyActivity(ctx context.Context, store *Store, addrs []AddressID) (bool, error) {
	for _, addr := range addrs {
		entries, err := store.ReadActivity(ctx, addr.Type, addr.Hash, 0, 0)
		if err != nil {
			return false, err
		}
		if len(entries) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// TxidEntry is one deduplicated (height, txid) pair returned by GetTxids.
type TxidEntry struct {
	BlockHeight uint32
	TxID        TxID
}

// GetTxids returns the set of distinct transactions touching any of addrs
// within [fromHeight, toHeight] (toHeight == 0 means unbounded), sorted by
// height then txid. A transaction with both a credit and a debit record for
// the same address collapses to one entry, mirroring the original's
// std::set<(height,txid)> dedup.
func GetTxids(ctx context.Context, store *Store, addrs []AddressID, fromHeight, toHeight uint32) ([]TxidEntry, error) {
	seen := make(map[TxidEntry]struct{})
	for _, addr := range addrs {
		entries, err := store.ReadActivity(ctx, addr.Type, addr.Hash, fromHeight, toHeight)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			seen[TxidEntry{BlockHeight: e.Key.BlockHeight, TxID: e.Key.TxID}] = struct{}{}
		}
	}

	out := make([]TxidEntry, 0, len(seen))
	for te := range seen {
		out = append(out, te)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockHeight != out[j].BlockHeight {
			return out[i].BlockHeight < out[j].BlockHeight
		}
		return lessTxID(out[i].TxID, out[j].TxID)
	})
	return out, nil
}

// LastUsedIndex scans every position of addrs and returns the highest
// position whose address has any activity, or -1 if none do. The caller
// supplies addrs in ascending derivation order, so that position is the
// offset of the last used address within the derived block.
func LastUsedIndex(ctx context.Context, store *Store, addrs []AddressID) (int, error) {
	last := -1
	for i, addr := range addrs {
		entries, err := store.ReadActivity(ctx, addr.Type, addr.Hash, 0, 0)
		if err != nil {
			return -1, err
		}
		if len(entries) > 0 {
			last = i
		}
	}
	return last, nil
}

// FirstUsedHeight returns the minimum BlockHeight across every activity
// record for any of addrs, or ok == false if none has ever been used. This
// has no direct analogue in the extracted original source (the backing
// GetFirstUsedBlock implementation was not present in it) — see
// SPEC_FULL.md §4.5 for the decided semantics.
func FirstUsedHeight(ctx context.Context, store *Store, addrs []AddressID) (height uint32, ok bool, err error) {
	found := false
	var min uint32
	for _, addr := range addrs {
		entries, err := store.ReadActivity(ctx, addr.Type, addr.Hash, 0, 0)
		if err != nil {
			return 0, false, err
		}
		for _, e := range entries {
			if !found || e.Key.BlockHeight < min {
				min = e.Key.BlockHeight
				found = true
			}
		}
	}
	return min, found, nil
}

func lessTxID(a, b TxID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
