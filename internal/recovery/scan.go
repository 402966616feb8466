// Package recovery implements gap-limit wallet recovery: walking an xpub's
// derivation space in fixed-size blocks until a run of unused addresses
// proves the wallet's tail has been reached.
package recovery

import (
	"context"

	"github.com/stibits-inc/bitcoin-abc/internal/addressindex"
	"github.com/stibits-inc/bitcoin-abc/internal/hdwallet"
	"github.com/stibits-inc/bitcoin-abc/internal/metrics"
)

// blockSize is the number of addresses derived per probe.
const blockSize = 100

// gapLimit is the number of consecutive unused addresses that must be seen
// before a derivation chain is considered exhausted.
const gapLimit = 100

// chainCombo is one (internal, mode) pair scanned by Recover/RecoverTxids,
// in the fixed order the source scans them: external-witness,
// external-legacy, internal-legacy, internal-witness.
type chainCombo struct {
	internal bool
	mode     hdwallet.DeriveMode
}

var recoveryOrder = []chainCombo{
	{internal: false, mode: hdwallet.ModeWitness},
	{internal: false, mode: hdwallet.ModeLegacy},
	{internal: true, mode: hdwallet.ModeLegacy},
	{internal: true, mode: hdwallet.ModeWitness},
}

func deriveBlock(xpub *hdwallet.XPub, from uint32, combo chainCombo) ([]hdwallet.Address, []addressindex.AddressID, error) {
	addrs, err := xpub.Derive(from, blockSize, combo.internal, combo.mode)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]addressindex.AddressID, len(addrs))
	for i, a := range addrs {
		ids[i] = addressindex.AddressID{Type: addressindex.P2PKH, Hash: a.Hash160}
	}
	metrics.RecoveryDerivedAddresses.Add(float64(len(addrs)))
	return addrs, ids, nil
}

// Recover walks all four derivation chains and returns every live UTXO
// found before each chain's gap limit is reached. Each outpoint is reported
// once: the legacy and witness modes derive the same addresses, so a later
// chain can find outpoints an earlier one already returned.
func Recover(ctx context.Context, xpub *hdwallet.XPub, store *addressindex.Store) ([]addressindex.UTXO, error) {
	type outpoint struct {
		txid  addressindex.TxID
		index uint32
	}
	var all []addressindex.UTXO
	seen := make(map[outpoint]struct{})

	for _, combo := range recoveryOrder {
		utxos, err := recoverCombo(ctx, xpub, store, combo)
		if err != nil {
			return nil, err
		}
		for _, u := range utxos {
			op := outpoint{txid: u.TxID, index: u.OutputIndex}
			if _, dup := seen[op]; dup {
				continue
			}
			seen[op] = struct{}{}
			all = append(all, u)
		}
	}
	return all, nil
}

func recoverCombo(ctx context.Context, xpub *hdwallet.XPub, store *addressindex.Store, combo chainCombo) ([]addressindex.UTXO, error) {
	var out []addressindex.UTXO

	last := uint32(0)
	notFound := 0

	for notFound < gapLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, ids, err := deriveBlock(xpub, last, combo)
		if err != nil {
			return nil, err
		}

		utxos, err := addressindex.GetUTXOs(ctx, store, ids)
		if err != nil {
			return nil, err
		}

		found := len(utxos) > 0
		if found {
			out = append(out, utxos...)
		} else {
			found, err = addressindex.HasAnyActivity(ctx, store, ids)
			if err != nil {
				return nil, err
			}
		}

		last += blockSize
		if found {
			notFound = 0
		} else {
			notFound += blockSize
		}
	}

	return out, nil
}

// RecoverTxids walks all four derivation chains and returns the distinct
// set of transaction ids touching any derived address, before each chain's
// gap limit is reached. As in Recover, a block with no UTXOs but with
// historical activity still counts as found.
func RecoverTxids(ctx context.Context, xpub *hdwallet.XPub, store *addressindex.Store) ([]addressindex.TxidEntry, error) {
	seen := make(map[addressindex.TxidEntry]struct{})

	for _, combo := range recoveryOrder {
		last := uint32(0)
		notFound := 0

		for notFound < gapLimit {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			_, ids, err := deriveBlock(xpub, last, combo)
			if err != nil {
				return nil, err
			}

			txids, err := addressindex.GetTxids(ctx, store, ids, 0, 0)
			if err != nil {
				return nil, err
			}

			for _, t := range txids {
				seen[t] = struct{}{}
			}

			last += blockSize
			if len(txids) > 0 {
				notFound = 0
			} else {
				notFound += blockSize
			}
		}
	}

	out := make([]addressindex.TxidEntry, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out, nil
}

// GapLimitLastUsedIndex returns the index of the last used address on the
// fixed external/witness chain, or -1 if none has ever been used. Grounded
// on the source's GetLastUsedExternalSegWitIndex, which exits on the first
// entirely-unused block and returns ret+1 — off by one whenever activity
// exists in an earlier block than the terminating one, and indistinguishable
// from "index 0 used" when the wallet has no activity at all. This
// reimplementation applies the same gap-limit accumulation as Recover
// instead, fixing both: it returns the true highest used index, or -1 for
// an entirely unused wallet (see SPEC_FULL.md §8 S1).
func GapLimitLastUsedIndex(ctx context.Context, xpub *hdwallet.XPub, store *addressindex.Store) (int, error) {
	combo := chainCombo{internal: false, mode: hdwallet.ModeWitness}

	ret := -1
	last := uint32(0)
	notFound := 0

	for notFound < gapLimit {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		_, ids, err := deriveBlock(xpub, last, combo)
		if err != nil {
			return 0, err
		}

		r, err := addressindex.LastUsedIndex(ctx, store, ids)
		if err != nil {
			return 0, err
		}
		if r >= 0 {
			ret = int(last) + r
			notFound = 0
		} else {
			notFound += blockSize
		}

		last += blockSize
	}

	return ret, nil
}

// GapLimitFirstUsedHeight scans all four derivation chains and returns the
// minimum activity height across every address that is ever used, or
// ok == false if no chain has any activity. Supplements the source's
// forward-declared but undefined GetFirstUsedBlock, see SPEC_FULL.md §4.7.
func GapLimitFirstUsedHeight(ctx context.Context, xpub *hdwallet.XPub, store *addressindex.Store) (height uint32, ok bool, err error) {
	found := false
	var min uint32

	for _, combo := range recoveryOrder {
		last := uint32(0)
		notFound := 0

		for notFound < gapLimit {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}

			_, ids, err := deriveBlock(xpub, last, combo)
			if err != nil {
				return 0, false, err
			}

			blockHeight, blockOK, err := addressindex.FirstUsedHeight(ctx, store, ids)
			if err != nil {
				return 0, false, err
			}
			if blockOK && (!found || blockHeight < min) {
				min = blockHeight
				found = true
			}

			used, err := addressindex.HasAnyActivity(ctx, store, ids)
			if err != nil {
				return 0, false, err
			}

			last += blockSize
			if used {
				notFound = 0
			} else {
				notFound += blockSize
			}
		}
	}

	return min, found, nil
}
