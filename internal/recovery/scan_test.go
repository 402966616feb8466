package recovery

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/stibits-inc/bitcoin-abc/internal/addressindex"
	"github.com/stibits-inc/bitcoin-abc/internal/hdwallet"
)

// testXPub is BIP32 test vector 1's master extended public key, a fixed and
// widely published constant — not generated by this package.
const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

func openTestStore(t *testing.T) *addressindex.Store {
	t.Helper()
	store, err := addressindex.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("addressindex.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustXPub(t *testing.T) *hdwallet.XPub {
	t.Helper()
	xpub, err := hdwallet.ParseXPub(testXPub, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("ParseXPub: %v", err)
	}
	return xpub
}

// derivedHash returns the hash160 at index on the external/witness chain —
// the chain GapLimitLastUsedIndex and Recover's first combo both probe.
func derivedHash(t *testing.T, xpub *hdwallet.XPub, index uint32) [20]byte {
	t.Helper()
	addrs, err := xpub.Derive(index, 1, false, hdwallet.ModeWitness)
	if err != nil || len(addrs) != 1 {
		t.Fatalf("Derive(%d): addrs=%v err=%v", index, addrs, err)
	}
	return addrs[0].Hash160
}

func writeUnspent(t *testing.T, ctx context.Context, store *addressindex.Store, hash [20]byte, height int32) {
	t.Helper()
	err := store.ApplyBatch(ctx, []addressindex.BatchOp{
		addressindex.WriteOp(
			addressindex.EncodeUnspentKey(addressindex.UnspentKey{Type: addressindex.P2PKH, Hash: hash, TxID: addressindex.TxID{byte(height)}, OutputIndex: 0}),
			addressindex.EncodeUnspentValue(addressindex.UnspentValue{Satoshis: 1000, BlockHeight: height}),
		),
	}, height)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
}

func writeActivityOnly(t *testing.T, ctx context.Context, store *addressindex.Store, hash [20]byte, height uint32) {
	t.Helper()
	err := store.ApplyBatch(ctx, []addressindex.BatchOp{
		addressindex.WriteOp(
			addressindex.EncodeActivityKey(addressindex.ActivityKey{Type: addressindex.P2PKH, Hash: hash, BlockHeight: height, TxID: addressindex.TxID{byte(height)}}),
			addressindex.EncodeActivityValue(1),
		),
	}, int32(height))
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
}

func TestGapLimitLastUsedIndexEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	xpub := mustXPub(t)

	got, err := GapLimitLastUsedIndex(ctx, xpub, store)
	if err != nil {
		t.Fatalf("GapLimitLastUsedIndex: %v", err)
	}
	if got != -1 {
		t.Errorf("GapLimitLastUsedIndex() = %d, want -1 for an unused chain", got)
	}
}

func TestGapLimitLastUsedIndexFindsSecondBlock(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	xpub := mustXPub(t)

	// Index 0 keeps the first block in use so the walk reaches the second
	// block; both addresses carry activity records, which is what
	// LastUsedIndex probes.
	const usedIndex = 150
	writeActivityOnly(t, ctx, store, derivedHash(t, xpub, 0), 1)
	writeActivityOnly(t, ctx, store, derivedHash(t, xpub, usedIndex), 2)

	got, err := GapLimitLastUsedIndex(ctx, xpub, store)
	if err != nil {
		t.Fatalf("GapLimitLastUsedIndex: %v", err)
	}
	if got != usedIndex {
		t.Errorf("GapLimitLastUsedIndex() = %d, want %d", got, usedIndex)
	}
}

func TestRecoverFindsUTXOAcrossChains(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	xpub := mustXPub(t)

	const usedIndex = 5
	writeUnspent(t, ctx, store, derivedHash(t, xpub, usedIndex), 1)

	utxos, err := Recover(ctx, xpub, store)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(utxos) != 1 {
		t.Fatalf("Recover returned %d utxos, want 1", len(utxos))
	}
	if utxos[0].Satoshis != 1000 {
		t.Errorf("Recover utxo = %+v, want 1000 satoshis", utxos[0])
	}
}

func TestRecoverTxidsFindsActivityOnlyAddress(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	xpub := mustXPub(t)

	const usedIndex = 5
	writeActivityOnly(t, ctx, store, derivedHash(t, xpub, usedIndex), 10)

	txids, err := RecoverTxids(ctx, xpub, store)
	if err != nil {
		t.Fatalf("RecoverTxids: %v", err)
	}
	if len(txids) != 1 {
		t.Fatalf("RecoverTxids returned %d entries, want 1", len(txids))
	}
}

func TestGapLimitFirstUsedHeightFindsMinimum(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	xpub := mustXPub(t)

	writeActivityOnly(t, ctx, store, derivedHash(t, xpub, 1), 90)
	writeActivityOnly(t, ctx, store, derivedHash(t, xpub, 2), 30)

	height, ok, err := GapLimitFirstUsedHeight(ctx, xpub, store)
	if err != nil {
		t.Fatalf("GapLimitFirstUsedHeight: %v", err)
	}
	if !ok || height != 30 {
		t.Errorf("GapLimitFirstUsedHeight = (%d, %v), want (30, true)", height, ok)
	}
}

func TestGapLimitFirstUsedHeightUnused(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	xpub := mustXPub(t)

	_, ok, err := GapLimitFirstUsedHeight(ctx, xpub, store)
	if err != nil {
		t.Fatalf("GapLimitFirstUsedHeight: %v", err)
	}
	if ok {
		t.Error("GapLimitFirstUsedHeight ok = true for an entirely unused wallet")
	}
}
