package addressindex

import (
	"context"
	"fmt"

	"github.com/stibits-inc/bitcoin-abc/internal/metrics"
)

// Connect applies block at height/blockHash to the store: every recognized
// output becomes a credit activity record plus a live unspent entry, and
// every recognized spent input becomes a debit activity record with the
// matching unspent entry erased. coinView resolves spent outputs; the
// source's coinbase special-case (coinbase has no inputs) is handled by Tx
// carrying an empty Inputs slice for it.
//
// Iteration order here is transaction order, forward. The original walks
// both vout and vin in reverse; that only matters for the order unspent
// entries are presented back to legacy wallet selection logic, which has no
// equivalent in this index (ReadUnspent callers sort or rank themselves),
// so the simpler forward order is kept.
func Connect(ctx context.Context, store *Store, tip TipDescriptor, block Block, coinView CoinView) error {
	var ops []BatchOp

	for txIndex, tx := range block.Transactions {
		for outIndex, out := range tx.Outputs {
			typ, hash, ok := Recognize(out.Script)
			if !ok {
				continue
			}

			ops = append(ops, WriteOp(
				EncodeActivityKey(ActivityKey{
					Type:           typ,
					Hash:           hash,
					BlockHeight:    uint32(tip.Height),
					TxIndexInBlock: uint32(txIndex),
					TxID:           tx.TxID,
					IOIndex:        uint32(outIndex),
					Spending:       false,
				}),
				EncodeActivityValue(out.Value),
			))
			ops = append(ops, WriteOp(
				EncodeUnspentKey(UnspentKey{Type: typ, Hash: hash, TxID: tx.TxID, OutputIndex: uint32(outIndex)}),
				EncodeUnspentValue(UnspentValue{Satoshis: out.Value, Script: out.Script, BlockHeight: tip.Height}),
			))
		}

		for inIndex, in := range tx.Inputs {
			prev, ok := coinView.PrevOut(in.PrevTxID, in.PrevIndex)
			if !ok {
				return fmt.Errorf("%w: no prevout for input %d of tx %x", ErrInvalidInput, inIndex, tx.TxID)
			}
			typ, hash, ok := Recognize(prev.Script)
			if !ok {
				continue
			}

			ops = append(ops, WriteOp(
				EncodeActivityKey(ActivityKey{
					Type:           typ,
					Hash:           hash,
					BlockHeight:    uint32(tip.Height),
					TxIndexInBlock: uint32(txIndex),
					TxID:           tx.TxID,
					IOIndex:        uint32(inIndex),
					Spending:       true,
				}),
				EncodeActivityValue(-prev.Value),
			))
			ops = append(ops, EraseOp(
				EncodeUnspentKey(UnspentKey{Type: typ, Hash: hash, TxID: in.PrevTxID, OutputIndex: in.PrevIndex}),
			))
		}
	}

	ops = append(ops, WriteOp(tipHashKey, tip.BlockHash[:]))

	if err := store.ApplyBatch(ctx, ops, tip.Height); err != nil {
		return err
	}
	metrics.BlocksConnectedTotal.Inc()
	metrics.IndexWatermark.Set(float64(tip.Height))
	return nil
}

// Disconnect is the exact inverse of Connect for the same (tip, block,
// coinView, undo) tuple: every activity record Connect wrote is erased, every
// unspent entry Connect erased is restored using undo's recorded height, and
// every unspent entry Connect wrote is erased.
func Disconnect(ctx context.Context, store *Store, tip TipDescriptor, block Block, coinView CoinView, undo UndoData) error {
	var ops []BatchOp

	for txIndex, tx := range block.Transactions {
		for outIndex, out := range tx.Outputs {
			typ, hash, ok := Recognize(out.Script)
			if !ok {
				continue
			}

			ops = append(ops, EraseOp(EncodeActivityKey(ActivityKey{
				Type:           typ,
				Hash:           hash,
				BlockHeight:    uint32(tip.Height),
				TxIndexInBlock: uint32(txIndex),
				TxID:           tx.TxID,
				IOIndex:        uint32(outIndex),
				Spending:       false,
			})))
			ops = append(ops, EraseOp(
				EncodeUnspentKey(UnspentKey{Type: typ, Hash: hash, TxID: tx.TxID, OutputIndex: uint32(outIndex)}),
			))
		}

		for inIndex, in := range tx.Inputs {
			prev, ok := coinView.PrevOut(in.PrevTxID, in.PrevIndex)
			if !ok {
				return fmt.Errorf("%w: no prevout for input %d of tx %x", ErrInvalidInput, inIndex, tx.TxID)
			}
			typ, hash, ok := Recognize(prev.Script)
			if !ok {
				continue
			}

			ops = append(ops, EraseOp(EncodeActivityKey(ActivityKey{
				Type:           typ,
				Hash:           hash,
				BlockHeight:    uint32(tip.Height),
				TxIndexInBlock: uint32(txIndex),
				TxID:           tx.TxID,
				IOIndex:        uint32(inIndex),
				Spending:       true,
			})))
			ops = append(ops, WriteOp(
				EncodeUnspentKey(UnspentKey{Type: typ, Hash: hash, TxID: in.PrevTxID, OutputIndex: in.PrevIndex}),
				EncodeUnspentValue(UnspentValue{
					Satoshis:    prev.Value,
					Script:      prev.Script,
					BlockHeight: undo.HeightOf(txIndex, inIndex),
				}),
			))
		}
	}

	ops = append(ops, WriteOp(tipHashKey, tip.PrevBlockHash[:]))

	if err := store.ApplyBatch(ctx, ops, tip.Height-1); err != nil {
		return err
	}
	metrics.BlocksDisconnectedTotal.Inc()
	metrics.IndexWatermark.Set(float64(tip.Height - 1))
	return nil
}
