// Package addressindex maintains the secondary address index: an ordered
// key/value projection of a UTXO-based chain keyed by (address type, hash160)
// rather than by txid, plus the query surface built on top of it.
package addressindex

// AddressType identifies a whitelisted script template. Witness-native
// templates are recognized for HD scanning purposes (see internal/hdwallet)
// but are never written to the on-disk index.
type AddressType uint8

const (
	// P2PKH is pay-to-public-key-hash: DUP HASH160 <20> EQUALVERIFY CHECKSIG.
	P2PKH AddressType = 0x01
	// P2SH is pay-to-script-hash: HASH160 <20> EQUAL.
	P2SH AddressType = 0x02
)

func (t AddressType) String() string {
	switch t {
	case P2PKH:
		return "p2pkh"
	case P2SH:
		return "p2sh"
	default:
		return "unknown"
	}
}

// AddressID is the canonical indexable form of a recognized script.
type AddressID struct {
	Type AddressType
	Hash [20]byte
}

// TxID is a 32-byte transaction hash, stored and compared byte-for-byte
// (no reversal) — the node layer is responsible for display-endianness.
type TxID [32]byte

// TxOut is an output as seen by the block-delta applier.
type TxOut struct {
	Value  int64
	Script []byte
}

// TxIn is an input as seen by the block-delta applier. PrevTxID/PrevIndex
// identify the output being spent; the applier resolves the spent output's
// value and script via CoinView.
type TxIn struct {
	PrevTxID  TxID
	PrevIndex uint32
}

// Tx is a minimal transaction view: enough for C4 to walk outputs and inputs.
type Tx struct {
	TxID    TxID
	Outputs []TxOut
	Inputs  []TxIn // empty for the coinbase transaction
}

// Block is a minimal block view: ordered transactions, coinbase first.
type Block struct {
	Transactions []Tx
}

// TipDescriptor carries the height and hash of the block being connected or
// disconnected, plus its parent's hash. It replaces the source's raw
// CBlockIndex* with a borrowed value — the applier never retains it past
// the call. PrevBlockHash is only consulted by Disconnect, to record the
// chain tip the store reverts to once this block is removed.
type TipDescriptor struct {
	Height        int32
	BlockHash     [32]byte
	PrevBlockHash [32]byte
}

// PrevOut is the previously-unspent output resolved by a CoinView lookup.
type PrevOut struct {
	Value  int64
	Script []byte
}

// CoinView resolves a transaction input to the output it spends. Supplied by
// the host node; the applier never mutates or retains it.
type CoinView interface {
	PrevOut(prevTxID TxID, prevIndex uint32) (PrevOut, bool)
}

// UndoData supplies the original height of every spent output in a block,
// indexed by the position of the owning transaction (1-based, coinbase at
// index 0 has no undo entry) and the input's position within it.
type UndoData interface {
	HeightOf(txIndex int, inputIndex int) int32
}
