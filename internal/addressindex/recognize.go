package addressindex

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// recognizeParams is passed to txscript.ExtractPkScriptAddrs purely to
// satisfy its signature: classification and the returned hash160 bytes
// don't depend on network (a P2PKH/P2SH payload is a raw hash160, not a
// network-versioned string), so any chaincfg.Params value works here.
var recognizeParams = &chaincfg.MainNetParams

// Recognize inspects a scriptPubKey and, if it is a standard P2PKH or P2SH
// template, returns the address type and the embedded hash160. Anything
// else — including every witness/taproot template — yields (0, zero,
// false): unsupported templates are silently ignored, they never enter the
// index. Classification is delegated to txscript.ExtractPkScriptAddrs
// rather than hand-rolled opcode comparisons.
func Recognize(script []byte) (AddressType, [20]byte, bool) {
	var hash [20]byte

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, recognizeParams)
	if err != nil || len(addrs) != 1 {
		return 0, hash, false
	}

	switch class {
	case txscript.PubKeyHashTy:
		addr, ok := addrs[0].(*btcutil.AddressPubKeyHash)
		if !ok {
			return 0, hash, false
		}
		copy(hash[:], addr.Hash160()[:])
		return P2PKH, hash, true

	case txscript.ScriptHashTy:
		addr, ok := addrs[0].(*btcutil.AddressScriptHash)
		if !ok {
			return 0, hash, false
		}
		copy(hash[:], addr.Hash160()[:])
		return P2SH, hash, true

	default:
		return 0, hash, false
	}
}
