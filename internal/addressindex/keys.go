package addressindex

import (
	"encoding/binary"
	"fmt"
)

// Namespace bytes for the three record families kept in the pebble store.
const (
	nsActivity  = 'a'
	nsUnspent   = 'u'
	nsWatermark = 'w'
)

// ActivityKey is the decoded form of an 'a'-namespace key. Encoding packs
// blockHeight and txIndexInBlock big-endian so lexicographic store order
// agrees with chain order; every other field is little-endian or raw bytes.
type ActivityKey struct {
	Type           AddressType
	Hash           [20]byte
	BlockHeight    uint32
	TxIndexInBlock uint32
	TxID           TxID
	IOIndex        uint32
	Spending       bool
}

// activityKeySize is the byte length of an encoded ActivityKey, namespace
// byte excluded: type(1) + hash(20) + height(4) + txIndex(4) + txid(32) +
// ioIndex(4) + spending(1) = 66.
const activityKeySize = 1 + 20 + 4 + 4 + 32 + 4 + 1

// EncodeActivityKey serializes k as an 'a'-namespace store key.
func EncodeActivityKey(k ActivityKey) []byte {
	buf := make([]byte, 1+activityKeySize)
	buf[0] = nsActivity
	b := buf[1:]
	b[0] = byte(k.Type)
	copy(b[1:21], k.Hash[:])
	binary.BigEndian.PutUint32(b[21:25], k.BlockHeight)
	binary.BigEndian.PutUint32(b[25:29], k.TxIndexInBlock)
	copy(b[29:61], k.TxID[:])
	binary.LittleEndian.PutUint32(b[61:65], k.IOIndex)
	if k.Spending {
		b[65] = 1
	}
	return buf
}

// DecodeActivityKey parses an encoded 'a'-namespace key, namespace byte
// included. decode(encode(k)) == k for every well-formed key.
func DecodeActivityKey(data []byte) (ActivityKey, error) {
	if len(data) != 1+activityKeySize || data[0] != nsActivity {
		return ActivityKey{}, fmt.Errorf("addressindex: malformed activity key (%d bytes)", len(data))
	}
	b := data[1:]
	var k ActivityKey
	k.Type = AddressType(b[0])
	copy(k.Hash[:], b[1:21])
	k.BlockHeight = binary.BigEndian.Uint32(b[21:25])
	k.TxIndexInBlock = binary.BigEndian.Uint32(b[25:29])
	copy(k.TxID[:], b[29:61])
	k.IOIndex = binary.LittleEndian.Uint32(b[61:65])
	k.Spending = b[65] != 0
	return k, nil
}

// EncodeActivityValue serializes a signed satoshi amount (positive for
// credits, negative for debits) as 8 little-endian two's-complement bytes.
func EncodeActivityValue(amount int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(amount))
	return buf
}

// DecodeActivityValue is the inverse of EncodeActivityValue.
func DecodeActivityValue(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("addressindex: malformed activity value (%d bytes)", len(data))
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

// UnspentKey is the decoded form of a 'u'-namespace key.
type UnspentKey struct {
	Type        AddressType
	Hash        [20]byte
	TxID        TxID
	OutputIndex uint32
}

// unspentKeySize: type(1) + hash(20) + txid(32) + outputIndex(4) = 57,
// matching the source's CAddressUnspentKey::GetSerializeSize.
const unspentKeySize = 1 + 20 + 32 + 4

// EncodeUnspentKey serializes k as a 'u'-namespace store key.
func EncodeUnspentKey(k UnspentKey) []byte {
	buf := make([]byte, 1+unspentKeySize)
	buf[0] = nsUnspent
	b := buf[1:]
	b[0] = byte(k.Type)
	copy(b[1:21], k.Hash[:])
	copy(b[21:53], k.TxID[:])
	binary.LittleEndian.PutUint32(b[53:57], k.OutputIndex)
	return buf
}

// DecodeUnspentKey parses an encoded 'u'-namespace key, namespace byte
// included.
func DecodeUnspentKey(data []byte) (UnspentKey, error) {
	if len(data) != 1+unspentKeySize || data[0] != nsUnspent {
		return UnspentKey{}, fmt.Errorf("addressindex: malformed unspent key (%d bytes)", len(data))
	}
	b := data[1:]
	var k UnspentKey
	k.Type = AddressType(b[0])
	copy(k.Hash[:], b[1:21])
	copy(k.TxID[:], b[21:53])
	k.OutputIndex = binary.LittleEndian.Uint32(b[53:57])
	return k, nil
}

// UnspentValue is the decoded form of a 'u'-namespace value.
type UnspentValue struct {
	Satoshis    int64
	Script      []byte
	BlockHeight int32
}

// EncodeUnspentValue serializes v as satoshis(i64-LE) | uvarint(len(script))
// | script | blockHeight(i32-LE).
func EncodeUnspentValue(v UnspentValue) []byte {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(v.Script)))

	buf := make([]byte, 8+n+len(v.Script)+4)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Satoshis))
	copy(buf[8:8+n], lenBuf[:n])
	copy(buf[8+n:8+n+len(v.Script)], v.Script)
	binary.LittleEndian.PutUint32(buf[8+n+len(v.Script):], uint32(v.BlockHeight))
	return buf
}

// DecodeUnspentValue is the inverse of EncodeUnspentValue.
func DecodeUnspentValue(data []byte) (UnspentValue, error) {
	if len(data) < 8 {
		return UnspentValue{}, fmt.Errorf("addressindex: malformed unspent value (%d bytes)", len(data))
	}
	satoshis := int64(binary.LittleEndian.Uint64(data[0:8]))

	scriptLen, n := binary.Uvarint(data[8:])
	if n <= 0 {
		return UnspentValue{}, fmt.Errorf("addressindex: malformed unspent value script length")
	}
	start := 8 + n
	end := start + int(scriptLen)
	if end+4 != len(data) {
		return UnspentValue{}, fmt.Errorf("addressindex: malformed unspent value (script length mismatch)")
	}

	script := make([]byte, scriptLen)
	copy(script, data[start:end])
	height := int32(binary.LittleEndian.Uint32(data[end:]))

	return UnspentValue{Satoshis: satoshis, Script: script, BlockHeight: height}, nil
}

// addressPrefix returns the 22-byte (namespace + type + hash) prefix shared
// by every key for a given (type, hash) pair, used to bound prefix
// iteration in both namespaces.
func addressPrefix(ns byte, typ AddressType, hash [20]byte) []byte {
	buf := make([]byte, 22)
	buf[0] = ns
	buf[1] = byte(typ)
	copy(buf[2:], hash[:])
	return buf
}

// prefixUpperBound returns the first key strictly greater than every key
// sharing prefix p, for use as a pebble.IterOptions.UpperBound.
func prefixUpperBound(p []byte) []byte {
	upper := make([]byte, len(p))
	copy(upper, p)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	// p is all 0xff: no finite upper bound, caller iterates to the end.
	return nil
}
