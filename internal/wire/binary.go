// Package wire implements the two framings the address index is reachable
// through: a binary STBTS peer message dispatched over a WebSocket
// connection, and a JSON-RPC surface over plain HTTP. Both are thin
// translation layers — core logic lives in internal/addressindex,
// internal/hdwallet and internal/recovery.
package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/stibits-inc/bitcoin-abc/internal/addressindex"
	"github.com/stibits-inc/bitcoin-abc/internal/hdwallet"
	"github.com/stibits-inc/bitcoin-abc/internal/metrics"
	"github.com/stibits-inc/bitcoin-abc/internal/recovery"
)

const (
	xpubASCIILen = 111

	cmdGenerate   = 'G'
	cmdRecover    = 'R'
	cmdRecoverTxs = 'T'

	// gCommandSize is the genuine payload size the 'G' command requires
	// (from u32 | count u32 | xpub), not counting the command byte itself.
	gCommandSize = 4 + 4 + xpubASCIILen
	// rCommandSize is the genuine payload size the 'R' command requires.
	rCommandSize = xpubASCIILen

	// zstdThreshold is the uncompressed payload size above which an 'R' or
	// 'T' response is zstd-compressed, matching the teacher's streaming
	// compression convention for bulk wire payloads.
	zstdThreshold = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TxLookup resolves a txid to its serialized transaction bytes via the
// host's full-transaction index. Absent (nil) means the index was not
// enabled, matching the source's `-txindex` requirement for the 'T'
// command and the `get_xpub_txs` RPC method.
type TxLookup interface {
	FindTx(ctx context.Context, txid addressindex.TxID) ([]byte, bool)
}

// Service bundles the dependencies the wire layer dispatches into. Store is
// nil when the address index is disabled at startup.
type Service struct {
	Store   *addressindex.Store
	Params  *chaincfg.Params
	TxIndex TxLookup
}

// HandleWS upgrades the request to a WebSocket and serves STBTS binary
// messages on it until the connection closes.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wire] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		resp := s.ProcessSTBTS(r.Context(), payload)
		if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
			return
		}
	}
}

// ProcessSTBTS dispatches one binary peer message and always returns a
// response payload — malformed input and unknown commands produce a JSON
// error payload rather than a Go error, matching the original's framing
// where every path returns a string.
func (s *Service) ProcessSTBTS(ctx context.Context, payload []byte) []byte {
	if len(payload) == 0 {
		metrics.WireMessagesTotal.WithLabelValues("empty", "error").Inc()
		return jsonError("Empty payload not autorized")
	}

	cmd := payload[0]
	rest := payload[1:]

	switch cmd {
	case cmdGenerate:
		return s.processGenerate(rest)
	case cmdRecover:
		return s.processRecover(ctx, rest)
	case cmdRecoverTxs:
		return s.processRecoverTxs(ctx, rest)
	default:
		metrics.WireMessagesTotal.WithLabelValues("unknown", "error").Inc()
		return jsonError(fmt.Sprintf("STBTS custom command, command id (%d) not found", cmd))
	}
}

func (s *Service) processGenerate(rest []byte) []byte {
	if len(rest) != gCommandSize {
		metrics.WireMessagesTotal.WithLabelValues("generate", "error").Inc()
		// The original's payload check is 119 bytes but its error string
		// says "120 byte" — preserved verbatim, see SPEC_FULL.md §9.
		return jsonError(fmt.Sprintf("G command size is 120 byte, not %d", len(rest)))
	}

	from := binary.LittleEndian.Uint32(rest[0:4])
	count := binary.LittleEndian.Uint32(rest[4:8])
	xpubStr := string(rest[8:])

	xpub, err := hdwallet.ParseXPub(xpubStr, s.Params)
	if err != nil {
		metrics.WireMessagesTotal.WithLabelValues("generate", "error").Inc()
		return jsonError(err.Error())
	}

	addrs, err := xpub.Derive(from, count, false, hdwallet.ModeWitness)
	if err != nil {
		metrics.WireMessagesTotal.WithLabelValues("generate", "error").Inc()
		return jsonError(err.Error())
	}

	metrics.WireMessagesTotal.WithLabelValues("generate", "ok").Inc()
	return encodeAddressList(addrs)
}

func (s *Service) processRecover(ctx context.Context, rest []byte) []byte {
	if len(rest) != rCommandSize {
		metrics.WireMessagesTotal.WithLabelValues("recover", "error").Inc()
		return jsonError(fmt.Sprintf("R command size is 111 byte, not %d", len(rest)))
	}
	if s.Store == nil {
		metrics.WireMessagesTotal.WithLabelValues("recover", "error").Inc()
		return jsonError(addressindex.ErrIndexUnavailable.Error())
	}

	xpub, err := hdwallet.ParseXPub(string(rest), s.Params)
	if err != nil {
		metrics.WireMessagesTotal.WithLabelValues("recover", "error").Inc()
		return jsonError(err.Error())
	}

	utxos, err := recovery.Recover(ctx, xpub, s.Store)
	if err != nil {
		metrics.WireMessagesTotal.WithLabelValues("recover", "error").Inc()
		return jsonError(err.Error())
	}
	metrics.RecoveryScansTotal.Inc()

	metrics.WireMessagesTotal.WithLabelValues("recover", "ok").Inc()
	return maybeCompress(encodeUTXOList(utxos))
}

func (s *Service) processRecoverTxs(ctx context.Context, rest []byte) []byte {
	if s.TxIndex == nil {
		metrics.WireMessagesTotal.WithLabelValues("recover_txs", "error").Inc()
		return jsonError("bitcoind is not started with -txindex option")
	}
	if s.Store == nil {
		metrics.WireMessagesTotal.WithLabelValues("recover_txs", "error").Inc()
		return jsonError(addressindex.ErrIndexUnavailable.Error())
	}

	xpub, err := hdwallet.ParseXPub(string(rest), s.Params)
	if err != nil {
		metrics.WireMessagesTotal.WithLabelValues("recover_txs", "error").Inc()
		return jsonError(err.Error())
	}

	txids, err := recovery.RecoverTxids(ctx, xpub, s.Store)
	if err != nil {
		metrics.WireMessagesTotal.WithLabelValues("recover_txs", "error").Inc()
		return jsonError(err.Error())
	}

	var raws [][]byte
	for _, t := range txids {
		if raw, ok := s.TxIndex.FindTx(ctx, t.TxID); ok {
			raws = append(raws, raw)
		}
	}

	metrics.WireMessagesTotal.WithLabelValues("recover_txs", "ok").Inc()
	return maybeCompress(encodeRawTxList(raws))
}

// jsonError mirrors the original's ad hoc `{"result":{"error":"..."}}`
// error framing, used on both the binary and JSON-RPC paths.
func jsonError(msg string) []byte {
	return []byte(fmt.Sprintf(`{"result":{"error":%q}}`, msg))
}

// maybeCompress zstd-compresses data when it exceeds zstdThreshold,
// prefixing a one-byte flag (0 = raw, 1 = zstd) the reader checks before
// decoding the rest of the frame.
func maybeCompress(data []byte) []byte {
	if len(data) <= zstdThreshold {
		return append([]byte{0}, data...)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return append([]byte{0}, data...)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(data, nil)
	return append([]byte{1}, compressed...)
}

func encodeAddressList(addrs []hdwallet.Address) []byte {
	buf := make([]byte, 0, 16+len(addrs)*40)
	buf = appendUvarint(buf, uint64(len(addrs)))
	for _, a := range addrs {
		buf = appendUvarint(buf, uint64(len(a.Encoded)))
		buf = append(buf, a.Encoded...)
	}
	return buf
}

func encodeUTXOList(utxos []addressindex.UTXO) []byte {
	buf := make([]byte, 0, 16+len(utxos)*64)
	buf = appendUvarint(buf, uint64(len(utxos)))
	for _, u := range utxos {
		buf = append(buf, u.TxID[:]...)
		buf = appendUint32LE(buf, u.OutputIndex)
		buf = appendUint64LE(buf, uint64(u.Satoshis))
		buf = appendUvarint(buf, uint64(len(u.Script)))
		buf = append(buf, u.Script...)
		buf = appendUint32LE(buf, uint32(u.BlockHeight))
	}
	return buf
}

func encodeRawTxList(raws [][]byte) []byte {
	buf := make([]byte, 0, 16+len(raws)*256)
	buf = appendUvarint(buf, uint64(len(raws)))
	for _, raw := range raws {
		buf = appendUvarint(buf, uint64(len(raw)))
		buf = append(buf, raw...)
	}
	return buf
}

func appendUvarint(buf []byte, v uint64) []byte {
	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, v)
	return append(buf, tmp[:n]...)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}
