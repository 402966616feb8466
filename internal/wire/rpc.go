package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/stibits-inc/bitcoin-abc/internal/addressindex"
	"github.com/stibits-inc/bitcoin-abc/internal/hdwallet"
	"github.com/stibits-inc/bitcoin-abc/internal/metrics"
	"github.com/stibits-inc/bitcoin-abc/internal/recovery"
)

// defaultDeriveCount is gen_xpub_addresses's default when count is omitted.
const defaultDeriveCount = 100

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// HandleRPC dispatches one JSON-RPC request per the method table in
// SPEC_FULL.md §6.
func (s *Service) HandleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, fmt.Sprintf("malformed request: %v", err))
		return
	}

	start := time.Now()
	result, err := s.dispatch(r.Context(), req.Method, req.Params)
	metrics.QueryDurationSeconds.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		writeRPCError(w, err.Error())
		return
	}
	metrics.QueryRequestsTotal.WithLabelValues(req.Method, "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{Result: result})
}

func writeRPCError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(rpcResponse{Error: msg})
}

func (s *Service) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "gen_xpub_addresses":
		return s.genXPubAddresses(params)
	case "get_xpub_utxos":
		return s.getXPubUTXOs(ctx, params)
	case "get_xpub_txs":
		return s.getXPubTxs(ctx, params)
	case "get_last_used_hd_index":
		return s.getLastUsedHDIndex(ctx, params)
	case "get_first_used_block":
		return s.getFirstUsedBlock(ctx, params)
	case "get_address_utxos":
		return s.getAddressUTXOs(ctx, params)
	case "get_address_txids":
		return s.getAddressTxids(ctx, params)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", addressindex.ErrInvalidInput, method)
	}
}

// xpubParams is the shape accepted by every xpub-keyed RPC method: either a
// bare xpub string, or an object carrying it plus optional from/count.
type xpubParams struct {
	XPubKey string `json:"xpubkey"`
	From    uint32 `json:"from"`
	Count   uint32 `json:"count"`
}

func parseXPubParams(raw json.RawMessage, defaultCount uint32) (xpubParams, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return validateXPubParams(xpubParams{XPubKey: asString, Count: defaultCount})
	}

	var p xpubParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return xpubParams{}, fmt.Errorf("%w: %v", addressindex.ErrInvalidInput, err)
	}
	if p.Count == 0 {
		p.Count = defaultCount
	}
	return validateXPubParams(p)
}

func validateXPubParams(p xpubParams) (xpubParams, error) {
	if len(p.XPubKey) < 4 || !strings.HasPrefix(p.XPubKey, "xpub") {
		return xpubParams{}, fmt.Errorf("%w: xpubkey must begin with \"xpub\"", addressindex.ErrInvalidInput)
	}
	return p, nil
}

func (s *Service) genXPubAddresses(raw json.RawMessage) (interface{}, error) {
	p, err := parseXPubParams(raw, defaultDeriveCount)
	if err != nil {
		return nil, err
	}

	xpub, err := hdwallet.ParseXPub(p.XPubKey, s.Params)
	if err != nil {
		return nil, err
	}
	addrs, err := xpub.Derive(p.From, p.Count, false, hdwallet.ModeWitness)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Encoded
	}
	return out, nil
}

func (s *Service) getXPubUTXOs(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.Store == nil {
		return nil, addressindex.ErrIndexUnavailable
	}
	p, err := parseXPubParams(raw, defaultDeriveCount)
	if err != nil {
		return nil, err
	}
	xpub, err := hdwallet.ParseXPub(p.XPubKey, s.Params)
	if err != nil {
		return nil, err
	}
	utxos, err := recovery.Recover(ctx, xpub, s.Store)
	if err != nil {
		return nil, err
	}
	metrics.RecoveryScansTotal.Inc()
	if utxos == nil {
		utxos = []addressindex.UTXO{}
	}
	return utxos, nil
}

func (s *Service) getXPubTxs(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.Store == nil {
		return nil, addressindex.ErrIndexUnavailable
	}
	if s.TxIndex == nil {
		return nil, fmt.Errorf("%w: bitcoind is not started with -txindex option", addressindex.ErrConfiguration)
	}
	p, err := parseXPubParams(raw, defaultDeriveCount)
	if err != nil {
		return nil, err
	}
	xpub, err := hdwallet.ParseXPub(p.XPubKey, s.Params)
	if err != nil {
		return nil, err
	}

	txids, err := recovery.RecoverTxids(ctx, xpub, s.Store)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(txids))
	for _, t := range txids {
		rawTx, ok := s.TxIndex.FindTx(ctx, t.TxID)
		if !ok {
			continue
		}
		out = append(out, base58.Encode(rawTx))
	}
	return out, nil
}

func (s *Service) getLastUsedHDIndex(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.Store == nil {
		return nil, addressindex.ErrIndexUnavailable
	}
	p, err := parseXPubParams(raw, defaultDeriveCount)
	if err != nil {
		return nil, err
	}
	xpub, err := hdwallet.ParseXPub(p.XPubKey, s.Params)
	if err != nil {
		return nil, err
	}

	index, err := recovery.GapLimitLastUsedIndex(ctx, xpub, s.Store)
	if err != nil {
		return nil, err
	}
	return map[string]int{"lastindex": index}, nil
}

func (s *Service) getFirstUsedBlock(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.Store == nil {
		return nil, addressindex.ErrIndexUnavailable
	}
	p, err := parseXPubParams(raw, defaultDeriveCount)
	if err != nil {
		return nil, err
	}
	xpub, err := hdwallet.ParseXPub(p.XPubKey, s.Params)
	if err != nil {
		return nil, err
	}

	height, ok, err := recovery.GapLimitFirstUsedHeight(ctx, xpub, s.Store)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]int{"firstusedblock": -1}, nil
	}
	return map[string]int{"firstusedblock": int(height)}, nil
}

type addressesParams struct {
	Addresses []string `json:"addresses"`
	ChainInfo bool     `json:"chainInfo"`
}

func (s *Service) resolveAddresses(raw []string) ([]addressindex.AddressID, error) {
	out := make([]addressindex.AddressID, 0, len(raw))
	for _, a := range raw {
		id, err := hdwallet.DecodeAddress(a, s.Params)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Service) getAddressUTXOs(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.Store == nil {
		return nil, addressindex.ErrIndexUnavailable
	}
	var p addressesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", addressindex.ErrInvalidInput, err)
	}

	addrs, err := s.resolveAddresses(p.Addresses)
	if err != nil {
		return nil, err
	}
	utxos, err := addressindex.GetUTXOs(ctx, s.Store, addrs)
	if err != nil {
		return nil, err
	}

	if !p.ChainInfo {
		return utxos, nil
	}

	watermark, err := s.Store.Watermark()
	if err != nil {
		return nil, err
	}
	tipHash, ok, err := s.Store.TipHash()
	if err != nil {
		return nil, err
	}
	hash := ""
	if ok {
		hash = fmt.Sprintf("%x", tipHash)
	}
	return map[string]interface{}{
		"utxos":  utxos,
		"hash":   hash,
		"height": watermark,
	}, nil
}

func (s *Service) getAddressTxids(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.Store == nil {
		return nil, addressindex.ErrIndexUnavailable
	}
	var p addressesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", addressindex.ErrInvalidInput, err)
	}

	addrs, err := s.resolveAddresses(p.Addresses)
	if err != nil {
		return nil, err
	}
	entries, err := addressindex.GetTxids(ctx, s.Store, addrs, 0, 0)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%x", e.TxID)
	}
	sort.Strings(out)
	return out, nil
}
