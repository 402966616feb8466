package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/stibits-inc/bitcoin-abc/internal/addressindex"
)

type fakeTxIndex map[addressindex.TxID][]byte

func (f fakeTxIndex) FindTx(ctx context.Context, txid addressindex.TxID) ([]byte, bool) {
	raw, ok := f[txid]
	return raw, ok
}

func newTestService(t *testing.T) *Service {
	return &Service{Store: openTestStore(t), Params: &chaincfg.MainNetParams}
}

func doRPC(t *testing.T, svc *Service, method string, params interface{}) rpcResponse {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: paramsJSON})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.HandleRPC(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleRPCUnknownMethod(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "not_a_real_method", map[string]any{})
	if resp.Error == "" {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestGenXPubAddressesDefaultsCount(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "gen_xpub_addresses", testXPub)
	if resp.Error != "" {
		t.Fatalf("gen_xpub_addresses error: %s", resp.Error)
	}

	addrs, ok := resp.Result.([]interface{})
	if !ok || len(addrs) != defaultDeriveCount {
		t.Fatalf("gen_xpub_addresses returned %d addresses, want %d", len(addrs), defaultDeriveCount)
	}
}

func TestGenXPubAddressesRejectsShortXPub(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "gen_xpub_addresses", "xp")
	if resp.Error == "" {
		t.Fatal("expected an error for a too-short xpubkey")
	}
}

func TestGenXPubAddressesRejectsWrongPrefix(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "gen_xpub_addresses", "notanxpubkey")
	if resp.Error == "" {
		t.Fatal("expected an error for an xpubkey not starting with \"xpub\"")
	}
}

func TestGenXPubAddressesHonorsFromAndCount(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "gen_xpub_addresses", map[string]any{
		"xpubkey": testXPub,
		"from":    10,
		"count":   3,
	})
	if resp.Error != "" {
		t.Fatalf("gen_xpub_addresses error: %s", resp.Error)
	}
	addrs, ok := resp.Result.([]interface{})
	if !ok || len(addrs) != 3 {
		t.Fatalf("gen_xpub_addresses returned %d addresses, want 3", len(addrs))
	}
}

func TestGetXPubUTXOsIndexUnavailable(t *testing.T) {
	svc := &Service{Params: &chaincfg.MainNetParams}
	resp := doRPC(t, svc, "get_xpub_utxos", testXPub)
	if resp.Error == "" {
		t.Fatal("expected an error when the store is nil")
	}
}

func TestGetLastUsedHDIndexEmptyWallet(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "get_last_used_hd_index", testXPub)
	if resp.Error != "" {
		t.Fatalf("get_last_used_hd_index error: %s", resp.Error)
	}

	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T, want map", resp.Result)
	}
	if lastIndex, _ := m["lastindex"].(float64); lastIndex != -1 {
		t.Errorf("lastindex = %v, want -1", m["lastindex"])
	}
}

func TestGetFirstUsedBlockEmptyWallet(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "get_first_used_block", testXPub)
	if resp.Error != "" {
		t.Fatalf("get_first_used_block error: %s", resp.Error)
	}

	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T, want map", resp.Result)
	}
	if firstUsed, _ := m["firstusedblock"].(float64); firstUsed != -1 {
		t.Errorf("firstusedblock = %v, want -1", m["firstusedblock"])
	}
}

func TestGetXPubTxsRequiresTxIndex(t *testing.T) {
	svc := newTestService(t)
	resp := doRPC(t, svc, "get_xpub_txs", testXPub)
	if resp.Error == "" {
		t.Fatal("expected an error when no TxIndex is configured")
	}
}

func TestGetAddressTxidsDedupesAcrossAddresses(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	addrA := [20]byte{1}
	addrB := [20]byte{2}
	txid := addressindex.TxID{0xaa}

	err := svc.Store.ApplyBatch(ctx, []addressindex.BatchOp{
		addressindex.WriteOp(
			addressindex.EncodeActivityKey(addressindex.ActivityKey{Type: addressindex.P2PKH, Hash: addrA, BlockHeight: 1, TxID: txid, IOIndex: 0}),
			addressindex.EncodeActivityValue(100),
		),
		addressindex.WriteOp(
			addressindex.EncodeActivityKey(addressindex.ActivityKey{Type: addressindex.P2PKH, Hash: addrB, BlockHeight: 1, TxID: txid, IOIndex: 1}),
			addressindex.EncodeActivityValue(200),
		),
	}, 1)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	encodedA := mustEncodeP2PKH(t, svc, addrA)
	encodedB := mustEncodeP2PKH(t, svc, addrB)

	resp := doRPC(t, svc, "get_address_txids", map[string]any{
		"addresses": []string{encodedA, encodedB},
	})
	if resp.Error != "" {
		t.Fatalf("get_address_txids error: %s", resp.Error)
	}

	txids, ok := resp.Result.([]interface{})
	if !ok || len(txids) != 1 {
		t.Fatalf("get_address_txids returned %v, want exactly one deduplicated txid", resp.Result)
	}
}

func TestGetAddressUTXOsChainInfo(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hash := [20]byte{7}
	txid := addressindex.TxID{0xbb}
	tipHash := [32]byte{0xde, 0xad, 0xbe, 0xef}

	err := svc.Store.ApplyBatch(ctx, []addressindex.BatchOp{
		addressindex.WriteOp(
			addressindex.EncodeUnspentKey(addressindex.UnspentKey{Type: addressindex.P2PKH, Hash: hash, TxID: txid, OutputIndex: 0}),
			addressindex.EncodeUnspentValue(addressindex.UnspentValue{Satoshis: 500, Script: nil, BlockHeight: 3}),
		),
		addressindex.WriteOp([]byte("w:hash"), tipHash[:]),
	}, 3)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	encoded := mustEncodeP2PKH(t, svc, hash)
	resp := doRPC(t, svc, "get_address_utxos", map[string]any{
		"addresses": []string{encoded},
		"chainInfo": true,
	})
	if resp.Error != "" {
		t.Fatalf("get_address_utxos error: %s", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("get_address_utxos result = %#v, want map with chainInfo fields", resp.Result)
	}
	if got, want := result["height"], float64(3); got != want {
		t.Errorf("height = %v, want %v", got, want)
	}
	wantHash := fmt.Sprintf("%x", tipHash)
	if got := result["hash"]; got != wantHash {
		t.Errorf("hash = %v, want %v", got, wantHash)
	}
	utxos, ok := result["utxos"].([]interface{})
	if !ok || len(utxos) != 1 {
		t.Fatalf("utxos = %v, want exactly one entry", result["utxos"])
	}
}

func mustEncodeP2PKH(t *testing.T, svc *Service, hash [20]byte) string {
	t.Helper()
	return base58.CheckEncode(hash[:], svc.Params.PubKeyHashAddrID)
}
