package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cockroachdb/pebble/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stibits-inc/bitcoin-abc/internal/addressindex"
	"github.com/stibits-inc/bitcoin-abc/internal/wire"
)

// registry is the process's service-registry: a nil store is the only
// representation of "index disabled"; the store-backed handlers in
// internal/wire check for it at their entry, see SPEC_FULL.md §4.10.
type registry struct {
	store  *addressindex.Store
	params *chaincfg.Params
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func networkParams(name string) *chaincfg.Params {
	switch name {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func main() {
	godotenv.Load()

	dataDir := flag.String("data", getEnv("ADDRINDEX_DATA_DIR", "./data"), "Address index data directory")
	apiAddr := flag.String("api", getEnv("ADDRINDEX_API_ADDR", ":8080"), "JSON-RPC/websocket/metrics server address")
	enableIndex := flag.Bool("enable-index", getBoolEnv("ADDRINDEX_ENABLE", true), "Enable the address index")
	network := flag.String("network", getEnv("ADDRINDEX_NETWORK", "mainnet"), "Bitcoin network: mainnet, testnet, regtest")
	flag.Parse()

	reg := &registry{params: networkParams(*network)}

	if *enableIndex {
		store, err := addressindex.Open(*dataDir, &pebble.Options{
			Logger: addressindex.QuietLogger(func(format string, args ...any) {
				log.Printf("[pebble] "+format, args...)
			}),
		})
		if err != nil {
			log.Fatalf("addressindex.Open(%s): %v", *dataDir, err)
		}
		defer store.Close()
		reg.store = store
		log.Printf("[addrindex] index enabled, data dir %s, network %s", *dataDir, *network)
	} else {
		log.Printf("[addrindex] index disabled at startup")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating shutdown...", sig)
		cancel()
	}()

	svc := &wire.Service{Store: reg.store, Params: reg.params}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", svc.HandleRPC)
	mux.HandleFunc("GET /ws", svc.HandleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	var wg sync.WaitGroup
	server := &http.Server{Addr: *apiAddr, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("[http] listening on %s", *apiAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[http] error: %v", err)
		}
	}()

	<-ctx.Done()
	server.Close()
	wg.Wait()
	log.Println("shutdown complete")
}
