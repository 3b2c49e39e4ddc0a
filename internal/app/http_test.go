package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"

	"murmur/internal/archive"
	"murmur/internal/dm"
	"murmur/internal/dmsync"
	"murmur/internal/identity"
	"murmur/internal/relay"
)

func testCoordinator(t *testing.T, reg *prometheus.Registry) *dmsync.Coordinator {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys, err := identity.FromSecret(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	arch := archive.NewMemory()
	store := dm.NewStore(log, keys.Public(), archive.ForAccount(arch, keys.Public()))
	return dmsync.New(log, relay.NewMemoryPool(), store, arch, keys, dmsync.NewMetrics(reg), dmsync.Options{
		DiscoveryRelays: []string{"wss://relay.test"},
	})
}

func TestOpsEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	co := testCoordinator(t, reg)

	mux := http.NewServeMux()
	registerHTTP(mux, co, reg)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	// Not ready until the first full load completes.
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before load: %d", rec.Code)
	}
	if err := co.FullLoad(context.Background()); err != nil {
		t.Fatalf("FullLoad: %v", err)
	}
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz after load: %d", rec.Code)
	}

	rec := get("/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if body := rec.Body.String(); body == "" {
		t.Fatalf("empty metrics exposition")
	}
}
