package app

import (
	"net/http"
	"time"

	"lotgate/cmd/internal/auth/api"
	"lotgate/cmd/internal/gateway"

	"github.com/jackc/pgx/v5/pgxpool"
)

// routes collects what registerHTTP needs.
type routes struct {
	log       Logger
	cfg       Config
	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics http.Handler
	gate    *gateway.Gate
	auth    *api.Handler
}

// registerHTTP mounts infra endpoints directly and everything else behind the gate.
func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && !rt.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.dbEnabled && rt.dbPool != nil {
			if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics)
	}

	gated := http.NewServeMux()
	if rt.auth != nil {
		rt.auth.Register(gated)
	}

	var h http.Handler = gated
	if rt.gate != nil {
		h = rt.gate.Wrap(gated)
	}
	mux.Handle("/", h)
}
