package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synthd/native/collateral"
)

// Options wires the gateway to the engine and its operational knobs.
type Options struct {
	Engine *collateral.Engine
	// Prices, when set, enables the authenticated price-override route used
	// for incident response and local deployments.
	Prices    *collateral.ManualSource
	APITokens []string
	RateLimit RateLimit
	Logger    *slog.Logger
}

// New builds the HTTP surface: health and metrics probes, read-only position
// views, and bearer-token-guarded mutations.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &server{
		engine: opts.Engine,
		prices: opts.Prices,
		log:    logger,
	}

	r := chi.NewRouter()
	r.Use(newRateLimiter(opts.RateLimit).middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/collateral/tokens", srv.collateralTokens)
		v1.Get("/positions/{address}", srv.position)
		v1.Get("/quote/usd", srv.quoteUsd)
		v1.Get("/quote/token", srv.quoteToken)

		auth := newBearerAuth(opts.APITokens)
		v1.Group(func(g chi.Router) {
			g.Use(auth.middleware)
			g.Post("/deposit", srv.deposit)
			g.Post("/deposit-and-mint", srv.depositAndMint)
			g.Post("/mint", srv.mint)
			g.Post("/redeem", srv.redeem)
			g.Post("/redeem-for-debt", srv.redeemForDebt)
			g.Post("/burn", srv.burn)
			g.Post("/liquidate", srv.liquidate)
			if srv.prices != nil {
				g.Post("/prices", srv.setPrice)
			}
		})
	})
	return r
}
