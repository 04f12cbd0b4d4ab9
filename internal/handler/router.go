package handler

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/marketsim/internal/service"
	"github.com/efreitasn/marketsim/internal/sim"
)

// RoundSource exposes the last completed round. *sim.Sim implements it.
type RoundSource interface {
	Latest() *sim.RoundResult
}

// NewRouter creates a chi router with the read-only report routes and
// request logging. hub may be nil, in which case /ws/rounds is not served.
func NewRouter(
	svc *service.Services,
	rounds RoundSource,
	hub *RoundHub,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogging(logger))

	reportH := NewReportHandler(svc.Orders, svc.Accounts, svc.Market, rounds)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/instruments/{instrument}/book", reportH.GetBook)

	r.Get("/agents/{agent_id}/balance", reportH.GetBalance)
	r.Get("/agents/{agent_id}/orders", reportH.ListOrders)

	r.Get("/orders/{order_id}", reportH.GetOrder)

	r.Get("/rounds/latest", reportH.LatestRound)
	if hub != nil {
		r.Get("/ws/rounds", hub.Stream)
	}

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is needed by the websocket upgrade. A hijacked request logs as
// 101.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return hj.Hijack()
}
