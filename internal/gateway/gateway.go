// Package gateway is the HTTP surface of Pontoon: provider webhooks, the
// media stream WebSocket endpoint, a small operator API over active calls,
// health probes, and the Prometheus scrape endpoint.
//
// The gateway is deliberately thin. Call semantics live in internal/call;
// audio semantics live in internal/bridge. Handlers here translate HTTP into
// those layers and nothing more.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pontoonlabs/pontoon/internal/call"
	"github.com/pontoonlabs/pontoon/internal/health"
	"github.com/pontoonlabs/pontoon/internal/media"
	"github.com/pontoonlabs/pontoon/internal/observe"
)

// Config configures the gateway server.
type Config struct {
	// ListenAddr is the TCP address to listen on.
	ListenAddr string

	// MediaURL is the public WebSocket URL handed to the provider when
	// answering a call (e.g., "wss://gw.example/media").
	MediaURL string

	// Version is reported in health probe responses. May be empty.
	Version string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Server wires the HTTP routes to the call manager and control client.
type Server struct {
	cfg     Config
	manager *call.Manager
	control *ControlClient
	httpSrv *http.Server
}

// New builds the gateway server. control may be nil, in which case incoming
// call webhooks are acknowledged but not answered. Additional health checkers
// (call record store, event broker) are evaluated on /readyz.
func New(cfg Config, manager *call.Manager, control *ControlClient, metrics *observe.Metrics, checkers ...health.Checker) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		control: control,
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/calls", s.handleWebhook)
	mux.HandleFunc("GET /media", s.handleMedia)
	mux.HandleFunc("GET /calls", s.handleListCalls)
	mux.HandleFunc("POST /calls/{id}/hangup", s.handleHangup)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(cfg.Version, checkers...).Register(mux)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wired HTTP handler. Exposed for tests that serve
// the gateway through httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves HTTP until ctx is cancelled, then drains connections within
// shutdownTimeout. Active calls are not hung up here; the caller closes the
// manager after Run returns.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	slog.Info("gateway listening", "addr", ln.Addr().String(), "tls", s.cfg.CertFile != "")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.httpSrv.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleMedia accepts a provider media stream and runs the call on it. The
// handler blocks for the lifetime of the call; returning tears the socket
// down.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	leg, err := media.Accept(w, r)
	if err != nil {
		// Accept has already closed the socket with a status; nothing more
		// to write here.
		slog.Warn("media stream rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess, err := s.manager.Answer(r.Context(), leg)
	if err != nil {
		slog.Error("call not answered", "call_id", leg.CallID(), "err", err)
		if errors.Is(err, call.ErrMediaFormat) {
			_ = leg.Reject("unsupported stream format")
			return
		}
		_ = leg.SendStop("not answered")
		_ = leg.Close()
		return
	}
	sess.Wait()
}

// handleListCalls returns the active calls as JSON.
func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	type callInfo struct {
		CallID        string    `json:"call_id"`
		From          string    `json:"from,omitempty"`
		To            string    `json:"to,omitempty"`
		StartedAt     time.Time `json:"started_at"`
		ChunksSent    uint64    `json:"chunks_sent"`
		FramesEmitted uint64    `json:"frames_emitted"`
	}

	active := s.manager.Active()
	out := make([]callInfo, 0, len(active))
	for _, sess := range active {
		stats := sess.Stats()
		out = append(out, callInfo{
			CallID:        sess.CallID(),
			From:          sess.From(),
			To:            sess.To(),
			StartedAt:     sess.StartedAt(),
			ChunksSent:    stats.ChunksSent,
			FramesEmitted: stats.FramesEmitted,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": out, "count": len(out)})
}

// handleHangup ends an active call on operator request.
func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	sess, ok := s.manager.Get(callID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active call " + callID})
		return
	}
	sess.Hangup(call.ReasonHangup)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "hanging up"})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway: response not written", "err", err)
	}
}
