// ABOUTME: HTTP surface for on-demand deal syncs, full-sync kickoff, webhook intake, and metrics
// ABOUTME: Sync routes require the shared Auth-Key header; webhook deliveries are queued for the consumer
package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/metrics"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/BLEND360/hubspot-deals-export/queue"
	"github.com/BLEND360/hubspot-deals-export/sync"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AuthHeader carries the shared secret on sync routes.
const AuthHeader = "Auth-Key"

const maxBodyBytes = 1 << 20

// Runner is the part of sync.Runner the server drives.
type Runner interface {
	SingleDeal(ctx context.Context, event, dealID string) error
	StartManualSync(ctx context.Context) (*sync.Run, error)
}

// Enqueuer accepts webhook deal IDs for later processing.
type Enqueuer interface {
	Enqueue(dealIDs []string) (queue.Message, error)
}

type Server struct {
	runner  Runner
	queue   Enqueuer
	authKey string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewServer(runner Runner, q Enqueuer, authKey string, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runner: runner, queue: q, authKey: authKey, metrics: m, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /deals/{dealId}/sync", s.requireAuth(s.handleDealSync))
	mux.HandleFunc("POST /sync", s.requireAuth(s.handleFullSync))
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "ok")
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrapf(err, "http server on %s failed", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "failed to shut down http server")
		}
		return nil
	}
}

// requireAuth rejects requests whose Auth-Key does not match. An empty
// configured key rejects everything.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AuthHeader)
		if s.authKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.authKey)) != 1 {
			writeMessage(w, http.StatusUnauthorized, "Unauthorised")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleDealSync(w http.ResponseWriter, r *http.Request) {
	dealID := strings.TrimSpace(r.PathValue("dealId"))
	s.logger.Info("api deal sync", zap.String("deal_id", dealID))

	if err := s.runner.SingleDeal(r.Context(), models.EventDealAPI, dealID); err != nil {
		s.logger.Error("api deal sync failed", zap.String("deal_id", dealID), zap.Error(err))
		writeMessage(w, http.StatusBadRequest, "Failed to Sync Deal")
		return
	}
	writeMessage(w, http.StatusCreated, "Completed Sync for Deal: "+dealID)
}

func (s *Server) handleFullSync(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.StartManualSync(r.Context())
	if errors.Is(err, sync.ErrRunInProgress) {
		writeMessage(w, http.StatusCreated, "Already Sync In Progress")
		return
	}
	if err != nil {
		s.logger.Error("failed to start full sync", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to Start Sync")
		return
	}
	s.logger.Info("started full sync", zap.String("run_id", run.ID))
	writeMessage(w, http.StatusAccepted, "Accepted - Sync for all Deal")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Unreadable body")
		return
	}
	ids, err := WebhookDealIDs(body)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}
	if len(ids) == 0 {
		writeMessage(w, http.StatusOK, "No deal to sync")
		return
	}

	msg, err := s.queue.Enqueue(ids)
	if err != nil {
		s.logger.Error("failed to queue webhook", zap.Strings("deal_ids", ids), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to queue webhook")
		return
	}
	s.logger.Debug("queued webhook", zap.String("message_id", msg.ID), zap.Int("deals", len(ids)))
	writeMessage(w, http.StatusAccepted, "Queued")
}

// WebhookDealIDs extracts deal IDs from a webhook body: one object or an
// array of objects, each carrying hs_object_id (or objectId, as CRM
// subscriptions send it).
func WebhookDealIDs(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if body[0] == '[' {
		if err := dec.Decode(&records); err != nil {
			return nil, eris.Wrap(err, "failed to decode webhook array")
		}
	} else {
		var one map[string]any
		if err := dec.Decode(&one); err != nil {
			return nil, eris.Wrap(err, "failed to decode webhook object")
		}
		records = append(records, one)
	}

	var ids []string
	for _, rec := range records {
		if id := objectID(rec); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func objectID(rec map[string]any) string {
	for _, key := range []string{"hs_object_id", "objectId"} {
		switch v := rec[key].(type) {
		case json.Number:
			return v.String()
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
