package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sourcegraph/conc/pool"

	"github.com/comigor/whatsapp-relay/internal/agent"
	"github.com/comigor/whatsapp-relay/internal/config"
	"github.com/comigor/whatsapp-relay/internal/history"
	"github.com/comigor/whatsapp-relay/internal/journal"
	"github.com/comigor/whatsapp-relay/internal/logger"
	"github.com/comigor/whatsapp-relay/internal/whatsapp"
)

const maxWebhookBody = 1 << 20

// Pipeline is the core surface the HTTP layer drives.
type Pipeline interface {
	Handle(ctx context.Context, msg agent.Inbound) (agent.Outcome, error)
	History(sender string) []history.Turn
	ClearHistory(sender string) bool
	Stats() history.Stats
}

// Deliveries lists journal entries for operators.
type Deliveries interface {
	List(ctx context.Context, sender string, limit int) ([]journal.Entry, error)
}

// Server exposes the webhook, admin, health and metrics endpoints.
type Server struct {
	cfg        config.Config
	pipeline   Pipeline
	deliveries Deliveries
	metrics    http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New returns a Server. A non-positive Server.Workers is treated as 1.
// deliveries and metrics may be nil.
func New(cfg config.Config, pipeline Pipeline, deliveries Deliveries, metrics http.Handler) *Server {
	if cfg.Server.Workers <= 0 {
		cfg.Server.Workers = 1
	}
	return &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		deliveries: deliveries,
		metrics:    metrics,
	}
}

// Router builds the chi router serving every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Get("/debug", s.handleDebug)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	for _, path := range []string{"/webhook", "/webhook/"} {
		r.Get(path, s.handleVerify)
		r.Post(path, s.handleWebhook)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/stats", s.handleStats)
		r.Get("/conversations/{sender}", s.handleGetHistory)
		r.Delete("/conversations/{sender}", s.handleClearHistory)
		r.Get("/deliveries", s.handleListDeliveries)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "WhatsApp bot is running!",
		"phone_id":  s.cfg.WhatsApp.PhoneID,
		"endpoints": []string{"/webhook", "/webhook/"},
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"phone_id":     logger.Mask(s.cfg.WhatsApp.PhoneID, 10),
		"token":        logger.Mask(s.cfg.WhatsApp.Token, 10),
		"verify_token": logger.Mask(s.cfg.WhatsApp.VerifyToken, 3),
		"app_id":       logger.Mask(s.cfg.WhatsApp.AppID, 4),
		"model":        s.cfg.LLM.Model,
	})
}

// handleVerify answers the platform's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")
	if mode == "subscribe" && s.cfg.WhatsApp.VerifyToken != "" && token == s.cfg.WhatsApp.VerifyToken {
		logger.L.Info("webhook verified")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
		return
	}
	logger.L.Warn("webhook verification failed", "mode", mode)
	respondError(w, http.StatusForbidden, "verification_failed", "Verification failed")
}

// handleWebhook runs every text message of the delivery through the
// pipeline and answers once all of them finished. The platform expects a
// 200 even when processing fails, so errors only reach the log.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.L.Error("read body error", "err", err)
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	if secret := s.cfg.WhatsApp.AppSecret; secret != "" {
		if !whatsapp.VerifySignature(secret, body, r.Header.Get("X-Hub-Signature-256")) {
			logger.L.Warn("webhook signature mismatch")
			respondError(w, http.StatusUnauthorized, "invalid_signature", "signature mismatch")
			return
		}
	}

	var payload whatsapp.Webhook
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.L.Error("Error processing webhook", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	messages := payload.TextMessages()
	logger.L.Debug("webhook received", "object", payload.Object, "text_messages", len(messages))

	// Keep processing if the platform hangs up; each run is single-shot.
	ctx := context.WithoutCancel(r.Context())
	// Senders run in parallel; one sender's messages keep payload order.
	p := pool.New().WithMaxGoroutines(s.cfg.Server.Workers)
	for _, batch := range bySender(messages) {
		p.Go(func() {
			for _, m := range batch {
				logger.L.Info("Processing message", "sender", m.From, "message_id", m.MessageID)
				outcome, err := s.pipeline.Handle(ctx, agent.Inbound{From: m.From, MessageID: m.MessageID, Text: m.Text})
				if err != nil {
					logger.L.Error("Error handling text message", "sender", m.From, "message_id", m.MessageID, "outcome", outcome, "error", err)
				}
			}
		})
	}
	p.Wait()

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bySender splits messages into per-sender batches, ordered by each
// sender's first appearance.
func bySender(messages []whatsapp.TextMessage) [][]whatsapp.TextMessage {
	index := make(map[string]int, len(messages))
	var batches [][]whatsapp.TextMessage
	for _, m := range messages {
		i, ok := index[m.From]
		if !ok {
			i = len(batches)
			index[m.From] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], m)
	}
	return batches
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.Admin.Token
		if want != "" {
			got, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.pipeline.Stats())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")
	turns := s.pipeline.History(sender)
	respondJSON(w, http.StatusOK, map[string]any{
		"sender": sender,
		"turns":  turns,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")
	respondJSON(w, http.StatusOK, map[string]any{
		"sender":  sender,
		"cleared": s.pipeline.ClearHistory(sender),
	})
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "delivery journal not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.deliveries.List(r.Context(), r.URL.Query().Get("sender"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": entries})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
