// Package webhook serves the enhancement-service callback endpoint. The
// delivery service POSTs signed JSON notifications when asynchronous
// transformations finish; valid ones are folded back into the item store so
// delivery URLs stay current without polling.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/metrics"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/storage"
	"jewelry-scraper/pkg/utils"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Callback bodies are tiny; anything bigger is not from the service.
const maxCallbackBytes = 1 << 20

// Server verifies and applies delivery callbacks.
type Server struct {
	cfg    config.WebhookConfig
	store  storage.ItemStore
	log    *logrus.Entry
	router chi.Router
}

// NewServer wires the callback routes. store may be nil to run
// verify-and-log only; metrics may be nil, which disables /metrics even
// when enabled in config.
func NewServer(cfg config.WebhookConfig, store storage.ItemStore, m *metrics.Metrics, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		log:   logger.WithField("component", "webhook"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/webhook", s.handleCallback)
	if cfg.EnableMetrics && m != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("Webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("Webhook server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// callbackPayload is the notification format of the delivery service. Only
// the fields the store needs are decoded; the rest of the body is ignored.
type callbackPayload struct {
	Event        string        `json:"event"`
	ResourceType string        `json:"resource_type,omitempty"`
	PublicID     string        `json:"public_id"`
	ItemID       string        `json:"item_id,omitempty"`
	ImageURL     string        `json:"image_url,omitempty"`
	SecureURL    string        `json:"secure_url,omitempty"`
	Eager        []eagerResult `json:"eager,omitempty"`
}

type eagerResult struct {
	SecureURL string `json:"secure_url"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCallback authenticates then applies one notification. The signature
// is checked over the raw bytes before any parsing, so malformed JSON from
// an unauthenticated sender never gets past the 401.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" || !utils.VerifyHMACSHA256([]byte(s.cfg.Secret), body, sig) {
		s.log.Warn("Callback rejected: missing or invalid signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"event":     payload.Event,
		"public_id": payload.PublicID,
	})
	log.Info("Delivery callback received")

	if err := s.apply(payload); err != nil {
		// 5xx makes the service retry the notification later.
		log.WithError(err).Error("Callback state update failed")
		writeError(w, http.StatusInternalServerError, "state update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// apply folds one verified notification into the item store.
func (s *Server) apply(p callbackPayload) error {
	if s.store == nil {
		return nil
	}

	if p.ItemID != "" && p.SecureURL != "" {
		status, entry, err := s.store.CheckItem(p.ItemID)
		if err != nil {
			return err
		}
		switch {
		case status == models.ItemStatusNotFound || entry == nil:
			// Not an error: callbacks can outlive state wiped by a fresh run.
			s.log.WithField("item_id", p.ItemID).Warn("Callback for unknown item")
		case !slices.Contains(entry.DeliveryURLs, p.SecureURL):
			entry.DeliveryURLs = append(entry.DeliveryURLs, p.SecureURL)
			if err := s.store.UpdateItem(p.ItemID, entry); err != nil {
				return err
			}
		}
	}

	if p.ImageURL != "" {
		_, entry, err := s.store.CheckImage(p.ImageURL)
		if err != nil {
			return err
		}
		if entry == nil {
			entry = &models.ImageDBEntry{
				Status: models.ImageStatusSuccess,
				ItemID: p.ItemID,
			}
		}
		if p.SecureURL != "" {
			entry.DeliveryURL = p.SecureURL
		}
		if len(p.Eager) > 0 && p.Eager[0].SecureURL != "" {
			entry.ThumbnailURL = p.Eager[0].SecureURL
		}
		entry.LastAttempt = time.Now()
		return s.store.UpdateImage(p.ImageURL, entry)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Webhook response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
