package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/metrics"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/utils"
)

const testSecret = "cafe-secret"

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeItemStore is an in-memory ItemStore for callback tests.
type fakeItemStore struct {
	mu     sync.Mutex
	items  map[string]*models.ItemDBEntry
	images map[string]*models.ImageDBEntry
	err    error // returned by every method when set
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{
		items:  make(map[string]*models.ItemDBEntry),
		images: make(map[string]*models.ImageDBEntry),
	}
}

func (s *fakeItemStore) CheckItem(id string) (models.ItemStatus, *models.ItemDBEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.ItemStatusUnset, nil, s.err
	}
	entry, ok := s.items[id]
	if !ok {
		return models.ItemStatusNotFound, nil, nil
	}
	return entry.Status, entry, nil
}

func (s *fakeItemStore) UpdateItem(id string, entry *models.ItemDBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items[id] = entry
	return nil
}

func (s *fakeItemStore) CheckImage(imageURL string) (models.ImageStatus, *models.ImageDBEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.ImageStatusUnset, nil, s.err
	}
	entry, ok := s.images[imageURL]
	if !ok {
		return models.ImageStatusUnset, nil, nil
	}
	return entry.Status, entry, nil
}

func (s *fakeItemStore) UpdateImage(imageURL string, entry *models.ImageDBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.images[imageURL] = entry
	return nil
}

func (s *fakeItemStore) itemEntry(id string) *models.ItemDBEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id]
}

func (s *fakeItemStore) imageEntry(imageURL string) *models.ImageDBEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[imageURL]
}

func newTestServer(store *fakeItemStore) *Server {
	cfg := config.WebhookConfig{Addr: ":0", Secret: testSecret}
	return NewServer(cfg, store, nil, testLogger())
}

// post sends body to /webhook signed with secret; an empty secret skips the
// signature header entirely.
func post(t *testing.T, s *Server, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SignatureHeader, utils.SignHMACSHA256([]byte(secret), []byte(body)))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func callbackBody(t *testing.T, payload map[string]any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(data)
}

func TestServer_AppliesSignedCallback(t *testing.T) {
	store := newFakeItemStore()
	store.items["item-1"] = &models.ItemDBEntry{
		Status:       models.ItemStatusSuccess,
		DeliveryURLs: []string{"https://cdn.example/jewelry/a.jpg"},
	}
	s := newTestServer(store)

	body := callbackBody(t, map[string]any{
		"event":      "eager",
		"public_id":  "jewelry/ring/vintage/a",
		"item_id":    "item-1",
		"secure_url": "https://cdn.example/jewelry/a_enhanced.jpg",
	})
	rec := post(t, s, body, testSecret)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	entry := store.itemEntry("item-1")
	require.NotNil(t, entry)
	assert.Equal(t, []string{
		"https://cdn.example/jewelry/a.jpg",
		"https://cdn.example/jewelry/a_enhanced.jpg",
	}, entry.DeliveryURLs)
}

func TestServer_DuplicateURLIsNotAppendedTwice(t *testing.T) {
	store := newFakeItemStore()
	store.items["item-1"] = &models.ItemDBEntry{Status: models.ItemStatusSuccess}
	s := newTestServer(store)

	body := callbackBody(t, map[string]any{
		"event":      "eager",
		"public_id":  "jewelry/ring/vintage/a",
		"item_id":    "item-1",
		"secure_url": "https://cdn.example/jewelry/a.jpg",
	})
	require.Equal(t, http.StatusOK, post(t, s, body, testSecret).Code)
	require.Equal(t, http.StatusOK, post(t, s, body, testSecret).Code)

	assert.Len(t, store.itemEntry("item-1").DeliveryURLs, 1)
}

func TestServer_UpdatesImageRenditions(t *testing.T) {
	store := newFakeItemStore()
	store.images["https://gemshop.example/img/a.jpg"] = &models.ImageDBEntry{
		Status: models.ImageStatusSuccess,
		ItemID: "item-1",
	}
	s := newTestServer(store)

	body := callbackBody(t, map[string]any{
		"event":      "eager",
		"public_id":  "jewelry/ring/vintage/a",
		"image_url":  "https://gemshop.example/img/a.jpg",
		"secure_url": "https://cdn.example/jewelry/a.jpg",
		"eager": []map[string]any{
			{"secure_url": "https://cdn.example/jewelry/a_thumb.jpg"},
			{"secure_url": "https://cdn.example/jewelry/a_detail.jpg"},
		},
	})
	require.Equal(t, http.StatusOK, post(t, s, body, testSecret).Code)

	entry := store.imageEntry("https://gemshop.example/img/a.jpg")
	require.NotNil(t, entry)
	assert.Equal(t, "https://cdn.example/jewelry/a.jpg", entry.DeliveryURL)
	assert.Equal(t, "https://cdn.example/jewelry/a_thumb.jpg", entry.ThumbnailURL)
	assert.Equal(t, "item-1", entry.ItemID, "existing entry fields survive the update")
}

func TestServer_RejectsMissingSignature(t *testing.T) {
	store := newFakeItemStore()
	s := newTestServer(store)

	body := callbackBody(t, map[string]any{"event": "eager", "item_id": "item-1", "secure_url": "https://x"})
	rec := post(t, s, body, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, store.itemEntry("item-1"), "unauthenticated callbacks never touch the store")
}

func TestServer_RejectsWrongSecret(t *testing.T) {
	s := newTestServer(newFakeItemStore())

	body := callbackBody(t, map[string]any{"event": "eager"})
	rec := post(t, s, body, "some-other-secret")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_MalformedBody(t *testing.T) {
	s := newTestServer(newFakeItemStore())

	t.Run("signed garbage is a 400", func(t *testing.T) {
		rec := post(t, s, "{not json", testSecret)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsigned garbage is still a 401", func(t *testing.T) {
		rec := post(t, s, "{not json", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestServer_UnknownItemIsAcknowledged(t *testing.T) {
	s := newTestServer(newFakeItemStore())

	body := callbackBody(t, map[string]any{
		"event":      "eager",
		"item_id":    "never-crawled",
		"secure_url": "https://cdn.example/x.jpg",
	})
	rec := post(t, s, body, testSecret)

	// Acknowledge so the service stops retrying a notification we can
	// never apply.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StoreFailureAsksForRetry(t *testing.T) {
	store := newFakeItemStore()
	store.err = errors.New("disk on fire")
	s := newTestServer(store)

	body := callbackBody(t, map[string]any{
		"event":      "eager",
		"item_id":    "item-1",
		"secure_url": "https://cdn.example/x.jpg",
	})
	rec := post(t, s, body, testSecret)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(newFakeItemStore())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_MetricsRouteIsOptIn(t *testing.T) {
	get := func(s *Server) int {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("enabled with a registry", func(t *testing.T) {
		cfg := config.WebhookConfig{Addr: ":0", Secret: testSecret, EnableMetrics: true}
		s := NewServer(cfg, newFakeItemStore(), metrics.New(), testLogger())
		assert.Equal(t, http.StatusOK, get(s))
	})

	t.Run("disabled by default", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(newTestServer(newFakeItemStore())))
	})

	t.Run("enabled without a registry stays off", func(t *testing.T) {
		cfg := config.WebhookConfig{Addr: ":0", Secret: testSecret, EnableMetrics: true}
		s := NewServer(cfg, newFakeItemStore(), nil, testLogger())
		assert.Equal(t, http.StatusNotFound, get(s))
	})
}
