package images

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/fetch"
	"jewelry-scraper/pkg/models"
)

// fakeItemStore is an in-memory ItemStore for acquisition tests.
type fakeItemStore struct {
	mu     sync.Mutex
	items  map[string]*models.ItemDBEntry
	images map[string]*models.ImageDBEntry
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
	entry, ok := s.items[id]
	if !ok {
		return models.ItemStatusNotFound, nil, nil
	}
	return entry.Status, entry, nil
}

func (s *fakeItemStore) UpdateItem(id string, entry *models.ItemDBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = entry
	return nil
}

func (s *fakeItemStore) CheckImage(imageURL string) (models.ImageStatus, *models.ImageDBEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.images[imageURL]
	if !ok {
		return models.ImageStatusUnset, nil, nil
	}
	return entry.Status, entry, nil
}

func (s *fakeItemStore) UpdateImage(imageURL string, entry *models.ImageDBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[imageURL] = entry
	return nil
}

func (s *fakeItemStore) imageEntry(imageURL string) *models.ImageDBEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[imageURL]
}

// testAcquireConfig keeps the enhancement pass cheap: tiny minimum
// resolution, sharpening off.
func testAcquireConfig() *config.AppConfig {
	return &config.AppConfig{
		MaxRequestsPerHost:      4,
		MaxConcurrentImages:     4,
		SemaphoreAcquireTimeout: 2 * time.Second,
		MinImageResolution:      config.Resolution{Width: 64, Height: 64},
		ImageQualityEnhancement: 0,
		JPEGQuality:             85,
	}
}

func newTestAcquirer(store *fakeItemStore, cfg *config.AppConfig) *Acquirer {
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)
	limiter := fetch.NewRateLimiter(0, entry)
	hosts := fetch.NewHostLimiter(4, entry)
	fetcher := fetch.NewFetcher(&http.Client{Timeout: 5 * time.Second}, nil, hosts, limiter, cfg, log)
	return NewAcquirer(fetcher, store, nil, cfg, log)
}

// encodeJPEG renders a small checkerboard and returns it as JPEG bytes.
func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 120, G: 100, B: 80, A: 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 230, G: 210, B: 170, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)))
	return buf.Bytes()
}

// imageServer serves the same JPEG for every path and counts hits.
func imageServer(t *testing.T, jpeg []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpeg)
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func testItem(id string, imageURLs []string) *models.JewelryItem {
	return &models.JewelryItem{
		ID:        id,
		Title:     "Victorian Gold Locket",
		SourceURL: "https://shop.example.com/listing/" + id,
		Images:    imageURLs,
		Category:  models.CategoryNecklace,
		Style:     models.StyleAntique,
	}
}

func TestAcquire_SavesAllImagesInOrder(t *testing.T) {
	server, _ := imageServer(t, encodeJPEG(t, 40, 30))
	store := newFakeItemStore()
	acq := newTestAcquirer(store, testAcquireConfig())
	outDir := t.TempDir()

	urls := []string{server.URL + "/front.jpg", server.URL + "/back.jpg", server.URL + "/clasp.jpg"}
	item := testItem("cafe01", urls)

	saved := acq.Acquire(context.Background(), item, config.SiteConfig{}, outDir)
	require.Len(t, saved, 3)

	for i, s := range saved {
		filename := fmt.Sprintf("cafe01_%d.jpg", i)
		assert.Equal(t, i, s.Index)
		assert.Equal(t, urls[i], s.SourceURL)
		assert.Equal(t, "images/cafe01/"+filename, s.LocalPath)

		// Upscaled to at least the configured minimum.
		assert.GreaterOrEqual(t, s.Width, 64)
		assert.GreaterOrEqual(t, s.Height, 64)

		_, statErr := os.Stat(filepath.Join(outDir, "images", "cafe01", filename))
		assert.NoError(t, statErr, "image file %d should exist", i)
	}

	for _, u := range urls {
		entry := store.imageEntry(u)
		require.NotNil(t, entry)
		assert.Equal(t, models.ImageStatusSuccess, entry.Status)
		assert.Equal(t, "cafe01", entry.ItemID)
		assert.NotEmpty(t, entry.LocalPath)
	}
}

func TestAcquire_OneFailureLeavesOthersIntact(t *testing.T) {
	jpeg := encodeJPEG(t, 80, 80)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpeg)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := newFakeItemStore()
	acq := newTestAcquirer(store, testAcquireConfig())
	outDir := t.TempDir()

	urls := []string{server.URL + "/a.jpg", server.URL + "/gone.jpg", server.URL + "/c.jpg"}
	saved := acq.Acquire(context.Background(), testItem("deed02", urls), config.SiteConfig{}, outDir)

	require.Len(t, saved, 2)
	assert.Equal(t, 0, saved[0].Index)
	assert.Equal(t, 2, saved[1].Index)

	// The failed slot's file must not linger.
	_, statErr := os.Stat(filepath.Join(outDir, "images", "deed02", "deed02_1.jpg"))
	assert.True(t, os.IsNotExist(statErr))

	entry := store.imageEntry(urls[1])
	require.NotNil(t, entry)
	assert.Equal(t, models.ImageStatusFailure, entry.Status)
	assert.Equal(t, "HTTP_404", entry.ErrorType)
}

func TestAcquire_ReusesPreviousRunFile(t *testing.T) {
	server, hits := imageServer(t, encodeJPEG(t, 80, 80))
	store := newFakeItemStore()
	acq := newTestAcquirer(store, testAcquireConfig())
	outDir := t.TempDir()

	imgURL := server.URL + "/front.jpg"
	itemDir := filepath.Join(outDir, "images", "beef03")
	require.NoError(t, os.MkdirAll(itemDir, 0755))
	writeTestJPEG(t, filepath.Join(itemDir, "beef03_0.jpg"), 72, 96)
	require.NoError(t, store.UpdateImage(imgURL, &models.ImageDBEntry{
		Status:    models.ImageStatusSuccess,
		ItemID:    "beef03",
		LocalPath: "images/beef03/beef03_0.jpg",
	}))

	saved := acq.Acquire(context.Background(), testItem("beef03", []string{imgURL}), config.SiteConfig{}, outDir)

	require.Len(t, saved, 1)
	assert.Equal(t, 72, saved[0].Width)
	assert.Equal(t, 96, saved[0].Height)
	assert.EqualValues(t, 0, hits.Load(), "cached image must not be re-downloaded")
}

func TestAcquire_RedownloadsWhenCachedFileMissing(t *testing.T) {
	server, hits := imageServer(t, encodeJPEG(t, 80, 80))
	store := newFakeItemStore()
	acq := newTestAcquirer(store, testAcquireConfig())

	imgURL := server.URL + "/front.jpg"
	require.NoError(t, store.UpdateImage(imgURL, &models.ImageDBEntry{
		Status:    models.ImageStatusSuccess,
		ItemID:    "feed04",
		LocalPath: "images/feed04/feed04_0.jpg",
	}))

	saved := acq.Acquire(context.Background(), testItem("feed04", []string{imgURL}), config.SiteConfig{}, t.TempDir())

	require.Len(t, saved, 1)
	assert.EqualValues(t, 1, hits.Load())
}

func TestAcquire_SkipImagesShortCircuits(t *testing.T) {
	server, hits := imageServer(t, encodeJPEG(t, 80, 80))
	store := newFakeItemStore()
	skip := true
	cfg := testAcquireConfig()
	acq := newTestAcquirer(store, cfg)

	saved := acq.Acquire(context.Background(),
		testItem("f00d05", []string{server.URL + "/front.jpg"}),
		config.SiteConfig{SkipImages: &skip}, t.TempDir())

	assert.Nil(t, saved)
	assert.EqualValues(t, 0, hits.Load())
}

func TestAcquire_NonImageBodyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html>soft 404</html>")
	}))
	t.Cleanup(server.Close)

	store := newFakeItemStore()
	acq := newTestAcquirer(store, testAcquireConfig())
	outDir := t.TempDir()

	imgURL := server.URL + "/front.jpg"
	saved := acq.Acquire(context.Background(), testItem("dead06", []string{imgURL}), config.SiteConfig{}, outDir)

	assert.Empty(t, saved)
	entry := store.imageEntry(imgURL)
	require.NotNil(t, entry)
	assert.Equal(t, models.ImageStatusFailure, entry.Status)
	assert.Equal(t, "Content_ImageDecode", entry.ErrorType)
	_, statErr := os.Stat(filepath.Join(outDir, "images", "dead06", "dead06_0.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquire_EmptyImageListIsNoop(t *testing.T) {
	store := newFakeItemStore()
	acq := newTestAcquirer(store, testAcquireConfig())

	saved := acq.Acquire(context.Background(), testItem("ab07", nil), config.SiteConfig{}, t.TempDir())
	assert.Nil(t, saved)
}
