// Package upload pushes enhanced product images to the delivery service.
// Each upload is a multipart POST carrying the image bytes plus placement
// (folder, tags) and the derived-rendition directives. A client-side hourly
// window caps upload volume before the service ever sees the request.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/fetch"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/utils"
)

// Clock returns the current time. Injectable so the rate window is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// UploadResult is what the delivery service hands back for one image.
type UploadResult struct {
	PublicID     string
	URL          string
	ThumbnailURL string
}

// Client talks to the delivery service's upload endpoint.
type Client struct {
	httpClient *http.Client
	cfg        config.UploadConfig
	window     *rateWindow
	log        *logrus.Entry
}

// New creates an upload client. A nil clock means the system clock.
func New(cfg config.UploadConfig, clock Clock, logger *logrus.Logger) *Client {
	if clock == nil {
		clock = systemClock{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		window:     newRateWindow(cfg.RateLimitPerHour, clock),
		log:        logger.WithField("component", "upload"),
	}
}

// UploadImage sends one image file to the delivery service, placing it under
// the category/style folder with matching tags and requesting the standard
// derived renditions. The hourly window is charged before any bytes move;
// a full window returns ErrUploadRateLimited without touching the service.
func (c *Client) UploadImage(ctx context.Context, filePath string, category models.Category, style models.Style) (*UploadResult, error) {
	if err := c.window.take(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload source %q: %w", utils.ErrFilesystem, filePath, err)
	}

	body, contentType, err := c.buildForm(filepath.Base(filePath), data, category, style)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Content-Type", contentType)

	c.log.WithFields(logrus.Fields{
		"file":     filepath.Base(filePath),
		"category": category,
		"style":    style,
	}).Debug("Uploading image")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &fetch.HTTPStatusError{Code: resp.StatusCode, URL: c.cfg.Endpoint}
	}

	return parseUploadResponse(resp.Body)
}

// buildForm assembles the multipart payload: the file part plus the
// placement and transformation fields the service expects.
func (c *Client) buildForm(filename string, data []byte, category models.Category, style models.Style) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}

	fields := map[string]string{
		"folder":      c.folderFor(category, style),
		"tags":        strings.Join([]string{category.String(), style.String(), "jewelry"}, ","),
		"eager":       EagerDirectives(),
		"eager_async": "true",
	}
	if c.cfg.UploadPreset != "" {
		fields["upload_preset"] = c.cfg.UploadPreset
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("building upload form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// folderFor places an image under <base>/<category>/<style>.
func (c *Client) folderFor(category models.Category, style models.Style) string {
	base := c.cfg.Folder
	if base == "" {
		base = "jewelry"
	}
	return fmt.Sprintf("%s/%s/%s", base, category, style)
}

// parseUploadResponse decodes the service's JSON reply. The first eager
// rendition is the thumbnail preset, so its URL doubles as ThumbnailURL.
func parseUploadResponse(r io.Reader) (*UploadResult, error) {
	var body struct {
		PublicID  string `json:"public_id"`
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
		Eager     []struct {
			SecureURL string `json:"secure_url"`
			URL       string `json:"url"`
		} `json:"eager"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding upload response JSON: %w", utils.ErrParsing, err)
	}

	result := &UploadResult{
		PublicID: body.PublicID,
		URL:      body.SecureURL,
	}
	if result.URL == "" {
		result.URL = body.URL
	}
	if len(body.Eager) > 0 {
		result.ThumbnailURL = body.Eager[0].SecureURL
		if result.ThumbnailURL == "" {
			result.ThumbnailURL = body.Eager[0].URL
		}
	}
	return result, nil
}
