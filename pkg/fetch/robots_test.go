package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
)

func newTestRobotsHandler(client *http.Client) *RobotsHandler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)
	return NewRobotsHandler(client, NewRateLimiter(0, entry), &config.AppConfig{}, entry)
}

func robotsServer(t *testing.T, robotsBody string, robotsStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	fetches := &atomic.Int32{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.WriteHeader(robotsStatus)
		io.WriteString(w, robotsBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, fetches
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestRobotsAllowed_DisallowRule(t *testing.T) {
	server, _ := robotsServer(t, "User-agent: *\nDisallow: /private/\n", http.StatusOK)
	rh := newTestRobotsHandler(testClient(5 * time.Second))

	if rh.Allowed(context.Background(), mustParse(t, server.URL+"/private/rings"), "") {
		t.Error("expected /private/ to be disallowed")
	}
	if !rh.Allowed(context.Background(), mustParse(t, server.URL+"/rings/page/1"), "") {
		t.Error("expected /rings/ to be allowed")
	}
}

func TestRobotsAllowed_AgentSpecificRule(t *testing.T) {
	body := "User-agent: GemBot\nDisallow: /\n\nUser-agent: *\nAllow: /\n"
	server, _ := robotsServer(t, body, http.StatusOK)
	rh := newTestRobotsHandler(testClient(5 * time.Second))

	target := mustParse(t, server.URL+"/necklaces")
	if rh.Allowed(context.Background(), target, "GemBot") {
		t.Error("expected GemBot to be disallowed")
	}
	if !rh.Allowed(context.Background(), target, "Mozilla/5.0") {
		t.Error("expected other agents to be allowed")
	}
}

func TestRobotsAllowed_CachesPerHost(t *testing.T) {
	server, fetches := robotsServer(t, "User-agent: *\nAllow: /\n", http.StatusOK)
	rh := newTestRobotsHandler(testClient(5 * time.Second))

	for i := 0; i < 5; i++ {
		rh.Allowed(context.Background(), mustParse(t, server.URL+"/rings"), "")
	}
	if fetches.Load() != 1 {
		t.Errorf("expected 1 robots.txt fetch, got %d", fetches.Load())
	}
}

func TestRobotsAllowed_MissingFileAllows(t *testing.T) {
	server, _ := robotsServer(t, "", http.StatusNotFound)
	rh := newTestRobotsHandler(testClient(5 * time.Second))

	if !rh.Allowed(context.Background(), mustParse(t, server.URL+"/rings"), "") {
		t.Error("missing robots.txt must allow crawling")
	}
}

func TestRobotsAllowed_ServerErrorAllows(t *testing.T) {
	server, fetches := robotsServer(t, "", http.StatusInternalServerError)
	rh := newTestRobotsHandler(testClient(5 * time.Second))

	target := mustParse(t, server.URL+"/rings")
	if !rh.Allowed(context.Background(), target, "") {
		t.Error("unreachable robots.txt must allow crawling")
	}

	// The failure is cached too; no refetch storm against a broken host.
	rh.Allowed(context.Background(), target, "")
	if fetches.Load() != 1 {
		t.Errorf("expected failure to be cached, got %d fetches", fetches.Load())
	}
}

func TestRobotsAllowed_UnreachableHostAllows(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	rh := newTestRobotsHandler(testClient(time.Second))
	if !rh.Allowed(context.Background(), mustParse(t, serverURL+"/rings"), "") {
		t.Error("network failure on robots.txt must allow crawling")
	}
}
