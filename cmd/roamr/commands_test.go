package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/roamr/internal/client"
	"github.com/kalambet/roamr/internal/config"
	"github.com/kalambet/roamr/internal/feed"
	"github.com/kalambet/roamr/internal/saved"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys from responses. A key in
// failures answers with that status and an error envelope instead.
func newTestServer(t *testing.T, responses map[string]string, failures map[string]int) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		if code, ok := failures[key]; ok {
			w.WriteHeader(code)
			w.Write([]byte(`{"error":{"message":"boom","type":"api_error"}}`))
			return
		}
		if resp, ok := responses[key]; ok {
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

func (ts *testServer) find(method, path string) (recordedRequest, bool) {
	for _, r := range ts.recorded() {
		if r.Method == method && r.Path == path {
			return r, true
		}
	}
	return recordedRequest{}, false
}

// useServer points the client commands at ts with the given token.
func useServer(t *testing.T, ts *testServer, token string) config.Config {
	t.Helper()
	cfg := config.Config{
		Storage:   config.StorageConfig{DataDir: t.TempDir()},
		Client:    config.ClientConfig{BaseURL: ts.server.URL, Token: token},
		Feed:      config.FeedConfig{BaseURL: ts.server.URL, Origin: "LHR"},
		Telemetry: config.TelemetryConfig{QueueSize: 4, Workers: 1},
	}
	orig := newAppClient
	newAppClient = func() (*client.Client, config.Config, error) {
		return client.New(cfg.Client.BaseURL, cfg.Client.Token), cfg, nil
	}
	t.Cleanup(func() { newAppClient = orig })
	return cfg
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func loadSavedFile(t *testing.T, cfg config.Config) *saved.Cache {
	t.Helper()
	cache := saved.NewCache()
	if err := cache.LoadFile(savedCachePath(cfg)); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return cache
}

func TestLoadCatalog(t *testing.T) {
	valid := `[{"id":"bali","name":"Bali","features":{"beach":0.9,"city":0.2,"adventure":0.6,"culture":0.7,"nightlife":0.5,"nature":0.8,"food":0.8}}]`

	dests, err := loadCatalog(strings.NewReader(valid))
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(dests) != 1 || dests[0].ID != "bali" {
		t.Fatalf("got %+v", dests)
	}
	if dests[0].Features[0] != 0.9 || dests[0].Features[6] != 0.8 {
		t.Errorf("features = %v, want beach 0.9 and food 0.8", dests[0].Features)
	}

	invalid := map[string]string{
		"missing dimension": `[{"id":"x","features":{"beach":0.9,"city":0.2,"adventure":0.6,"culture":0.7,"nightlife":0.5,"nature":0.8}}]`,
		"unknown dimension": `[{"id":"x","features":{"beach":0.9,"city":0.2,"adventure":0.6,"culture":0.7,"nightlife":0.5,"nature":0.8,"ski":0.1}}]`,
		"out of range":      `[{"id":"x","features":{"beach":1.5,"city":0.2,"adventure":0.6,"culture":0.7,"nightlife":0.5,"nature":0.8,"food":0.8}}]`,
		"missing id":        `[{"features":{"beach":0.9,"city":0.2,"adventure":0.6,"culture":0.7,"nightlife":0.5,"nature":0.8,"food":0.8}}]`,
		"not json":          `{{`,
	}
	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			if _, err := loadCatalog(strings.NewReader(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSwipeCommand_RecordsView(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /swipes": `{"success":true}`,
	}, nil)
	useServer(t, ts, "test-token")

	if err := execute(t, "swipe", "bali", "--ms", "4000", "--price", "499"); err != nil {
		t.Fatalf("swipe: %v", err)
	}

	r, ok := ts.find("POST", "/swipes")
	if !ok {
		t.Fatal("no swipe recorded")
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["destinationId"] != "bali" || body["action"] != "viewed" {
		t.Errorf("body = %v, want bali viewed", body)
	}
	if body["timeSpentMs"] != float64(4000) {
		t.Errorf("timeSpentMs = %v, want 4000", body["timeSpentMs"])
	}
	if body["priceShown"] != float64(499) {
		t.Errorf("priceShown = %v, want 499", body["priceShown"])
	}
}

func TestSwipeCommand_ShortDwellIsSkip(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /swipes": `{"success":true}`,
	}, nil)
	useServer(t, ts, "test-token")

	if err := execute(t, "swipe", "lisbon", "--ms", "600"); err != nil {
		t.Fatalf("swipe: %v", err)
	}
	r, ok := ts.find("POST", "/swipes")
	if !ok {
		t.Fatal("no swipe recorded")
	}
	if !strings.Contains(r.Body, `"action":"skipped"`) {
		t.Errorf("body = %s, want skipped", r.Body)
	}
	if strings.Contains(r.Body, "priceShown") {
		t.Errorf("priceShown sent without --price: %s", r.Body)
	}
}

func TestSwipeCommand_GuestSendsNothing(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	useServer(t, ts, "")

	if err := execute(t, "swipe", "bali", "--ms", "4000"); err != nil {
		t.Fatalf("swipe: %v", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("guest made %d requests, want 0", n)
	}
}

func TestSwipeCommand_SaveAddsToSavedSet(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /swipes":     `{"success":true}`,
		"GET /saved":       `{"destinations":["rome"]}`,
		"PUT /saved/kyoto": `{"success":true}`,
	}, nil)
	cfg := useServer(t, ts, "test-token")

	if err := execute(t, "swipe", "kyoto", "--save", "--ms", "200"); err != nil {
		t.Fatalf("swipe: %v", err)
	}

	r, _ := ts.find("POST", "/swipes")
	if !strings.Contains(r.Body, `"action":"saved"`) {
		t.Errorf("body = %s, want saved regardless of dwell", r.Body)
	}
	if _, ok := ts.find("PUT", "/saved/kyoto"); !ok {
		t.Error("expected PUT /saved/kyoto")
	}

	cache := loadSavedFile(t, cfg)
	if !cache.Contains("kyoto") || !cache.Contains("rome") {
		t.Errorf("saved file = %v, want hydrated rome plus kyoto", cache.IDs())
	}
}

func TestSavedToggle_RollsBackOnFailure(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /saved": `{"destinations":[]}`,
	}, map[string]int{
		"PUT /saved/bali": http.StatusInternalServerError,
	})
	cfg := useServer(t, ts, "test-token")

	err := execute(t, "saved", "toggle", "bali")
	if !errors.Is(err, saved.ErrSync) {
		t.Fatalf("err = %v, want ErrSync", err)
	}

	cache := loadSavedFile(t, cfg)
	if cache.Contains("bali") {
		t.Error("failed save must be rolled back in the local file")
	}
}

func TestSavedToggle_UnsaveHydrated(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /saved":         `{"destinations":["bali","rome"]}`,
		"DELETE /saved/bali": `{"success":true}`,
	}, nil)
	cfg := useServer(t, ts, "test-token")

	if err := execute(t, "saved", "toggle", "bali"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, ok := ts.find("DELETE", "/saved/bali"); !ok {
		t.Error("expected DELETE /saved/bali")
	}
	ids := loadSavedFile(t, cfg).IDs()
	if len(ids) != 1 || ids[0] != "rome" {
		t.Errorf("saved file = %v, want [rome]", ids)
	}
}

func TestSavedList_GuestUsesLocalFile(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	cfg := useServer(t, ts, "")

	local := saved.NewCache()
	local.Set("porto", true)
	if err := local.SaveFile(savedCachePath(cfg)); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, "saved", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("guest made %d requests, want 0", n)
	}
	if !loadSavedFile(t, cfg).Contains("porto") {
		t.Error("local saved set lost")
	}
}

func TestPrefsShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /preferences": `{"user_id":"u1","preferences":{"beach":0.56,"city":0.5,"adventure":0.5,"culture":0.5,"nightlife":0.5,"nature":0.5,"food":0.5}}`,
	}, nil)
	useServer(t, ts, "test-token")

	if err := execute(t, "prefs", "show"); err != nil {
		t.Fatalf("prefs show: %v", err)
	}

	failing := newTestServer(t, nil, map[string]int{"GET /preferences": http.StatusUnauthorized})
	useServer(t, failing, "bad-token")
	var apiErr *client.APIError
	if err := execute(t, "prefs", "show"); !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Errorf("err = %v, want 401 APIError", err)
	}
}

func TestBrowseFeed_PaginatesWithPrefetch(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"destinations":[{"id":"a","name":"A"},{"id":"b","name":"B"},{"id":"c","name":"C","price":120}],"nextCursor":"p2"}`))
			return
		}
		w.Write([]byte(`{"destinations":[{"id":"d","name":"D"},{"id":"e","name":"E"}],"nextCursor":null}`))
	}))
	defer srv.Close()

	sess := feed.NewSession(feed.NewClient(srv.URL, ""), "LHR")
	var out bytes.Buffer
	shown, err := browseFeed(context.Background(), sess, 10, &out)
	if err != nil {
		t.Fatalf("browseFeed: %v", err)
	}
	if shown != 5 {
		t.Errorf("shown = %d, want 5", shown)
	}
	if !strings.Contains(out.String(), "5. ") || !strings.Contains(out.String(), "from 120") {
		t.Errorf("output = %q", out.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queries) != 2 {
		t.Fatalf("feed requests = %d, want 2", len(queries))
	}
	if strings.Contains(queries[0], "cursor=") {
		t.Errorf("first page sent a cursor: %s", queries[0])
	}
	if !strings.Contains(queries[1], "cursor=p2") || !strings.Contains(queries[1], "exclude=a") {
		t.Errorf("second page query = %s, want cursor and exclusions", queries[1])
	}
}

func TestBrowseFeed_StopsAtCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"destinations":[{"id":"a"},{"id":"b"},{"id":"c"},{"id":"d"},{"id":"e"},{"id":"f"}],"nextCursor":"more"}`))
	}))
	defer srv.Close()

	sess := feed.NewSession(feed.NewClient(srv.URL, ""), "LHR")
	shown, err := browseFeed(context.Background(), sess, 2, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("browseFeed: %v", err)
	}
	if shown != 2 {
		t.Errorf("shown = %d, want 2", shown)
	}
	if got := sess.Excluded(); len(got) != 2 {
		t.Errorf("excluded = %v, want the two cards shown", got)
	}
}

func TestFeedCommand_RequiresBaseURL(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	useServer(t, ts, "")
	orig := newAppClient
	newAppClient = func() (*client.Client, config.Config, error) {
		c, cfg, err := orig()
		cfg.Feed.BaseURL = ""
		return c, cfg, err
	}

	err := execute(t, "feed")
	if err == nil || !strings.Contains(err.Error(), "feed.base_url") {
		t.Errorf("err = %v, want feed.base_url error", err)
	}
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("ROAMR_SERVER_PORT", "")

	if err := execute(t, "config", "set", "server.port", "4555"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4555 {
		t.Errorf("Server.Port = %d, want 4555", cfg.Server.Port)
	}

	if err := execute(t, "config", "set", "auth.jwt_secret", "x"); err == nil {
		t.Error("expected error setting a secret through config set")
	}
	if err := execute(t, "config", "secret", "client.token", "tok"); err != nil {
		t.Fatalf("config secret: %v", err)
	}
	t.Setenv("ROAMR_TOKEN", "")
	cfg, _ = config.Load()
	if cfg.Client.Token != "tok" {
		t.Errorf("Client.Token = %q, want tok", cfg.Client.Token)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); result != "hello" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestScoreBar(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	cases := map[float64]int{0: 0, 0.5: 10, 0.56: 11, 1: 20, 1.4: 20}
	for score, want := range cases {
		bar := scoreBar(score)
		if len(bar) != 20 {
			t.Errorf("scoreBar(%v) width = %d, want 20", score, len(bar))
		}
		if got := strings.Count(bar, "#"); got != want {
			t.Errorf("scoreBar(%v) filled = %d, want %d", score, got, want)
		}
	}
}
