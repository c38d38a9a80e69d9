package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cinedeck/internal/config"
	"cinedeck/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     *httptest.Server
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/discover/movie":
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			results := make([]map[string]any, 0, 20)
			for i := range 20 {
				id := page*100 + i
				results = append(results, map[string]any{
					"id":           id,
					"title":        fmt.Sprintf("M%d", id),
					"release_date": "2001-05-04",
					"poster_path":  fmt.Sprintf("/p%d.jpg", id),
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"page": page, "total_pages": 3, "results": results})
		case strings.HasPrefix(r.URL.Path, "/movie/"):
			id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/movie/"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      id,
				"title":   fmt.Sprintf("M%d", id),
				"runtime": 110,
				"genres":  []map[string]any{{"id": 18, "name": "Drama"}},
			})
		case strings.HasPrefix(r.URL.Path, "/images/"):
			_, _ = w.Write(testsupport.Payload(2048))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithTMDBServer(server.URL), testsupport.WithPoolBounds(1000, 100, 10))
	cfg.Catalog.FillSize = 30

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, server: server}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func decodeJSON[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(output), &v); err != nil {
		t.Fatalf("decode %q: %v", output, err)
	}
	return v
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if !testsupport.FileExists(t, target) {
		t.Fatalf("expected config file at %s", target)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestDeckFillsPoolAndPoolShowListsIt(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"deck", "alice", "-n", "5", "-o", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("deck: %v", err)
	}
	views := decodeJSON[[]movieView](t, out)
	if len(views) != 5 {
		t.Fatalf("expected 5 movies, got %d", len(views))
	}
	if views[0].ID != 100 || views[0].Year != 2001 {
		t.Fatalf("unexpected head of deck: %+v", views[0])
	}
	requireContains(t, views[0].PosterURL, "/images/w500/p100.jpg")

	out, _, err = runCLI(t, []string{"pool", "show", "alice", "-o", "table"}, env.configPath)
	if err != nil {
		t.Fatalf("pool show: %v", err)
	}
	requireContains(t, out, "M100")

	out, _, err = runCLI(t, []string{"pool", "clear", "alice"}, env.configPath)
	if err != nil {
		t.Fatalf("pool clear: %v", err)
	}
	requireContains(t, out, "Cleared 30 pool entries")

	out, _, err = runCLI(t, []string{"pool", "show", "alice", "-o", "table"}, env.configPath)
	if err != nil {
		t.Fatalf("pool show after clear: %v", err)
	}
	requireContains(t, out, "No movies")
}

func TestSettingsSetTrimsPools(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"pool", "fill", "bob"}, env.configPath); err != nil {
		t.Fatalf("pool fill: %v", err)
	}
	out, _, err := runCLI(t, []string{"settings", "set", "max_pool_per_user=4", "poster_mode=local_proxy", "-o", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("settings set: %v", err)
	}
	settings := decodeJSON[map[string]any](t, out)
	if settings["max_pool_per_user"] != float64(4) || settings["poster_mode"] != "local_proxy" {
		t.Fatalf("unexpected settings: %v", settings)
	}

	out, _, err = runCLI(t, []string{"pool", "show", "bob", "-o", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("pool show: %v", err)
	}
	views := decodeJSON[[]movieView](t, out)
	if len(views) != 4 {
		t.Fatalf("expected pool trimmed to 4, got %d", len(views))
	}
	if !strings.HasPrefix(views[0].PosterURL, "/images/") {
		t.Fatalf("expected local proxy poster url, got %q", views[0].PosterURL)
	}

	if _, _, err := runCLI(t, []string{"settings", "set", "max_movies=0"}, env.configPath); err == nil {
		t.Fatal("expected invalid setting to fail")
	}
	if _, _, err := runCLI(t, []string{"settings", "set", "colour=blue"}, env.configPath); err == nil {
		t.Fatal("expected unknown key to fail")
	}

	out, _, err = runCLI(t, []string{"settings", "get", "-o", "table"}, env.configPath)
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	requireContains(t, out, "local_proxy")
}

func TestImagesFetchStatsAndPrune(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"images", "fetch", "--size", "w185", "/a.jpg", "/b.jpg"}, env.configPath)
	if err != nil {
		t.Fatalf("images fetch: %v", err)
	}
	requireContains(t, out, "/a.jpg: ")
	requireContains(t, out, "image/jpeg")

	out, _, err = runCLI(t, []string{"images", "stats", "-o", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("images stats: %v", err)
	}
	stats := decodeJSON[map[string]any](t, out)
	if stats["entries"] != float64(2) || stats["bytes"] != float64(4096) {
		t.Fatalf("unexpected stats: %v", stats)
	}

	out, _, err = runCLI(t, []string{"images", "prune", "--max", "3KiB"}, env.configPath)
	if err != nil {
		t.Fatalf("images prune: %v", err)
	}
	requireContains(t, out, "Removed 1 images")

	if _, _, err := runCLI(t, []string{"images", "fetch", "/missing/../x.jpg"}, env.configPath); err == nil {
		t.Fatal("expected traversal path to be rejected")
	}
}

func TestDetailsBackfillAndHealth(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"details", "42", "-o", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	details := decodeJSON[map[string]any](t, out)
	if details["title"] != "M42" {
		t.Fatalf("unexpected details: %v", details)
	}

	if _, _, err := runCLI(t, []string{"pool", "fill", "carol"}, env.configPath); err != nil {
		t.Fatalf("pool fill: %v", err)
	}
	out, _, err = runCLI(t, []string{"backfill", "-n", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	requireContains(t, out, "Updated 5")

	out, _, err = runCLI(t, []string{"maintain", "-o", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("maintain: %v", err)
	}
	report := decodeJSON[map[string]any](t, out)
	if _, ok := report["movies_evicted"]; !ok {
		t.Fatalf("missing catalog section: %v", report)
	}

	out, _, err = runCLI(t, []string{"health"}, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Integrity")
	requireContains(t, out, "Movies with details")

	if _, _, err := runCLI(t, []string{"details", "abc"}, env.configPath); err == nil {
		t.Fatal("expected invalid id to fail")
	}
}

func TestUnknownOutputFormatFails(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"settings", "get", "-o", "yaml"}, env.configPath); err == nil {
		t.Fatal("expected unknown output format to fail")
	}
}
