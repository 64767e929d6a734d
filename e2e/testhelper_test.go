package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/recapbook/api/internal/auth"
	"github.com/recapbook/api/internal/cache"
	"github.com/recapbook/api/internal/client"
	"github.com/recapbook/api/internal/config"
	"github.com/recapbook/api/internal/generation"
	"github.com/recapbook/api/internal/handler"
	"github.com/recapbook/api/internal/lock"
	"github.com/recapbook/api/internal/middleware"
	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
	"github.com/recapbook/api/internal/service"
	"github.com/recapbook/api/internal/store"
	"github.com/recapbook/api/internal/tracker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	store      *store.FSStore
	dispatcher *service.LocalDispatcher
}

// setupApp wires a Fiber app the way main.go does, backed by an in-process
// Redis, a temporary artifact directory and the mock text generator.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithGenerator(t, client.MockGenerator{})
}

func setupAppWithGenerator(t *testing.T, generator client.TextGenerator) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			PerTaskTimeout:   time.Second,
			GlobalDeadline:   3 * time.Second,
			MediaWaitTimeout: 300 * time.Millisecond,
			PollInterval:     10 * time.Millisecond,
			LockTTL:          time.Minute,
		},
		Status:  config.StatusConfig{TTL: 20 * time.Millisecond},
		Quality: config.QualityConfig{MinWords: 5, MaxEmphasis: 3},
	}

	artifacts, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	plans, err := plan.NewRegistry()
	if err != nil {
		t.Fatalf("failed to load plans: %v", err)
	}

	tr := tracker.New(tracker.NewRedisLog(redisClient), artifacts, cfg.Pipeline.PollInterval)
	scheduler := generation.NewScheduler(generator, generation.NewGate(cfg.Quality), cfg.Pipeline)
	buildService := service.NewBuildService(
		tr,
		artifacts,
		plans,
		scheduler,
		lock.NewRedisLocker(redisClient, cfg.Pipeline.LockTTL),
		cache.NewMemoryCache(),
		cfg,
	)
	dispatcher := service.NewLocalDispatcher(buildService)
	buildService.SetDispatcher(dispatcher)
	t.Cleanup(dispatcher.Wait)

	runHandler := handler.NewRunHandler(buildService, validator.New())
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": fiber.Map{"redis": true, "storage": "fs", "llm": "mock"},
		})
	})

	api := app.Group("/api", middleware.Principal(auth.NewHMACVerifier(testJWTSecret)))
	api.Post("/runs", runHandler.Create)
	api.Post("/runs/:runId/build", rateLimiter.BuildLimit(10000), runHandler.Build)
	api.Get("/runs/:runId/status", runHandler.Status)
	api.Get("/runs/:runId/document", runHandler.Document)

	return &testApp{app: app, store: artifacts, dispatcher: dispatcher}
}

// collect plays the part of the collector: it writes the source blob and
// the media pool for ref.
func (ta *testApp) collect(t *testing.T, ref string, media int) {
	t.Helper()
	ctx := context.Background()
	items := []model.SourceItem{
		{ID: "1", Caption: "Sunrise swim before anyone else was awake", Location: "Lisbon", Hashtags: []string{"#sea"}},
		{ID: "2", Caption: "Tram 28 all the way up the hill", Location: "Lisbon", Hashtags: []string{"#city"}},
		{ID: "3", Caption: "Port tasting by the river", Location: "Porto", Hashtags: []string{"#sea"}},
	}
	if err := ta.store.PutSource(ctx, ref, items); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	for i := 0; i < media; i++ {
		if err := ta.store.AddMedia(ctx, ref, fmt.Sprintf("%02d.jpg", i), strings.NewReader("jpeg")); err != nil {
			t.Fatalf("failed to write media: %v", err)
		}
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.NewHMACVerifier(testJWTSecret).Sign(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, "test-user-123"),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// waitForStage polls the status endpoint until stage is reported.
func waitForStage(t *testing.T, app *fiber.App, runID, stage string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doRequest(app, http.MethodGet, "/api/runs/"+runID+"/status", "", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		last = parseJSON(t, resp)
		if last["stage"] == stage {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach %s within %s, last status: %v", runID, stage, timeout, last)
	return nil
}
