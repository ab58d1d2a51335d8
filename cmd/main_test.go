package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/ktrace/internal/config"
	"github.com/okian/ktrace/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

const registryYAML = `
concepts:
  - id: fractions
items:
  - id: "q1"
    kind: question
    concepts: [fractions]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.New()
	cfg.RegistryFile = path
	cfg.APIKey = "secret"
	cfg.WorkerCount = 2
	return cfg
}

func TestWiring(t *testing.T) {
	convey.Convey("Given a service assembled from configuration", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)
		log := logger.Get()

		svc, release, err := newService(ctx, cfg, log)
		convey.So(err, convey.ShouldBeNil)
		defer release()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := httptest.NewServer(newHandler(ctx, cfg, svc, log))
		defer srv.Close()

		post := func(path, body, key string) *http.Response {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+path, bytes.NewBufferString(body))
			convey.So(err, convey.ShouldBeNil)
			req.Header.Set("Content-Type", "application/json")
			if key != "" {
				req.Header.Set("Authorization", "Bearer "+key)
			}
			resp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			return resp
		}

		convey.Convey("When an attempt is traced with the API key", func() {
			resp := post("/api/trace", `{"attemptid":1,"userid":7,"courseid":3,
				"responses":[{"question_id":"q1","correct":true,"timestamp":"2024-01-01T10:00:00Z"}]}`, "secret")
			defer resp.Body.Close()

			convey.Convey("Then the mapped concept is evaluated", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				var body struct {
					Status         string `json:"status"`
					KnowledgeState struct {
						ConceptsEvaluated int `json:"concepts_evaluated"`
					} `json:"knowledge_state"`
				}
				convey.So(json.NewDecoder(resp.Body).Decode(&body), convey.ShouldBeNil)
				convey.So(body.Status, convey.ShouldEqual, "success")
				convey.So(body.KnowledgeState.ConceptsEvaluated, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the API key is missing", func() {
			resp := post("/api/trace", `{"attemptid":1,"userid":7,"courseid":3}`, "")
			defer resp.Body.Close()

			convey.Convey("Then the request is rejected", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusUnauthorized)
			})
		})

		convey.Convey("When the registry is reloaded from its file", func() {
			resp := post("/api/registry/reload", "", "secret")
			defer resp.Body.Close()

			convey.Convey("Then it succeeds", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When the public pages are requested", func() {
			for _, path := range []string{"/", "/openapi.yaml", "/api-docs", "/healthz", "/stats"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestHandlerAuth(t *testing.T) {
	convey.Convey("Given a handler assembled from configuration", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)
		log := logger.Get()
		svc, release, err := newService(ctx, cfg, log)
		convey.So(err, convey.ShouldBeNil)
		defer release()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		trace := func(h http.Handler) int {
			req := httptest.NewRequest(http.MethodPost, "/api/trace", bytes.NewBufferString(`{"attemptid":2,"userid":7,"courseid":3,
				"responses":[{"question_id":"q1","correct":true,"timestamp":"2024-01-01T10:00:00Z"}]}`))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w.Code
		}

		convey.Convey("When no api key is configured", func() {
			cfg.APIKey = ""

			convey.Convey("Then /api routes reject unauthenticated requests", func() {
				convey.So(trace(newHandler(ctx, cfg, svc, log)), convey.ShouldEqual, http.StatusUnauthorized)
			})
		})

		convey.Convey("When auth is explicitly disabled", func() {
			cfg.APIKey = ""
			cfg.AuthDisabled = true

			convey.Convey("Then /api routes are served without a key", func() {
				convey.So(trace(newHandler(ctx, cfg, svc, log)), convey.ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestWiringErrors(t *testing.T) {
	convey.Convey("Given configurations that cannot be assembled", t, func() {
		ctx := context.Background()

		convey.Convey("When the store driver is unknown", func() {
			cfg := config.New()
			cfg.StoreDriver = "tape"
			_, _, err := newService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the rule is unknown", func() {
			cfg := config.New()
			cfg.Rule = "coin"
			_, _, err := newService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the registry file is missing", func() {
			cfg := config.New()
			cfg.RegistryFile = filepath.Join(t.TempDir(), "missing.yaml")
			svc, release, err := newService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)
			defer release()

			convey.Convey("Then the service refuses to start", func() {
				convey.So(svc.Start(ctx), convey.ShouldNotBeNil)
			})
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
	})
}
