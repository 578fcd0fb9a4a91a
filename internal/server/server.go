package server

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/api"
)

// RouterOptions carries the cross-cutting handlers mounted next to the API.
type RouterOptions struct {
	// Gate protects the operator routes. Nil leaves them open.
	Gate func(http.Handler) http.Handler
	// Metrics serves the Prometheus exposition. Nil disables /metrics.
	Metrics http.Handler
}

// LoadOpenAPI parses and validates the embedded OpenAPI document.
func LoadOpenAPI() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(api.OpenAPISpec)
	if err != nil {
		return nil, fmt.Errorf("loading openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validating openapi document: %w", err)
	}
	return doc, nil
}

func NewRouter(server *Server, opts RouterOptions, logger *zap.Logger) (http.Handler, error) {
	// Load the OpenAPI document for validation
	swagger, err := LoadOpenAPI()
	if err != nil {
		return nil, err
	}
	swagger.Servers = nil // Allow any host

	gate := opts.Gate
	if gate == nil {
		gate = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Streaming and non-validated routes
	r.Get("/", server.WebSocket)
	r.Get("/ws", server.WebSocket)
	r.Get("/events", server.Events)
	r.Get("/openapi.yaml", openapiHandler)
	r.Get("/docs", swaggerUIHandler)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes with OpenAPI validation
	r.Group(func(apiRouter chi.Router) {
		apiRouter.Use(middleware.Compress(5))
		apiRouter.Use(oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
			Options: openapi3filter.Options{
				// Bearer tokens are checked by the gate.
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}))

		strictHandler := NewStrictHandler(server, nil)
		apiRouter.Get("/negotiate", strictHandler.Negotiate)
		apiRouter.Get("/healthz", strictHandler.GetHealth)

		apiRouter.Group(func(gated chi.Router) {
			gated.Use(gate)
			gated.Get("/status", strictHandler.GetStatus)
			gated.Get("/initialData", strictHandler.GetInitialData)
			gated.Post("/toggleSimulation", strictHandler.ToggleSimulation)
			gated.Get("/fix-data", strictHandler.FixData)
			gated.Get("/recent", strictHandler.GetRecent)
			gated.Post("/reload", strictHandler.Reload)
		})
	})

	return r, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "Set-Cookie")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQuery(r.URL.RawQuery)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// sensitiveParams are masked before a query string is logged.
var sensitiveParams = []string{"token", "access_token", "connectionToken", "key"}

// maskQuery masks credential parameters in a query string.
func maskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for _, name := range sensitiveParams {
		if v := values.Get(name); v != "" {
			if len(v) > 4 {
				values.Set(name, v[:4]+"****")
			} else {
				values.Set(name, "****")
			}
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range values[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

func openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}

func swaggerUIHandler(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Live Timing Relay</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "/openapi.yaml",
                dom_id: '#swagger-ui',
            });
        };
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(html))
}
