package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"datachat/agent"
	"datachat/config"
	"datachat/database"
	"datachat/dbpool"
)

// server holds the wired services behind the HTTP surface.
type server struct {
	cfg       config.Config
	sessions  *database.SessionService
	messages  *database.MessageService
	sources   *database.DataSourceService
	models    *database.AIModelService
	knowledge *database.KnowledgeService
	registry  *dbpool.Registry
	schema    *agent.SchemaLoader
	retriever *agent.Retriever
	embedder  agent.Embedder
	orch      *agent.Orchestrator
}

// routes builds the chi router: open liveness and metrics endpoints, and the
// authenticated /api/v1 surface.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(countRequests)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondOK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authMiddleware(s.cfg.JWTSecret))

		api.Route("/chat", func(chat chi.Router) {
			chat.Post("/sessions", s.handleCreateSession)
			chat.Get("/sessions", s.handleListSessions)
			chat.Get("/sessions/{id}", s.handleGetSession)
			chat.Put("/sessions/{id}", s.handleUpdateSession)
			chat.Delete("/sessions/{id}", s.handleDeleteSession)

			chat.Post("/sessions/{id}/messages", s.handleSubmitTurn)
			chat.Get("/sessions/{id}/messages", s.handleListMessages)
			chat.Post("/sessions/{id}/cancel", s.handleCancelTurn)
			chat.Put("/sessions/{id}/messages/{mid}/chart-kind", s.handleUpdateChartKind)
			chat.Get("/sessions/{id}/export", s.handleExportSession)

			chat.Get("/datasources/{id}/tables", s.handleDataSourceTables)
			chat.Post("/datasources/test", s.handleTestDataSource)
		})

		api.Route("/datasources", func(ds chi.Router) {
			ds.Post("/", s.handleCreateDataSource)
			ds.Get("/", s.handleListDataSources)
			ds.Get("/{id}", s.handleGetDataSource)
			ds.Put("/{id}", s.handleUpdateDataSource)
			ds.Delete("/{id}", s.handleDeleteDataSource)
		})

		api.Route("/aimodels", func(m chi.Router) {
			m.Post("/", s.handleCreateAIModel)
			m.Get("/", s.handleListAIModels)
			m.Get("/{id}", s.handleGetAIModel)
			m.Put("/{id}", s.handleUpdateAIModel)
			m.Put("/{id}/default", s.handleSetDefaultAIModel)
			m.Delete("/{id}", s.handleDeleteAIModel)
		})

		api.Route("/knowledge", func(k chi.Router) {
			k.Post("/terms", s.handleCreateTerm)
			k.Get("/terms", s.handleListTerms)
			k.Delete("/terms/{id}", s.handleDeleteTerm)

			k.Post("/examples", s.handleCreateExample)
			k.Get("/examples", s.handleListExamples)
			k.Delete("/examples/{id}", s.handleDeleteExample)

			k.Post("/prompts", s.handleCreatePrompt)
			k.Get("/prompts", s.handleListPrompts)
			k.Delete("/prompts/{id}", s.handleDeletePrompt)

			k.Post("/articles", s.handleCreateArticle)
			k.Get("/articles", s.handleListArticles)
			k.Delete("/articles/{id}", s.handleDeleteArticle)
		})
	})

	return r
}

// corsMiddleware answers preflight and tags responses for the configured
// origins. "*" allows everything.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || allowed[origin]) {
				if wildcard {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pageParams reads page/page_size with sane bounds.
func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
