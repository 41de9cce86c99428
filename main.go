package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"datachat/agent"
	"datachat/config"
	"datachat/database"
	"datachat/dbpool"
	"datachat/logger"
	"datachat/secrets"
)

func main() {
	// .env is a convenience for local runs; real deployments set the
	// environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.Init(cfg.Log.Dir, cfg.Log.Level, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)

	cipher, err := secrets.NewCipher(cfg.SecretKey)
	if err != nil {
		log.Fatalf("cipher init failed: %v", err)
	}

	db, err := database.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("self-storage init failed: %v", err)
	}
	defer db.Close()

	sessions := database.NewSessionService(db)
	messages := database.NewMessageService(db)
	sources := database.NewDataSourceService(db, cipher)
	models := database.NewAIModelService(db, cipher)
	knowledge := database.NewKnowledgeService(db)

	registry := dbpool.NewRegistry(dbpool.PoolOptions{
		MaxOpenConns:    cfg.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		ConnMaxLifetime: cfg.Pool.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Pool.ConnMaxIdleTime,
		ProbeTimeout:    cfg.Pool.ProbeTimeout,
		ProbeRetries:    cfg.Pool.ProbeRetries,
	}, cipher, func(msg string) { logger.With("dbpool").Info(msg) })
	defer registry.Close()

	var embedder agent.Embedder
	if e := agent.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model); e != nil {
		embedder = e
	}

	retriever := agent.NewRetriever(knowledge, embedder, agent.RetrieverCaps{
		Terms:    cfg.Retrieval.TermLimit,
		Examples: cfg.Retrieval.ExampleLimit,
		Articles: cfg.Retrieval.ArticleLimit,
	}, cfg.Timeouts.Retrieval)
	knowledge.SetChangeHook(retriever.InvalidateIndex)

	schemaLoader := agent.NewSchemaLoader(cfg.SchemaCacheTTL, cfg.Timeouts.SchemaLoad)

	agent.RegisterAdapter(agent.NewOpenAIAdapter())
	agent.RegisterAdapter(agent.NewOpenAICompatibleAdapter())
	agent.RegisterAdapter(agent.NewAnthropicAdapter())
	agent.RegisterAdapter(agent.NewClaudeCompatibleAdapter())

	router := agent.NewRouter(agent.RouterOptions{
		MaxRetries:     cfg.LLM.MaxRetries,
		BackoffBase:    cfg.LLM.BackoffBase,
		BackoffCap:     cfg.LLM.BackoffCap,
		AttemptTimeout: cfg.Timeouts.LLMAttempt,
		OverallTimeout: cfg.Timeouts.LLMOverall,
		RateLimit:      cfg.LLM.RateLimit,
	})

	orch := agent.NewOrchestrator(agent.OrchestratorDeps{
		Sessions:  sessions,
		Messages:  messages,
		Sources:   sources,
		Models:    models,
		Knowledge: knowledge,
		Registry:  registry,
		Retriever: retriever,
		Schema:    schemaLoader,
		Validator: agent.NewValidator(cfg.SQLMaxLength),
		Executor:  agent.NewExecutor(cfg.RowLimit, cfg.Timeouts.SQLExec),
		Composer:  agent.NewComposer(cfg.PromptTokenBudget),
		Router:    router,
	}, agent.OrchestratorOptions{
		MaxConcurrentTurns: cfg.MaxConcurrentTurns,
		TurnTimeout:        cfg.Timeouts.Turn,
		HistoryTurns:       cfg.HistoryTurns,
	})

	srv := &server{
		cfg:       cfg,
		sessions:  sessions,
		messages:  messages,
		sources:   sources,
		models:    models,
		knowledge: knowledge,
		registry:  registry,
		schema:    schemaLoader,
		retriever: retriever,
		embedder:  embedder,
		orch:      orch,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown incomplete: %v", err)
	}
}
