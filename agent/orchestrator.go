package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"datachat/database"
	"datachat/dbpool"
	"datachat/logger"
)

// TurnInput is one user submission: a natural-language question, or an
// edited SQL statement the user asserts (which skips retrieval, composition
// and the model entirely and enters at validation).
type TurnInput struct {
	SessionID string
	UserID    string
	Question  string
	EditedSQL string
}

// OrchestratorDeps wires the pipeline components and stores.
type OrchestratorDeps struct {
	Sessions  *database.SessionService
	Messages  *database.MessageService
	Sources   *database.DataSourceService
	Models    *database.AIModelService
	Knowledge *database.KnowledgeService
	Registry  *dbpool.Registry
	Retriever *Retriever
	Schema    *SchemaLoader
	Validator *Validator
	Executor  *Executor
	Composer  *Composer
	Router    *Router
}

// OrchestratorOptions bounds turn concurrency and duration.
type OrchestratorOptions struct {
	MaxConcurrentTurns int
	TurnTimeout        time.Duration
	HistoryTurns       int
	RecommendCount     int
}

// Orchestrator drives one turn through the pipeline: retrieve, compose,
// call, validate, execute, shape, persist. Turns within a session are
// serialized; a second submission while one is in flight is rejected with
// SessionBusy. Turns across sessions run in parallel under a global bound.
type Orchestrator struct {
	deps OrchestratorDeps
	opts OrchestratorOptions

	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(deps OrchestratorDeps, opts OrchestratorOptions) *Orchestrator {
	if opts.MaxConcurrentTurns <= 0 {
		opts.MaxConcurrentTurns = 32
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 120 * time.Second
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 5
	}
	if opts.RecommendCount <= 0 {
		opts.RecommendCount = 5
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentTurns)),
		inFlight: make(map[string]context.CancelFunc),
	}
}

// Cancel aborts the in-flight turn of a session, if any. The turn persists
// its message with ErrorText "cancelled".
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.inFlight[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Ask runs one turn. On pipeline failures past the model call the assistant
// message is still persisted (with the generated SQL and the error) and
// returned alongside the error so the user can edit and retry.
func (o *Orchestrator) Ask(ctx context.Context, in TurnInput) (*database.Message, error) {
	if strings.TrimSpace(in.Question) == "" && strings.TrimSpace(in.EditedSQL) == "" {
		return nil, Fail("receive", KindInvalidRequest, fmt.Errorf("question or edited_sql is required"))
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)

	o.mu.Lock()
	if _, busy := o.inFlight[in.SessionID]; busy {
		o.mu.Unlock()
		cancel()
		return nil, Fail("receive", KindSessionBusy, fmt.Errorf("a turn is already in flight for this session"))
	}
	o.inFlight[in.SessionID] = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, in.SessionID)
		o.mu.Unlock()
		cancel()
	}()

	if err := o.sem.Acquire(turnCtx, 1); err != nil {
		return nil, Fail("receive", KindCancelled, err)
	}
	defer o.sem.Release(1)

	start := time.Now()
	msg, err := o.runTurn(turnCtx, in, start)
	if msg != nil {
		msg.LatencySeconds = time.Since(start).Seconds()
	}
	switch {
	case err == nil:
		turnsTotal.WithLabelValues("answered").Inc()
	case msg != nil:
		turnsTotal.WithLabelValues("user_fix").Inc()
	default:
		turnsTotal.WithLabelValues("failed").Inc()
	}
	turnDuration.Observe(time.Since(start).Seconds())
	return msg, err
}

func (o *Orchestrator) runTurn(ctx context.Context, in TurnInput, start time.Time) (*database.Message, error) {
	log := logger.With("orchestrator").WithField("session_id", in.SessionID)

	session, err := o.deps.Sessions.Get(in.SessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, Fail("receive", KindInvalidRequest, fmt.Errorf("session %s not found", in.SessionID))
	}
	if err != nil {
		return nil, Fail("receive", KindInternal, err)
	}

	source, err := o.deps.Sources.Get(session.DataSourceID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, Fail("receive", KindInvalidRequest, fmt.Errorf("data source %s not found", session.DataSourceID))
	}
	if err != nil {
		return nil, Fail("receive", KindInternal, err)
	}
	if !source.Active {
		return nil, Fail("receive", KindInvalidRequest, fmt.Errorf("data source %s is disabled", source.ID))
	}

	userContent := in.Question
	if userContent == "" {
		userContent = in.EditedSQL
	}
	userMsg := &database.Message{SessionID: session.ID, Role: "user", Content: userContent}
	if err := o.deps.Messages.Append(userMsg); err != nil {
		if errors.Is(err, database.ErrSessionArchived) {
			return nil, Fail("receive", KindInvalidRequest, err)
		}
		return nil, Fail("receive", KindInternal, err)
	}

	assistant := &database.Message{SessionID: session.ID, Role: "assistant"}

	db, dialect, err := o.deps.Registry.Acquire(ctx, source.ID, connConfig(source))
	if err != nil {
		var unreachable *dbpool.ErrUnreachable
		kind := KindInternal
		if errors.As(err, &unreachable) {
			kind = KindDataSourceUnreachable
		}
		return o.persistFailure(assistant, "", Fail("connect", kind, err), log)
	}

	var reply *Reply
	var schemaTables []TableSchema

	if in.EditedSQL != "" {
		// the user asserts this SQL; it enters at validation untouched
		reply = &Reply{SQL: in.EditedSQL}
	} else {
		reply, schemaTables, err = o.generate(ctx, in, session, db, dialect, assistant, log)
		if err != nil {
			return o.persistFailure(assistant, "", err, log)
		}
	}

	assistant.SQL = reply.SQL
	assistant.Content = reply.Explanation
	assistant.ContainsComplexSQL = reply.Complex
	if len(reply.SecondarySQL) > 0 {
		assistant.Content = strings.TrimSpace(assistant.Content +
			"\n\nThe reply included additional non-read statements. Execute them manually if intended:\n" +
			strings.Join(reply.SecondarySQL, "\n"))
	}
	for _, t := range schemaTables {
		if !t.Found {
			assistant.Content = strings.TrimSpace(assistant.Content +
				fmt.Sprintf("\n\nWarning: table %s was not found in the data source.", t.Name))
		}
	}

	vres, err := o.deps.Validator.Validate(reply.SQL, dialect.Name())
	if err != nil {
		return o.persistFailure(assistant, reply.SQL, err, log)
	}

	execSQL, args, err := BindParams(vres.NormalizedSQL, dialect.Name(), vres.ParamNames, reply.Params)
	if err != nil {
		return o.persistFailure(assistant, reply.SQL, err, log)
	}

	execStart := time.Now()
	preview, err := o.deps.Executor.Execute(ctx, db, dialect, execSQL, args)
	sqlDuration.WithLabelValues(dialect.Name()).Observe(time.Since(execStart).Seconds())
	if err != nil {
		return o.persistFailure(assistant, reply.SQL, err, log)
	}
	sqlRows.Observe(float64(len(preview.Rows)))

	assistant.Result = preview
	assistant.ChartKind, assistant.ChartConfig = InferChart(reply.ChartKind, in.Question, preview)
	if in.Question != "" {
		assistant.RecommendedQuestions = o.deps.Retriever.Recommend(in.Question, o.opts.RecommendCount)
	}
	assistant.LatencySeconds = time.Since(start).Seconds()

	if err := o.deps.Messages.Append(assistant); err != nil {
		return nil, Fail("persist", KindInternal, err)
	}
	log.WithField("message_id", assistant.ID).Infof("turn answered in %.2fs, %d rows", time.Since(start).Seconds(), len(preview.Rows))
	return assistant, nil
}

// generate runs the model half of the turn: retrieval, schema and history in
// parallel, then composition, then the provider call, then reply parsing.
func (o *Orchestrator) generate(ctx context.Context, in TurnInput, session *database.Session, db *sql.DB, dialect dbpool.Dialect, assistant *database.Message, log *logrus.Entry) (*Reply, []TableSchema, error) {
	model, err := o.deps.Models.Default()
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, Fail("compose", KindModelUnavailable, fmt.Errorf("no active default AI model is configured"))
	}
	if err != nil {
		return nil, nil, Fail("compose", KindInternal, err)
	}
	apiKey, err := o.deps.Models.APIKey(model)
	if err != nil {
		return nil, nil, Fail("compose", KindInternal, err)
	}

	var (
		retrieval    *Retrieval
		schemaTables []TableSchema
		history      []database.Message
		prompts      []database.Prompt
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var rerr error
		retrieval, rerr = o.deps.Retriever.Retrieve(gctx, in.Question, dialect.Name())
		return rerr
	})
	g.Go(func() error {
		var serr error
		schemaTables, serr = o.deps.Schema.Load(gctx, session.DataSourceID, db, dialect, session.SelectedTables)
		return serr
	})
	g.Go(func() error {
		var herr error
		history, herr = o.deps.Messages.Recent(session.ID, o.opts.HistoryTurns*2)
		if herr != nil {
			return Fail("retrieve", KindInternal, herr)
		}
		prompts, herr = o.deps.Knowledge.ActivePrompts()
		if herr != nil {
			return Fail("retrieve", KindInternal, herr)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// the user turn just written must not echo into the prompt history
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		history = history[:n-1]
	}

	prompt := o.deps.Composer.Compose(ComposeInput{
		Question: in.Question,
		Dialect:  dialect,
		Schema:   schemaTables,
		Context:  retrieval,
		History:  history,
		Prompts:  prompts,
	})

	inv, err := o.deps.Router.Invoke(ctx, ModelConfig{
		Provider:    model.Provider,
		APIKey:      apiKey,
		BaseURL:     model.BaseURL,
		Model:       model.Model,
		MaxTokens:   model.MaxTokens,
		Temperature: model.Temperature,
	}, prompt)
	if err != nil {
		return nil, schemaTables, err
	}
	assistant.TokensUsed = inv.TokensUsed

	reply, err := ParseReply(inv.Text)
	if err != nil {
		return nil, schemaTables, err
	}
	log.Debugf("model replied with %d tokens in %.2fs", inv.TokensUsed, inv.Latency.Seconds())
	return reply, schemaTables, nil
}

// persistFailure stores the assistant message with the failing SQL and the
// error text, so the user can inspect and retry with an edit. Cancellation
// is persisted as the literal "cancelled".
func (o *Orchestrator) persistFailure(assistant *database.Message, sqlText string, turnErr error, log *logrus.Entry) (*database.Message, error) {
	assistant.SQL = sqlText
	if KindOf(turnErr) == KindCancelled {
		assistant.ErrorText = "cancelled"
	} else {
		assistant.ErrorText = logger.Redact(turnErr.Error())
	}
	if err := o.deps.Messages.Append(assistant); err != nil {
		log.Warnf("failed to persist failure message: %v", err)
		return nil, turnErr
	}
	return assistant, turnErr
}

func connConfig(ds *database.DataSource) dbpool.ConnConfig {
	return dbpool.ConnConfig{
		Dialect:        ds.Dialect,
		Host:           ds.Host,
		Port:           ds.Port,
		Database:       ds.Database,
		Username:       ds.Username,
		PasswordCipher: ds.PasswordCipher,
		Charset:        ds.Charset,
		Params:         ds.Params,
	}
}
