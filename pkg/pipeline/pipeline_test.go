package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
	"github.com/sage-clinical/sage-engine/pkg/cache"
	"github.com/sage-clinical/sage-engine/pkg/confidence"
	"github.com/sage-clinical/sage-engine/pkg/entities"
	"github.com/sage-clinical/sage-engine/pkg/intent"
	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/prompts"
	"github.com/sage-clinical/sage-engine/pkg/resolver"
	"github.com/sage-clinical/sage-engine/pkg/respond"
	"github.com/sage-clinical/sage-engine/pkg/sanitizer"
	"github.com/sage-clinical/sage-engine/pkg/sqlcheck"
	"github.com/sage-clinical/sage-engine/pkg/sqlgen"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

const countSQL = "```sql\nSELECT COUNT(DISTINCT USUBJID) AS subject_count " +
	"FROM ADAE WHERE AEDECOD = 'HEADACHE' AND SAFFL = 'Y'\n```"

// recordingAuditor captures audit writes in memory.
type recordingAuditor struct {
	mu      sync.Mutex
	events  []*models.AuditEvent
	details []*models.QueryAuditDetail
}

func (a *recordingAuditor) Record(_ context.Context, e *models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	a.events = append(a.events, e)
	return nil
}

func (a *recordingAuditor) RecordQueryDetail(_ context.Context, d *models.QueryAuditDetail) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.details = append(a.details, d)
	return nil
}

// testEnv bundles the pipeline with the mocks behind it.
type testEnv struct {
	pipeline   *Pipeline
	classifier *llm.MockClient
	responder  *llm.MockClient
	generator  *llm.MockClient
	executor   *store.MockExecutor
	auditor    *recordingAuditor
}

func countResult() *models.ExecutionResult {
	return &models.ExecutionResult{
		Success:  true,
		Columns:  []string{"subject_count"},
		Rows:     [][]any{{int64(42)}},
		RowCount: 1,
	}
}

// newTestEnv wires a pipeline with real stages and mocked edges. The
// classifier answers CLINICAL_DATA and the executor returns a one-cell count
// unless the test overrides them.
func newTestEnv(t *testing.T, generatorResponses []string, opts Options) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	dict, err := entities.Load()
	require.NoError(t, err)
	catalog := models.DefaultCatalog()

	env := &testEnv{
		classifier: llm.ScriptedClient("CLINICAL_DATA"),
		responder:  llm.ScriptedClient("Hello! Ask me about your study data."),
		generator:  llm.ScriptedClient(generatorResponses...),
		executor:   store.NewMockExecutor(),
		auditor:    &recordingAuditor{},
	}
	env.executor.ExecuteFunc = func(ctx context.Context, query string) (*models.ExecutionResult, error) {
		return countResult(), nil
	}

	deps := Deps{
		Sanitizer:  sanitizer.New(sanitizer.DefaultConfig(), logger),
		Cache:      cache.New(cache.DefaultConfig(), logger),
		Classifier: intent.NewClassifier(env.classifier, logger),
		Responder:  intent.NewResponder(env.responder, "test", logger),
		Extractor:  entities.NewExtractor(dict, entities.DefaultConfig(), logger),
		Resolver:   resolver.New(catalog, logger),
		Builder:    prompts.NewBuilder(catalog, 8000, logger),
		Generator:  sqlgen.New(env.generator, 0, 512, logger),
		Validator:  sqlcheck.New(catalog, 10000, logger),
		Executor:   env.executor,
		Scorer:     confidence.New(models.DefaultLevelThresholds()),
		Formatter:  respond.NewFormatter(),
		Auditor:    env.auditor,
	}
	env.pipeline = New(deps, opts, logger)
	return env
}

func question(text, session string) *models.Question {
	return &models.Question{
		Text:      text,
		SessionID: session,
		UserID:    "u-1",
		Username:  "analyst",
		ClientIP:  "10.0.0.1",
		Timestamp: time.Now(),
	}
}

func TestAsk_ClinicalCount(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{})

	result, err := env.pipeline.Ask(context.Background(), question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.PipelineClinicalSQL, result.PipelineUsed)
	assert.Equal(t, models.IntentClinicalData, result.Intent)
	assert.Contains(t, result.SQL, "FROM ADAE")
	assert.Contains(t, result.SQL, "LIMIT")
	assert.Contains(t, result.Answer, "42")
	assert.Equal(t, 1, result.RowCount)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, env.executor.ExecuteCalls)

	require.NotNil(t, result.Confidence)
	assert.Greater(t, result.Confidence.Score, 0.0)
	require.NotNil(t, result.Methodology)
	assert.Equal(t, "ADAE", result.Methodology.TableUsed)

	for _, stage := range []string{
		models.StageSanitization, models.StageCacheLookup, models.StageClassification,
		models.StageEntityExtraction, models.StageTableResolution, models.StageContextBuild,
		models.StageSQLGeneration, models.StageSQLValidation, models.StageExecution,
		models.StageScoring, models.StageFormatting,
	} {
		timing, ok := result.PipelineStages[stage]
		require.True(t, ok, "missing stage timing %q", stage)
		assert.True(t, timing.Success, "stage %q not marked successful", stage)
	}

	// One success event with full provenance.
	require.Len(t, env.auditor.events, 1)
	e := env.auditor.events[0]
	assert.Equal(t, models.AuditActionQuery, e.Action)
	assert.Equal(t, models.AuditStatusSuccess, e.Status)
	assert.Equal(t, "u-1", e.UserID)
	require.Len(t, env.auditor.details, 1)
	d := env.auditor.details[0]
	assert.Equal(t, e.ID, d.AuditID)
	assert.Contains(t, d.SQL, "FROM ADAE")
	assert.Contains(t, d.TablesAccessed, "ADAE")
	assert.NotEmpty(t, d.Prompt)
}

func TestAsk_CacheHitSkipsExecution(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{})
	ctx := context.Background()

	first, err := env.pipeline.Ask(ctx, question("How many patients had a headache?", "s1"))
	require.NoError(t, err)
	require.True(t, first.Success)

	// Same question modulo case and punctuation, same session.
	second, err := env.pipeline.Ask(ctx, question("how many patients had a HEADACHE??", "s1"))
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, 1, env.executor.ExecuteCalls)
	assert.Equal(t, 1, env.generator.CompleteCalls)
}

func TestAsk_CacheIsolatedBySession(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{})
	ctx := context.Background()

	_, err := env.pipeline.Ask(ctx, question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	result, err := env.pipeline.Ask(ctx, question("How many patients had a headache?", "s2"))
	require.NoError(t, err)

	assert.False(t, result.CacheHit)
	assert.Equal(t, 2, env.executor.ExecuteCalls)
}

func TestAsk_GreetingShortCircuit(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.classifier.CompleteFunc = func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "GREETING"}, nil
	}

	result, err := env.pipeline.Ask(context.Background(), question("Hello there!", "s1"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.PipelineConversational, result.PipelineUsed)
	assert.Equal(t, models.IntentGreeting, result.Intent)
	assert.Equal(t, "Hello! Ask me about your study data.", result.Answer)
	// The conversational path makes its own model call but never touches
	// the SQL generator or the column store.
	assert.Equal(t, 1, env.responder.CompleteCalls)
	assert.Equal(t, 0, env.generator.CompleteCalls)
	assert.Equal(t, 0, env.executor.ExecuteCalls)

	// Conversational answers are audited but never cached.
	require.Len(t, env.auditor.events, 1)
	assert.Equal(t, models.AuditActionConversation, env.auditor.events[0].Action)
	assert.Equal(t, 0, env.pipeline.cache.Stats().Size)
}

func TestAsk_BlockedPHI(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	result, err := env.pipeline.Ask(context.Background(),
		question("Show records for patient 123-45-6789", "s1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, string(models.ErrSanitization), result.Error)
	assert.Equal(t, models.StageSanitization, result.ErrorStage)
	assert.NotEmpty(t, result.Answer)
	assert.Equal(t, 0, env.classifier.CompleteCalls)
	assert.Equal(t, 0, env.executor.ExecuteCalls)

	require.Len(t, env.auditor.events, 1)
	assert.Equal(t, models.AuditStatusBlocked, env.auditor.events[0].Status)
}

func TestAsk_BlockedSQLInjection(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	result, err := env.pipeline.Ask(context.Background(),
		question("List subjects; DROP TABLE ADSL", "s1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, string(models.ErrSanitization), result.Error)
	assert.Equal(t, 0, env.executor.ExecuteCalls)
}

func TestAsk_PromptCarriesTermVariants(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{})

	_, err := env.pipeline.Ask(context.Background(),
		question("How many patients had anemia?", "s1"))
	require.NoError(t, err)

	require.NotEmpty(t, env.generator.Requests)
	prompt := env.generator.Requests[0].Prompt
	assert.Contains(t, prompt, "ANAEMIA")
	assert.Contains(t, prompt, "ANEMIA")
}

func TestAsk_SelfCorrectionAfterValidationFailure(t *testing.T) {
	env := newTestEnv(t, []string{
		"SELECT * FROM PATIENTS",
		countSQL,
	}, Options{MaxCorrectionAttempts: 2})

	result, err := env.pipeline.Ask(context.Background(),
		question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, env.generator.CompleteCalls)
	assert.Equal(t, 1, env.executor.ExecuteCalls)

	// The retry prompt carries the failing statement back to the model.
	require.Len(t, env.generator.Requests, 2)
	assert.Contains(t, env.generator.Requests[1].Prompt, "SELECT * FROM PATIENTS")
}

func TestAsk_SelfCorrectionAfterExecutionError(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{MaxCorrectionAttempts: 2})
	calls := 0
	env.executor.ExecuteFunc = func(ctx context.Context, query string) (*models.ExecutionResult, error) {
		calls++
		if calls == 1 {
			return nil, &store.ExecError{Kind: store.KindUnknownIdentifier, Message: "column AESEV2 does not exist"}
		}
		return countResult(), nil
	}

	result, err := env.pipeline.Ask(context.Background(),
		question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, env.executor.ExecuteCalls)
	assert.Equal(t, 2, env.generator.CompleteCalls)
}

func TestAsk_CorrectionBudgetExhausted(t *testing.T) {
	env := newTestEnv(t, []string{"SELECT * FROM PATIENTS"}, Options{MaxCorrectionAttempts: 1})

	result, err := env.pipeline.Ask(context.Background(),
		question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, string(models.ErrSQLValidation), result.Error)
	assert.Equal(t, models.StageSQLValidation, result.ErrorStage)
	assert.Equal(t, 2, env.generator.CompleteCalls)
	assert.Equal(t, 0, env.executor.ExecuteCalls)

	require.Len(t, env.auditor.events, 1)
	assert.Equal(t, models.AuditStatusError, env.auditor.events[0].Status)
}

func TestAsk_ExecutionTimeoutIsTerminal(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{MaxCorrectionAttempts: 2})
	env.executor.ExecuteFunc = func(ctx context.Context, query string) (*models.ExecutionResult, error) {
		return nil, &store.ExecError{Kind: store.KindTimeout, Message: "query timed out"}
	}

	result, err := env.pipeline.Ask(context.Background(),
		question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, string(models.ErrSQLExecution), result.Error)
	assert.Equal(t, models.StageExecution, result.ErrorStage)
	// Timeouts do not feed the correction loop.
	assert.Equal(t, 1, env.executor.ExecuteCalls)
	assert.Equal(t, 1, env.generator.CompleteCalls)
}

func TestAsk_FailuresAreNotCached(t *testing.T) {
	env := newTestEnv(t, []string{"SELECT * FROM PATIENTS"}, Options{MaxCorrectionAttempts: 0})
	ctx := context.Background()

	first, err := env.pipeline.Ask(ctx, question("How many patients had a headache?", "s1"))
	require.NoError(t, err)
	require.False(t, first.Success)

	second, err := env.pipeline.Ask(ctx, question("How many patients had a headache?", "s1"))
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Equal(t, 2, env.generator.CompleteCalls)
}

func TestAsk_CancelledBeforeClassification(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.pipeline.Ask(ctx, question("How many patients had a headache?", "s1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, string(models.ErrCancelled), result.Error)
	assert.Equal(t, 0, env.executor.ExecuteCalls)
}

func TestAsk_ConcurrencyLimitRejects(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{MaxConcurrent: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	env.executor.ExecuteFunc = func(ctx context.Context, query string) (*models.ExecutionResult, error) {
		close(started)
		<-release
		return countResult(), nil
	}

	done := make(chan *models.PipelineResult, 1)
	go func() {
		result, err := env.pipeline.Ask(context.Background(),
			question("How many patients had a headache?", "s1"))
		assert.NoError(t, err)
		done <- result
	}()

	<-started
	_, err := env.pipeline.Ask(context.Background(),
		question("How many patients had anemia?", "s2"))
	assert.ErrorIs(t, err, apperrors.ErrTooManyQueries)

	close(release)
	result := <-done
	assert.True(t, result.Success)
}

func TestAsk_NilAuditorIsAllowed(t *testing.T) {
	env := newTestEnv(t, []string{countSQL}, Options{})
	env.pipeline.auditor = nil

	result, err := env.pipeline.Ask(context.Background(),
		question("How many patients had a headache?", "s1"))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestOptions_Normalize(t *testing.T) {
	opts := Options{MaxCorrectionAttempts: -1}
	opts.normalize()
	assert.Equal(t, 0, opts.MaxCorrectionAttempts)
	assert.Equal(t, 60*time.Second, opts.QueryTimeout)
	assert.Equal(t, int64(8), opts.MaxConcurrent)
	assert.Equal(t, 10000, opts.MaxResultRows)
}

func TestExecErrorKind(t *testing.T) {
	assert.Equal(t, models.ErrSQLExecution,
		execErrorKind(&store.ExecError{Kind: store.KindSyntax}))
	assert.Equal(t, models.ErrCancelled, execErrorKind(context.Canceled))
	assert.Equal(t, models.ErrSQLExecution, execErrorKind(errors.New("boom")))
}
