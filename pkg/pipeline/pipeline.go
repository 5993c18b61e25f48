// Package pipeline orchestrates the question-to-answer flow: sanitize,
// cache lookup, intent routing, entity extraction, table resolution, prompt
// build, SQL generation with a bounded self-correction loop, validation,
// execution, scoring, and formatting. Every terminal outcome lands in the
// audit trail.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
	"github.com/sage-clinical/sage-engine/pkg/audit"
	"github.com/sage-clinical/sage-engine/pkg/cache"
	"github.com/sage-clinical/sage-engine/pkg/confidence"
	"github.com/sage-clinical/sage-engine/pkg/entities"
	"github.com/sage-clinical/sage-engine/pkg/intent"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/prompts"
	"github.com/sage-clinical/sage-engine/pkg/resolver"
	"github.com/sage-clinical/sage-engine/pkg/respond"
	"github.com/sage-clinical/sage-engine/pkg/sanitizer"
	"github.com/sage-clinical/sage-engine/pkg/sqlcheck"
	"github.com/sage-clinical/sage-engine/pkg/sqlgen"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

// AuditRecorder is the slice of the audit store the pipeline writes to.
type AuditRecorder interface {
	Record(ctx context.Context, e *models.AuditEvent) error
	RecordQueryDetail(ctx context.Context, d *models.QueryAuditDetail) error
}

var _ AuditRecorder = (*audit.Store)(nil)

// Options are the pipeline's runtime knobs.
type Options struct {
	// MaxCorrectionAttempts is how many regeneration rounds may follow the
	// initial attempt after a correctable failure.
	MaxCorrectionAttempts int
	// QueryTimeout bounds a single execution against the column store.
	QueryTimeout time.Duration
	// MaxConcurrent bounds simultaneous Ask calls; excess calls are
	// rejected, not queued.
	MaxConcurrent int64
	// MaxResultRows is the configured row cap, used by the sanity score.
	MaxResultRows int
}

func (o *Options) normalize() {
	if o.MaxCorrectionAttempts < 0 {
		o.MaxCorrectionAttempts = 0
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 60 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.MaxResultRows <= 0 {
		o.MaxResultRows = 10000
	}
}

// Pipeline wires the stages together. All stages are supplied at
// construction; the pipeline itself holds no mutable state beyond the
// concurrency gate.
type Pipeline struct {
	sanitizer  *sanitizer.Sanitizer
	cache      *cache.QueryCache
	classifier *intent.Classifier
	responder  *intent.Responder
	extractor  *entities.Extractor
	resolver   *resolver.Resolver
	builder    *prompts.Builder
	generator  *sqlgen.Generator
	validator  *sqlcheck.Validator
	executor   store.QueryExecutor
	scorer     *confidence.Scorer
	formatter  *respond.Formatter
	auditor    AuditRecorder

	sem    *semaphore.Weighted
	opts   Options
	logger *zap.Logger
}

// Deps collects the pipeline's stage implementations.
type Deps struct {
	Sanitizer  *sanitizer.Sanitizer
	Cache      *cache.QueryCache
	Classifier *intent.Classifier
	Responder  *intent.Responder
	Extractor  *entities.Extractor
	Resolver   *resolver.Resolver
	Builder    *prompts.Builder
	Generator  *sqlgen.Generator
	Validator  *sqlcheck.Validator
	Executor   store.QueryExecutor
	Scorer     *confidence.Scorer
	Formatter  *respond.Formatter
	// Auditor may be nil; the pipeline then runs without an audit trail.
	Auditor AuditRecorder
}

// New creates a pipeline.
func New(deps Deps, opts Options, logger *zap.Logger) *Pipeline {
	opts.normalize()
	return &Pipeline{
		sanitizer:  deps.Sanitizer,
		cache:      deps.Cache,
		classifier: deps.Classifier,
		responder:  deps.Responder,
		extractor:  deps.Extractor,
		resolver:   deps.Resolver,
		builder:    deps.Builder,
		generator:  deps.Generator,
		validator:  deps.Validator,
		executor:   deps.Executor,
		scorer:     deps.Scorer,
		formatter:  deps.Formatter,
		auditor:    deps.Auditor,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		opts:       opts,
		logger:     logger.Named("pipeline"),
	}
}

// run executes one stage, recording its timing on the result.
type run struct {
	result  *models.PipelineResult
	started time.Time
}

func newRun(question string) *run {
	return &run{
		result: &models.PipelineResult{
			Query:          question,
			PipelineStages: make(map[string]models.StageTiming),
		},
		started: time.Now(),
	}
}

func (r *run) stage(name string, fn func() error) error {
	started := time.Now()
	err := fn()
	r.result.PipelineStages[name] = models.StageTiming{
		Success: err == nil,
		TimeMS:  time.Since(started).Milliseconds(),
	}
	return err
}

// Ask answers one question. The returned error is non-nil only for
// admission failures (concurrency limit); every other outcome, success or
// failure, is expressed in the PipelineResult.
func (p *Pipeline) Ask(ctx context.Context, q *models.Question) (*models.PipelineResult, error) {
	if !p.sem.TryAcquire(1) {
		return nil, apperrors.ErrTooManyQueries
	}
	defer p.sem.Release(1)

	r := newRun(q.Text)
	result := p.ask(ctx, q, r)
	result.TotalTimeMS = time.Since(r.started).Milliseconds()
	return result, nil
}

func (p *Pipeline) ask(ctx context.Context, q *models.Question, r *run) *models.PipelineResult {
	result := r.result

	// Sanitization.
	var san *models.SanitizationResult
	err := r.stage(models.StageSanitization, func() error {
		san = p.sanitizer.Sanitize(q.Text)
		if !san.IsSafe {
			return stageErr(models.StageSanitization, models.ErrSanitization, errors.New(san.BlockedReason))
		}
		return nil
	})
	if err != nil {
		p.fail(result, &StageError{
			Stage:  models.StageSanitization,
			Kind:   models.ErrSanitization,
			Reason: "Your question was blocked: " + san.BlockedReason + ".",
		})
		p.auditOutcome(ctx, q, result, models.AuditStatusBlocked, r)
		return result
	}
	question := san.SanitizedText
	result.Query = question

	// Cache lookup. A hit skips everything downstream.
	var hit *models.PipelineResult
	_ = r.stage(models.StageCacheLookup, func() error {
		hit = p.cache.Get(question, q.SessionID)
		return nil
	})
	if hit != nil {
		cached := *hit
		cached.CacheHit = true
		cached.PipelineStages = r.result.PipelineStages
		p.logger.Info("Cache hit", zap.String("session_id", q.SessionID))
		return &cached
	}

	if p.cancelled(ctx, result, models.StageClassification) {
		return result
	}

	// Intent routing.
	var qIntent models.Intent
	err = r.stage(models.StageClassification, func() error {
		var cerr error
		qIntent, cerr = p.classifier.Classify(ctx, question)
		return cerr
	})
	if err != nil {
		p.fail(result, stageErr(models.StageClassification, models.ErrCancelled, err))
		return result
	}
	result.Intent = qIntent

	if !qIntent.IsClinical() {
		conv := p.responder.Respond(ctx, qIntent, question)
		conv.Query = question
		conv.PipelineStages = r.result.PipelineStages
		p.auditConversation(ctx, q, conv)
		return conv
	}
	result.PipelineUsed = models.PipelineClinicalSQL

	// Entity extraction never fails; no entities is a valid outcome.
	var matches []models.EntityMatch
	_ = r.stage(models.StageEntityExtraction, func() error {
		matches = p.extractor.Extract(question)
		return nil
	})

	if p.cancelled(ctx, result, models.StageTableResolution) {
		return result
	}

	// Table resolution.
	var resolution *models.TableResolution
	err = r.stage(models.StageTableResolution, func() error {
		var rerr error
		resolution, rerr = p.resolver.Resolve(question, matches)
		return rerr
	})
	if err != nil {
		p.fail(result, stageErr(models.StageTableResolution, models.ErrTableResolution, err))
		p.auditOutcome(ctx, q, result, models.AuditStatusError, r)
		return result
	}

	// Prompt assembly.
	var llmCtx *models.LLMContext
	_ = r.stage(models.StageContextBuild, func() error {
		llmCtx = p.builder.Build(question, resolution, matches)
		return nil
	})

	// Generation, validation and execution with bounded self-correction.
	generated, validation, execution, stageError := p.generateAndExecute(ctx, r, llmCtx)
	if stageError != nil {
		p.fail(result, stageError)
		p.auditOutcome(ctx, q, result, models.AuditStatusError, r)
		return result
	}
	result.SQL = validation.ValidatedSQL
	result.Warnings = append(result.Warnings, validation.Warnings...)
	result.Data = execution
	result.RowCount = execution.RowCount

	// Scoring.
	_ = r.stage(models.StageScoring, func() error {
		result.Confidence = p.scorer.Score(confidence.Input{
			Entities:      matches,
			Resolution:    resolution,
			Validation:    validation,
			Execution:     execution,
			Attempt:       generated.AttemptNumber,
			MaxResultRows: p.opts.MaxResultRows,
		})
		return nil
	})

	// Formatting.
	_ = r.stage(models.StageFormatting, func() error {
		result.Answer = p.formatter.FormatAnswer(question, execution)
		result.Methodology = p.formatter.Methodology(resolution)
		return nil
	})

	result.Success = true
	p.cache.Set(question, q.SessionID, result)
	p.auditQuery(ctx, q, result, llmCtx, validation, r)

	p.logger.Info("Question answered",
		zap.String("table", resolution.SelectedTable),
		zap.Int("rows", result.RowCount),
		zap.Int("attempt", generated.AttemptNumber),
		zap.Float64("confidence", result.Confidence.Score))
	return result
}

// generateAndExecute runs the generation loop: one initial attempt plus up
// to MaxCorrectionAttempts regeneration rounds after correctable failures.
// Validation failures and correctable execution errors feed the next round;
// everything else is terminal.
func (p *Pipeline) generateAndExecute(ctx context.Context, r *run, base *models.LLMContext) (*models.GeneratedSQL, *models.ValidationResult, *models.ExecutionResult, *StageError) {
	maxAttempts := 1 + p.opts.MaxCorrectionAttempts
	llmCtx := base

	var lastStageErr *StageError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, nil, stageErr(models.StageSQLGeneration, models.ErrCancelled, ctx.Err())
		}

		var generated *models.GeneratedSQL
		err := r.stage(models.StageSQLGeneration, func() error {
			var gerr error
			generated, gerr = p.generator.Generate(ctx, llmCtx, attempt)
			return gerr
		})
		if err != nil {
			kind := llmErrorKind(err)
			if kind == models.ErrLLMModel && attempt < maxAttempts {
				// A response with no usable SQL is worth one more round.
				lastStageErr = stageErr(models.StageSQLGeneration, kind, err)
				llmCtx = p.builder.BuildCorrection(base, "", "the previous response contained no SQL statement", attempt)
				continue
			}
			return nil, nil, nil, stageErr(models.StageSQLGeneration, kind, err)
		}

		var validation *models.ValidationResult
		_ = r.stage(models.StageSQLValidation, func() error {
			validation = p.validator.Validate(generated.SQLText)
			if !validation.IsValid {
				return errors.New(strings.Join(validation.Errors, "; "))
			}
			return nil
		})
		if !validation.IsValid {
			reason := strings.Join(validation.Errors, "; ")
			p.logger.Warn("Generated SQL failed validation",
				zap.Int("attempt", attempt),
				zap.String("reason", reason))
			lastStageErr = stageErr(models.StageSQLValidation, models.ErrSQLValidation, errors.New(reason))
			if attempt < maxAttempts {
				llmCtx = p.builder.BuildCorrection(base, generated.SQLText, "validation failed: "+reason, attempt)
				continue
			}
			return nil, nil, nil, lastStageErr
		}

		var execution *models.ExecutionResult
		err = r.stage(models.StageExecution, func() error {
			execCtx, cancel := context.WithTimeout(ctx, p.opts.QueryTimeout)
			defer cancel()
			var xerr error
			execution, xerr = p.executor.Execute(execCtx, validation.ValidatedSQL)
			return xerr
		})
		if err != nil {
			var execErr *store.ExecError
			if errors.As(err, &execErr) && execErr.Correctable() && attempt < maxAttempts {
				p.logger.Warn("Execution failed, attempting correction",
					zap.Int("attempt", attempt),
					zap.String("kind", string(execErr.Kind)))
				lastStageErr = stageErr(models.StageExecution, models.ErrSQLExecution, err)
				llmCtx = p.builder.BuildCorrection(base, validation.ValidatedSQL, execErr.Message, attempt)
				continue
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil, nil, nil, stageErr(models.StageExecution, models.ErrCancelled, err)
			}
			return nil, nil, nil, stageErr(models.StageExecution, execErrorKind(err), err)
		}

		return generated, validation, execution, nil
	}

	if lastStageErr == nil {
		lastStageErr = stageErr(models.StageSQLGeneration, models.ErrInternal, errors.New("generation loop made no attempts"))
	}
	return nil, nil, nil, lastStageErr
}

// cancelled finalizes the result when the caller has gone away.
func (p *Pipeline) cancelled(ctx context.Context, result *models.PipelineResult, stage string) bool {
	if ctx.Err() == nil {
		return false
	}
	result.Success = false
	result.Error = string(models.ErrCancelled)
	result.ErrorStage = stage
	result.Answer = respond.Humanize(models.ErrCancelled).Message
	return true
}

// fail finalizes the result for a terminal stage error with a humanized
// answer. Raw driver and model errors stay in the logs.
func (p *Pipeline) fail(result *models.PipelineResult, serr *StageError) {
	result.Success = false
	result.Error = string(serr.Kind)
	result.ErrorStage = serr.Stage

	h := respond.HumanizeWithReason(serr.Kind, serr.Reason)
	result.Answer = h.Message
	if h.Suggestion != "" {
		result.Answer += " " + h.Suggestion
	}

	p.logger.Warn("Pipeline failed",
		zap.String("stage", serr.Stage),
		zap.String("kind", string(serr.Kind)),
		zap.Error(serr.Err))
}

// auditOutcome writes the audit event for a failed or blocked question.
// Audit writes survive caller cancellation and never fail the request.
func (p *Pipeline) auditOutcome(ctx context.Context, q *models.Question, result *models.PipelineResult, status string, r *run) {
	if p.auditor == nil {
		return
	}
	e := p.baseEvent(q, models.AuditActionQuery, status)
	e.DurationMS = time.Since(r.started).Milliseconds()
	e.ResourceID = result.ErrorStage
	if err := p.auditor.Record(context.WithoutCancel(ctx), e); err != nil {
		p.logger.Error("Audit write failed", zap.Error(err))
	}
}

func (p *Pipeline) auditConversation(ctx context.Context, q *models.Question, result *models.PipelineResult) {
	if p.auditor == nil {
		return
	}
	e := p.baseEvent(q, models.AuditActionConversation, models.AuditStatusSuccess)
	e.ResourceID = string(result.Intent)
	if err := p.auditor.Record(context.WithoutCancel(ctx), e); err != nil {
		p.logger.Error("Audit write failed", zap.Error(err))
	}
}

// auditQuery records a successful clinical answer with full provenance.
func (p *Pipeline) auditQuery(ctx context.Context, q *models.Question, result *models.PipelineResult, llmCtx *models.LLMContext, validation *models.ValidationResult, r *run) {
	if p.auditor == nil {
		return
	}
	auditCtx := context.WithoutCancel(ctx)

	e := p.baseEvent(q, models.AuditActionQuery, models.AuditStatusSuccess)
	e.DurationMS = time.Since(r.started).Milliseconds()
	if err := p.auditor.Record(auditCtx, e); err != nil {
		p.logger.Error("Audit write failed", zap.Error(err))
		return
	}

	confJSON, _ := json.Marshal(result.Confidence)
	detail := &models.QueryAuditDetail{
		AuditID:         e.ID,
		Question:        result.Query,
		Prompt:          llmCtx.FullPrompt(),
		SQL:             result.SQL,
		ConfidenceJSON:  string(confJSON),
		TablesAccessed:  strings.Join(validation.TablesVerified, ","),
		ColumnsAccessed: strings.Join(validation.ColumnsVerified, ","),
		RowCount:        result.RowCount,
	}
	if err := p.auditor.RecordQueryDetail(auditCtx, detail); err != nil {
		p.logger.Error("Audit detail write failed", zap.Error(err))
	}
}

func (p *Pipeline) baseEvent(q *models.Question, action, status string) *models.AuditEvent {
	return &models.AuditEvent{
		UserID:       q.UserID,
		Username:     q.Username,
		Action:       action,
		ResourceType: "question",
		Status:       status,
		IP:           q.ClientIP,
	}
}
