// File: internal/orchestrator/orchestrator.go
// Description: Drives one poll run end to end. The state machine consumes
// the session registry, question detector, response generator, and learning
// store through injected interfaces and publishes lifecycle events to the
// bus. Per-question failures are counted and skipped; only initialization
// failures and cancellation reach the caller.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/config"
	"github.com/xkilldash9x/pollflow-cli/internal/detector"
	"github.com/xkilldash9x/pollflow-cli/internal/learning"
	"github.com/xkilldash9x/pollflow-cli/internal/observability"
	"github.com/xkilldash9x/pollflow-cli/internal/registry"
	"github.com/xkilldash9x/pollflow-cli/internal/responder"
)

// State identifies a position in the run state machine.
type State string

const (
	StateInitializing       State = "INITIALIZING"
	StateAnalyzingPoll      State = "ANALYZING_POLL"
	StateDetectingQuestions State = "DETECTING_QUESTIONS"
	StateProcessingQuestion State = "PROCESSING_QUESTION"
	StateGeneratingResponse State = "GENERATING_RESPONSE"
	StateSubmittingResponse State = "SUBMITTING_RESPONSE"
	StateHandlingChallenge  State = "HANDLING_CHALLENGE"
	StateNavigating         State = "NAVIGATING"
	StateCompleted          State = "COMPLETED"
	StateError              State = "ERROR"
)

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Run is one invocation of the state machine, created at start and archived
// at a terminal state.
type Run struct {
	ID    string
	State State

	History []Transition

	QuestionsProcessed int
	ResponsesGenerated int
	ErrorsEncountered  int
	PagesProcessed     int

	StartedAt time.Time
	metrics   metrics
}

// Collaborators groups the optional external components.
type Collaborators struct {
	AI         schemas.AIResponder
	Behavioral schemas.BehavioralController
	Challenge  schemas.ChallengeSolver
}

// challengeSelectors are scanned after every submission.
var challengeSelectors = []string{
	"iframe[src*=\"captcha\"]",
	".g-recaptcha",
	".h-captcha",
	"#captcha",
	"[data-challenge]",
}

// Orchestrator drives a single logical poll flow.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *observability.Bus
	registry *registry.Registry
	detector *detector.Detector
	fallback *responder.Generator
	learning *learning.Store

	ai         schemas.AIResponder
	behavioral schemas.BehavioralController
	solver     schemas.ChallengeSolver

	rngMu sync.Mutex
	rng   *rand.Rand

	run *Run
}

// New wires the orchestrator. Registry, detector, fallback generator, and
// learning store are mandatory; collaborators are optional.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	bus *observability.Bus,
	reg *registry.Registry,
	det *detector.Detector,
	fallback *responder.Generator,
	store *learning.Store,
	collab Collaborators,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || bus == nil || reg == nil || det == nil || fallback == nil || store == nil {
		return nil, fmt.Errorf("%w: orchestrator requires non-nil core dependencies", ErrInitialization)
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
		bus:        bus,
		registry:   reg,
		detector:   det,
		fallback:   fallback,
		learning:   store,
		ai:         collab.AI,
		behavioral: collab.Behavioral,
		solver:     collab.Challenge,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// CurrentRun exposes the in-flight run for observers and tests.
func (o *Orchestrator) CurrentRun() *Run { return o.run }

func (o *Orchestrator) transition(to State) {
	from := o.run.State
	o.run.State = to
	o.run.History = append(o.run.History, Transition{From: from, To: to, At: time.Now()})
	o.logger.Debug("State transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	o.bus.Publish(schemas.EventStateChanged, o.run.ID, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func (o *Orchestrator) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: o.cfg.Orchestrator.NavRetryAttempts,
		Backoff:     o.cfg.Orchestrator.NavRetryBackoff,
	}
}

// Run executes one poll run starting at startURL. The returned summary is
// valid even for failed runs.
func (o *Orchestrator) Run(ctx context.Context, startURL string) (*schemas.RunSummary, error) {
	o.run = &Run{
		ID:        uuid.New().String(),
		State:     StateInitializing,
		StartedAt: time.Now(),
	}
	o.bus.Publish(schemas.EventInitialized, o.run.ID, map[string]any{"start_url": startURL})

	main := o.registry.Main()
	if main == nil || main.Driver == nil {
		return o.fatal(fmt.Errorf("%w: registry has no main session driver", ErrInitialization))
	}
	drv := main.Driver

	// ANALYZING_POLL: initial navigation failures are fatal.
	o.transition(StateAnalyzingPoll)
	if err := drv.Navigate(ctx, startURL, o.cfg.Browser.NavigationTimeout); err != nil {
		return o.fatal(fmt.Errorf("%w: navigating to start URL '%s': %v", ErrInitialization, startURL, err))
	}
	o.registry.RecordNavigation(main, startURL)

	analysis := o.analyzePage(ctx, drv)
	o.bus.Publish(schemas.EventPageAnalysis, o.run.ID, map[string]any{
		"forms":      analysis.Forms,
		"inputs":     analysis.Inputs,
		"multi_page": analysis.MultiPage,
		"type":       string(analysis.Type),
		"complexity": string(analysis.Complexity),
	})
	o.logger.Info("Poll analyzed",
		zap.String("type", string(analysis.Type)),
		zap.String("complexity", string(analysis.Complexity)),
		zap.Int("inputs", analysis.Inputs))

	// The page loop is only unbounded-looking when multi-page indicators are
	// present; otherwise exactly one page is processed.
	maxPages := 1
	if analysis.MultiPage {
		maxPages = o.cfg.Orchestrator.MaxPages
		if maxPages < 1 {
			maxPages = 1
		}
	}

	for page := 0; page < maxPages; page++ {
		if ctx.Err() != nil {
			return o.cancelled(ctx)
		}

		if o.registry.FlowState().Phase == schemas.PhaseMultiSession {
			o.registry.SynchronizeGroup(ctx, schemas.GroupPollFlow, 10*time.Second)
		}

		session := o.registry.MostRelevantSession()
		drv = session.Driver

		o.transition(StateDetectingQuestions)
		source, err := drv.PageSource(ctx)
		if err != nil {
			o.recordError("page_snapshot", err)
			break
		}
		questions, err := o.detector.Detect(source)
		if err != nil {
			o.recordError("question_detection", err)
			break
		}
		o.run.PagesProcessed++

		if len(questions) == 0 {
			// Not an error: nothing answerable on this page.
			o.logger.Info("No questions detected, ending page loop",
				zap.Int("page", o.run.PagesProcessed))
			break
		}

		o.processAllQuestions(ctx, session, questions)

		o.transition(StateNavigating)
		found, err := o.executeCascade(ctx, drv, ActionNextPage, nextPageTiers, o.retryPolicy())
		if err != nil {
			return o.cancelled(ctx)
		}
		if !found {
			break
		}
		// Best-effort settle after navigation; a timeout means "proceed".
		if err := drv.WaitForLoad(ctx, schemas.LoadContentLoaded, o.cfg.Browser.NavigationTimeout); err != nil {
			o.logger.Debug("Load wait after navigation timed out", zap.Error(err))
		}
		o.registry.RecordNavigation(session, "next_page")
	}

	if ctx.Err() != nil {
		return o.cancelled(ctx)
	}

	// Final submit rides the same cascade mechanism; absence of a control is
	// fine (single-page polls often submit per page).
	session := o.registry.MostRelevantSession()
	if session.Driver != nil {
		if _, err := o.executeCascade(ctx, session.Driver, ActionFinalSubmit, finalSubmitTiers, o.retryPolicy()); err != nil {
			return o.cancelled(ctx)
		}
	}

	o.transition(StateCompleted)
	summary := o.summary()
	o.bus.Publish(schemas.EventCompleted, o.run.ID, map[string]any{
		"questions_processed": summary.QuestionsProcessed,
		"responses_generated": summary.ResponsesGenerated,
		"pages_processed":     summary.PagesProcessed,
		"duration":            summary.Duration.String(),
	})
	o.logger.Info("Poll run completed",
		zap.String("run_id", o.run.ID),
		zap.Int("questions", summary.QuestionsProcessed),
		zap.Int("pages", summary.PagesProcessed),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// processAllQuestions handles each detected question in detection order. A
// single question's failure is counted and skipped; it never aborts the run.
func (o *Orchestrator) processAllQuestions(ctx context.Context, session *registry.Session, questions []schemas.Question) {
	for i := range questions {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		err := o.processQuestion(ctx, session, questions[i])
		if err != nil {
			o.recordError("question_processing", err)
			continue
		}
		o.run.QuestionsProcessed++
		o.run.metrics.observeQuestion(time.Since(started))
	}
}

// processQuestion runs one question through classify, generate, submit, and
// the challenge scan. Panics in collaborators surface as errors.
func (o *Orchestrator) processQuestion(ctx context.Context, session *registry.Session, q schemas.Question) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("question processing panicked: %v", rec)
		}
	}()

	o.transition(StateProcessingQuestion)
	q = o.classify(ctx, q)

	o.transition(StateGeneratingResponse)
	respStart := time.Now()
	resp, genErr := o.generate(ctx, q)
	if genErr != nil {
		return fmt.Errorf("%w: %v", ErrResponseGeneration, genErr)
	}

	if !resp.Skip {
		o.run.ResponsesGenerated++
		o.run.metrics.observeResponse(time.Since(respStart))

		o.transition(StateSubmittingResponse)
		if err := o.applyResponse(ctx, session.Driver, q, resp); err != nil {
			return fmt.Errorf("%w: %v", ErrSubmission, err)
		}
		o.registry.Touch(session)
	}

	o.handleChallenge(ctx, session.Driver)
	return nil
}

// classify prefers the external classifier; the heuristic stands in when
// none is configured or the collaborator fails.
func (o *Orchestrator) classify(ctx context.Context, q schemas.Question) schemas.Question {
	if o.ai != nil {
		classified, err := o.ai.ClassifyQuestion(ctx, q)
		if err == nil {
			return classified
		}
		o.logger.Debug("External classification failed, using heuristic", zap.Error(err))
	}
	if q.Type == schemas.QuestionUnknown {
		q.Type = detector.InferType(q)
	}
	return q
}

// generate delegates to the AI collaborator when present, falling back to
// the default policy on failure.
func (o *Orchestrator) generate(ctx context.Context, q schemas.Question) (schemas.Response, error) {
	if o.ai != nil {
		resp, err := o.ai.GenerateResponse(ctx, q)
		if err == nil {
			return resp, nil
		}
		o.logger.Debug("AI response generation failed, using default policy", zap.Error(err))
	}
	resp := o.fallback.Generate(q)
	resp = o.fallback.Humanize(resp, q)
	return resp, nil
}

// applyResponse drives the answer into the page, one input action at a time
// with randomized inter-action delay. The behavioral collaborator takes over
// entirely when configured.
func (o *Orchestrator) applyResponse(ctx context.Context, drv schemas.Driver, q schemas.Question, resp schemas.Response) error {
	if o.behavioral != nil {
		return o.behavioral.InteractWithQuestion(ctx, drv, q, resp)
	}

	switch q.Type {
	case schemas.QuestionSingleChoice, schemas.QuestionMultipleChoice, schemas.QuestionRating:
		for _, idx := range resp.OptionIndexes {
			if idx < 0 || idx >= len(q.Inputs) {
				return fmt.Errorf("option index %d out of range for %d inputs", idx, len(q.Inputs))
			}
			if err := o.clickSelector(ctx, drv, q.Inputs[idx].Selector); err != nil {
				return err
			}
			if err := o.pause(ctx); err != nil {
				return err
			}
		}
	case schemas.QuestionDropdown:
		if len(q.Inputs) == 0 || len(resp.OptionIndexes) == 0 {
			return fmt.Errorf("dropdown response without option index")
		}
		ref, err := drv.Query(ctx, q.Inputs[0].Selector)
		if err != nil || ref == nil {
			return fmt.Errorf("dropdown '%s' not found", q.Inputs[0].Selector)
		}
		if err := drv.SelectOption(ctx, ref, resp.OptionIndexes[0]); err != nil {
			return err
		}
	case schemas.QuestionText:
		for _, input := range q.Inputs {
			ref, err := drv.Query(ctx, input.Selector)
			if err != nil || ref == nil {
				return fmt.Errorf("text input '%s' not found", input.Selector)
			}
			if err := drv.Fill(ctx, ref, resp.Value); err != nil {
				return err
			}
			if err := o.pause(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) clickSelector(ctx context.Context, drv schemas.Driver, selector string) error {
	ref, err := drv.Query(ctx, selector)
	if err != nil || ref == nil {
		return fmt.Errorf("input '%s' not found", selector)
	}
	return o.clickRef(ctx, drv, ref)
}

// handleChallenge scans for challenge indicators and delegates to the solver
// collaborator. Unhandled challenges are logged and the run continues.
func (o *Orchestrator) handleChallenge(ctx context.Context, drv schemas.Driver) {
	var ref *schemas.ElementRef
	for _, selector := range challengeSelectors {
		found, err := drv.Query(ctx, selector)
		if err == nil && found != nil {
			ref = found
			break
		}
	}
	if ref == nil {
		return
	}

	o.transition(StateHandlingChallenge)
	if o.solver == nil {
		o.logger.Warn("Challenge detected with no solver configured, continuing",
			zap.String("selector", ref.Selector))
		o.recordError("challenge", ErrChallengeUnhandled)
		return
	}
	solved, err := o.solver.Solve(ctx, drv, ref)
	if err != nil {
		o.recordError("challenge", err)
		return
	}
	o.logger.Info("Challenge handled", zap.Bool("solved", solved))
}

// pause sleeps a randomized inter-action delay, honoring cancellation.
func (o *Orchestrator) pause(ctx context.Context) error {
	min := o.cfg.Orchestrator.QuestionDelayMin
	max := o.cfg.Orchestrator.QuestionDelayMax
	if max <= min {
		return nil
	}
	o.rngMu.Lock()
	d := min + time.Duration(o.rng.Int63n(int64(max-min)))
	o.rngMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// recordError counts a recoverable failure and publishes it.
func (o *Orchestrator) recordError(context string, err error) {
	o.run.ErrorsEncountered++
	o.learning.RecordFailure(context, err.Error())
	o.bus.Publish(schemas.EventError, o.run.ID, map[string]any{
		"context": context,
		"message": err.Error(),
	})
	o.logger.Warn("Recoverable failure",
		zap.String("context", context),
		zap.Error(err))
}

// fatal records a run-aborting failure and re-raises it.
func (o *Orchestrator) fatal(err error) (*schemas.RunSummary, error) {
	o.recordError("fatal", err)
	o.transition(StateError)
	return o.summary(), err
}

// cancelled tears down all non-main sessions before returning the context
// error.
func (o *Orchestrator) cancelled(ctx context.Context) (*schemas.RunSummary, error) {
	o.logger.Warn("Run cancelled, closing non-main sessions")
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.registry.CloseAllExceptMain(cleanupCtx)
	o.transition(StateError)
	return o.summary(), ctx.Err()
}

func (o *Orchestrator) summary() *schemas.RunSummary {
	elapsed := time.Since(o.run.StartedAt)
	return &schemas.RunSummary{
		RunID:              o.run.ID,
		Duration:           elapsed,
		PagesProcessed:     o.run.PagesProcessed,
		QuestionsProcessed: o.run.QuestionsProcessed,
		ResponsesGenerated: o.run.ResponsesGenerated,
		ErrorsEncountered:  o.run.ErrorsEncountered,
		SuccessRate:        successRate(o.run.ResponsesGenerated, o.run.QuestionsProcessed),
		QuestionsPerMinute: questionsPerMinute(o.run.QuestionsProcessed, elapsed),
		AvgQuestionTime:    o.run.metrics.avgQuestionTime,
		AvgResponseTime:    o.run.metrics.avgResponseTime,
	}
}
