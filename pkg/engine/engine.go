package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/oracle"
	"github.com/cpravetz/stage7-sub000/pkg/plan"
	"github.com/cpravetz/stage7-sub000/pkg/registry"
)

// ManifestSource resolves an action's contract. (nil, nil) means the action
// is novel. registry.Resolver is the production implementation.
type ManifestSource interface {
	Resolve(ctx context.Context, action string) (*registry.Manifest, error)
}

// Config wires the engine's collaborators.
type Config struct {
	// Manifests is required.
	Manifests ManifestSource
	// Oracle is the injected correction callback; nil disables repair.
	Oracle oracle.Oracle
	// MaxAttempts bounds the outer validate/transform/repair loop.
	// Defaults to 3.
	MaxAttempts int
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

const defaultMaxAttempts = 3

// Engine validates and repairs plans. One engine may serve concurrent
// calls: per-call state lives in a session, and the manifest resolver is
// the only shared mutable state.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: cfg.Logger}
}

// Result is the engine's verdict on one plan.
type Result struct {
	Plan            []*plan.Step `json:"plan"`
	Errors          []*StepError `json:"errors,omitempty"`
	Warnings        []string     `json:"warnings,omitempty"`
	Transformations []string     `json:"transformations,omitempty"`
	Valid           bool         `json:"valid"`
}

// session is the per-call mutable state.
type session struct {
	steps   []*plan.Step
	index   *Index
	tracker *tracker
}

// ValidateAndRepair canonicalizes, validates, structurally rewrites, and,
// when an oracle is configured, repairs the plan, bounded by the attempt
// ceiling. The plan is mutated in place; the returned Result carries the
// sanitized form. The only returned error is a malformed top-level request;
// every plan defect comes back as data in the Result.
func (e *Engine) ValidateAndRepair(ctx context.Context, steps []*plan.Step, goal string, meta map[string]string) (*Result, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan must be a non-empty array of steps")
	}

	Canonicalize(steps)
	sess := &session{
		steps:   steps,
		index:   BuildIndex(steps),
		tracker: newTracker(),
	}

	var (
		lastErrs []*StepError
		warnings []string
		warned   = make(map[string]bool)
	)
	// Warnings accumulate across passes: a filename synthesized in pass 1
	// persists on the plan, so later passes never re-raise it.
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		errs, warns, wraps := e.validatePass(ctx, sess)
		lastErrs = errs
		for _, w := range warns {
			if !warned[w] {
				warned[w] = true
				warnings = append(warnings, w)
			}
		}

		if w, ok := e.nextRewrite(wraps, sess.tracker); ok {
			if err := e.applyRewrite(ctx, sess, w); err != nil {
				e.log.Warn("iteration rewrite failed", zap.Error(err))
				lastErrs = append(lastErrs, errorf(KindGeneric, w.Consumer, "iteration rewrite failed: %v", err))
			} else {
				sess.tracker.Record(w.key())
				continue
			}
		}

		if len(lastErrs) == 0 {
			return e.finish(sess, nil, warnings, true), nil
		}

		if e.cfg.Oracle == nil || attempt == e.cfg.MaxAttempts {
			break
		}
		e.log.Info("invoking repair orchestrator",
			zap.Int("attempt", attempt), zap.Int("errors", len(lastErrs)))
		e.repair(ctx, sess, lastErrs, goal, meta)
	}

	return e.finish(sess, lastErrs, warnings, false), nil
}

// nextRewrite picks the first wrappable whose (consumer, producer, output)
// triple has not been rewritten before. At most one rewrite applies per
// validation pass.
func (e *Engine) nextRewrite(wraps []wrappable, t *tracker) (wrappable, bool) {
	for _, w := range wraps {
		if !t.Applied(w.key()) {
			return w, true
		}
	}
	return wrappable{}, false
}

func (e *Engine) finish(sess *session, errs []*StepError, warns []string, valid bool) *Result {
	return &Result{
		Plan:            Sanitize(sess.steps),
		Errors:          errs,
		Warnings:        warns,
		Transformations: sess.tracker.Keys(),
		Valid:           valid,
	}
}

// resolveManifest wraps the manifest source, degrading transport failures
// to "novel action" as the error model requires.
func (e *Engine) resolveManifest(ctx context.Context, action string) *registry.Manifest {
	if e.cfg.Manifests == nil {
		return nil
	}
	m, err := e.cfg.Manifests.Resolve(ctx, action)
	if err != nil {
		e.log.Warn("manifest resolution failed, treating action as novel",
			zap.String("action", action), zap.Error(err))
		return nil
	}
	return m
}
