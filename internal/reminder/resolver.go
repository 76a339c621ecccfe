package reminder

import (
	"context"
	"time"

	logx "remindbot/pkg/logx"
)

// Source names the resolver layer that produced a result.
type Source string

const (
	SourceSimple   Source = "simple"
	SourceSemantic Source = "semantic"
	SourceFallback Source = "fallback"
)

// Resolution is a detailed outcome of Orchestrator.ResolveDetailed.
// Exactly one of Reminder and Failure is set.
type Resolution struct {
	Reminder *ParsedReminder
	Source   Source
	Failure  *Failure
	// SemanticFailure records why the semantic layer was skipped over, if it was consulted.
	SemanticFailure *Failure
}

// Orchestrator chains the resolvers in confidence order.
type Orchestrator struct {
	semantic *SemanticResolver
	log      logx.Logger
}

// NewOrchestrator wires the resolvers. semantic may be nil, in which case the
// chain goes straight from the deterministic pass to its fallback.
func NewOrchestrator(semantic *SemanticResolver, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{semantic: semantic, log: log}
}

// Resolve returns a reminder strictly after now, or nil when nothing could be understood.
func (o *Orchestrator) Resolve(ctx context.Context, message string, now time.Time) *ParsedReminder {
	return o.ResolveDetailed(ctx, message, now).Reminder
}

// ResolveDetailed runs the fallback chain:
//  1. deterministic pass; a high-confidence result returns without a completion call
//  2. semantic pass
//  3. deterministic pass again, accepting its keyword default
func (o *Orchestrator) ResolveDetailed(ctx context.Context, message string, now time.Time) Resolution {
	if p := ResolveSimple(message, now); p != nil && p.Confidence == ConfidenceHigh {
		if EnsureFuture(p, now) {
			return Resolution{Reminder: p, Source: SourceSimple}
		}
		o.log.Debug("relative offset not in the future", logx.Time("fire_at", p.FireAt))
	}

	var semFail *Failure
	if o.semantic != nil {
		p, f := o.semantic.resolve(ctx, message, now)
		if f == nil {
			return Resolution{Reminder: p, Source: SourceSemantic}
		}
		semFail = f
	}

	if p := ResolveSimple(message, now); p != nil && EnsureFuture(p, now) {
		return Resolution{Reminder: p, Source: SourceFallback, SemanticFailure: semFail}
	}

	return Resolution{
		Failure:         &Failure{Kind: ParseFailure, Err: ErrParseFailure},
		SemanticFailure: semFail,
	}
}
