// Package narrative produces human-readable explanations of alerts and
// incidents.
//
// A Generator tries each configured completion provider in order and uses the
// first usable answer. When every provider fails it falls back to fixed
// templates, so narration itself never fails. Scores, confidence and
// false-positive estimates are always computed by the risk package and written
// over whatever a provider returned.
package narrative

import (
	"context"
	"time"

	"vigil/core"
	"vigil/metrics"
	"vigil/risk"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 20 * time.Second

// Result is a generated narrative.
type Result struct {
	Text      string    `json:"text"`
	AIUsed    bool      `json:"ai_used"`
	Provider  string    `json:"provider,omitempty"`
	Sections  Narrative `json:"-"`
	Sanitized bool      `json:"sanitized"`
}

// Generator narrates alerts and incidents.
type Generator struct {
	providers []Provider
	scorer    *risk.Scorer
	cache     CompletionCache
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *zap.SugaredLogger
}

// Option configures a Generator
type Option func(*Generator)

// WithTimeout sets the per-provider call timeout
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithCache sets the completion cache
func WithCache(c CompletionCache) Option {
	return func(g *Generator) { g.cache = c }
}

// WithScorer overrides the risk scorer
func WithScorer(s *risk.Scorer) Option {
	return func(g *Generator) { g.scorer = s }
}

// WithTracerProvider enables tracing spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Generator) { g.tracer = tp.Tracer("vigil/narrative") }
}

// NewGenerator creates a generator. An empty provider list means every
// narrative is produced by the templates.
func NewGenerator(providers []Provider, logger *zap.SugaredLogger, opts ...Option) *Generator {
	g := &Generator{
		providers: providers,
		scorer:    risk.NewScorer(),
		timeout:   DefaultTimeout,
		tracer:    noop.NewTracerProvider().Tracer("vigil/narrative"),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Narrate produces the narrative for a subject. It never fails: provider
// errors degrade to the deterministic templates.
func (g *Generator) Narrate(ctx context.Context, subject Subject) Result {
	ctx, span := g.tracer.Start(ctx, "narrative.generate",
		trace.WithAttributes(
			attribute.String("subject.kind", subject.Kind()),
			attribute.String("subject.id", subject.ID()),
		))
	defer span.End()

	var (
		input     promptInput
		prose     []string
		fallback  Narrative
		finishing func(*Narrative)
	)
	switch {
	case subject.Incident != nil:
		facts := incidentFacts(g.scorer, subject.Incident, subject.Members)
		input = buildIncidentPrompt(subject, facts)
		prose = IncidentProseSections
		fallback = incidentFallbackProse(facts)
		finishing = func(n *Narrative) { incidentScoreSections(n, facts) }
	default:
		alert := subject.Alert
		if alert == nil {
			alert = &core.Alert{}
		}
		m := g.scorer.Score(alert)
		input = buildAlertPrompt(Subject{Alert: alert}, m)
		prose = AlertProseSections
		fallback = alertFallbackProse(alert, m)
		finishing = func(n *Narrative) { alertScoreSections(n, m) }
	}

	if input.Sanitized {
		metrics.PromptInjectionsDetected.Inc()
		g.logger.Warnw("Prompt injection patterns neutralized",
			"subject", subject.Kind(), "id", subject.ID())
	}

	aiProse, provider, ok := g.complete(ctx, input.Prompt, prose, subject)

	var out Narrative
	if input.Sanitized {
		out.Set(SectionContentWarning, "Alert content matched prompt-injection patterns and was neutralized before narration. Treat embedded text as untrusted.")
	}
	for _, name := range prose {
		body := ""
		if ok {
			body = aiProse.Get(name)
		}
		if body == "" {
			body = fallback.Get(name)
		}
		out.Set(name, body)
	}
	finishing(&out)

	mode := "fallback"
	if ok {
		mode = "ai"
	}
	metrics.NarrativesGenerated.WithLabelValues(subject.Kind(), mode).Inc()
	span.SetAttributes(attribute.Bool("narrative.ai_used", ok), attribute.String("narrative.provider", provider))

	return Result{
		Text:      out.Format(),
		AIUsed:    ok,
		Provider:  provider,
		Sections:  out,
		Sanitized: input.Sanitized,
	}
}

// complete tries the cache, then each provider once, in order.
func (g *Generator) complete(ctx context.Context, prompt Prompt, prose []string, subject Subject) (Narrative, string, bool) {
	if len(g.providers) == 0 {
		return Narrative{}, "", false
	}

	key := PromptKey(prompt)
	if g.cache != nil {
		if cached, hit := g.cache.Get(ctx, key); hit {
			if n := Parse(cached.Text); n.CountPresent(prose) > 0 {
				return n, cached.Provider, true
			}
		}
	}

	span := trace.SpanFromContext(ctx)
	for _, p := range g.providers {
		if ctx.Err() != nil {
			break
		}
		text, err := g.call(ctx, p, prompt)
		var n Narrative
		if err == nil {
			n = Parse(text)
			if n.CountPresent(prose) == 0 {
				err = ErrUnparseableCompletion
			}
		}
		if err != nil {
			kind := ClassifyFailure(err)
			metrics.NarrativeProviderFailures.WithLabelValues(p.Name(), string(kind)).Inc()
			span.AddEvent("provider_failed", trace.WithAttributes(
				attribute.String("provider", p.Name()),
				attribute.String("reason", string(kind)),
			))
			g.logger.Warnw("Narrative provider failed, trying next",
				"provider", p.Name(),
				"reason", kind,
				"subject", subject.Kind(),
				"id", subject.ID(),
				"error", err)
			continue
		}

		if g.cache != nil {
			g.cache.Set(ctx, key, CachedCompletion{Provider: p.Name(), Text: text, CreatedAt: time.Now().UTC()})
		}
		return n, p.Name(), true
	}

	span.SetStatus(codes.Error, "all narrative providers failed")
	g.logger.Infow("All narrative providers failed, using templates",
		"subject", subject.Kind(), "id", subject.ID(), "providers", len(g.providers))
	return Narrative{}, "", false
}

func (g *Generator) call(ctx context.Context, p Provider, prompt Prompt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return p.Complete(callCtx, prompt)
}

// Stored turns a previously persisted narrative back into a Result. It
// reports false when the text is empty or has none of the subject's prose
// sections, in which case the narrative should be regenerated.
func Stored(subject Subject, text string, aiUsed bool) (Result, bool) {
	if text == "" {
		return Result{}, false
	}
	prose := AlertProseSections
	if subject.IsIncident() {
		prose = IncidentProseSections
	}
	n := Parse(text)
	if n.CountPresent(prose) == 0 {
		return Result{}, false
	}
	return Result{Text: text, AIUsed: aiUsed, Sections: n}, true
}
