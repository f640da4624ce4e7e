// Package correlate groups related alerts into incidents.
//
// A run loads the un-triaged alert pool and the open incidents, plans every
// decision in memory (Planner), then applies each decision as a short,
// independent unit: the affected alerts are claimed, their mappings are
// re-checked, and the writes for that one decision happen in a single
// transaction. Nothing is locked for the duration of a run, so scheduled batch
// runs and per-alert runs may overlap safely.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vigil/core"
	"vigil/metrics"
	"vigil/narrative"
	"vigil/risk"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the engine needs.
type Store interface {
	// ListAlertsByStatus returns alerts ordered by timestamp ascending.
	ListAlertsByStatus(ctx context.Context, statuses ...core.AlertStatus) ([]*core.Alert, error)
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	GetAlertsByIDs(ctx context.Context, ids []string) ([]*core.Alert, error)
	ListIncidentsByStatus(ctx context.Context, statuses ...core.IncidentStatus) ([]*core.Incident, error)
	ListMappingsByIncident(ctx context.Context, incidentID string) ([]core.AlertIncidentMap, error)
	// MappedAlertIDs returns the subset of ids present in the alert/incident map.
	MappedAlertIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// AttachAlert maps an alert to an incident, marks it Correlated and raises
	// the incident severity to severity when higher. It reports false when the
	// mapping already existed and fails with core.ErrIncidentInactive when the
	// incident left Open/In Progress since it was loaded.
	AttachAlert(ctx context.Context, alertID, incidentID string, severity core.Severity) (bool, error)
	// CreateCorrelatedIncident inserts the incident, maps the alerts and marks
	// them Correlated in one transaction. It fails with core.ErrAlreadyCorrelated
	// when any alert was mapped in the meantime.
	CreateCorrelatedIncident(ctx context.Context, incident *core.Incident, alertIDs []string) error
}

// Narrator produces incident narratives.
type Narrator interface {
	Narrate(ctx context.Context, subject narrative.Subject) narrative.Result
}

// Config tunes the engine.
type Config struct {
	// AttachWindow bounds attachment to incidents whose newest member is older
	// than the alert by more than this. Zero disables the bound.
	AttachWindow time.Duration `mapstructure:"attach_window"`
	// Workers bounds concurrent group processing.
	Workers int `mapstructure:"workers"`
}

// RunResult summarizes one correlation run. Counts include successful
// operations only.
type RunResult struct {
	Processed        int `json:"processed"`
	IncidentsCreated int `json:"incidents_created"`
	AlertsAttached   int `json:"alerts_attached"`
	Skipped          int `json:"skipped"`
	Errors           int `json:"errors"`
}

// Engine applies correlation plans.
type Engine struct {
	store    Store
	narrator Narrator
	locker   core.ClaimLocker
	planner  *Planner
	cfg      Config
	tracer   trace.Tracer
	logger   *zap.SugaredLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithTracerProvider enables tracing spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("vigil/correlate") }
}

// WithScorer sets the scorer used for alerts that have no stored risk score
func WithScorer(s *risk.Scorer) Option {
	return func(e *Engine) { e.planner = NewPlanner(s) }
}

// NewEngine creates a correlation engine. A nil narrator falls back to
// template-only narratives; a nil locker uses an in-process claim locker.
func NewEngine(store Store, narrator Narrator, locker core.ClaimLocker, cfg Config, logger *zap.SugaredLogger, opts ...Option) *Engine {
	if narrator == nil {
		narrator = narrative.NewGenerator(nil, logger)
	}
	if locker == nil {
		locker = core.NewMemoryClaimLocker()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	e := &Engine{
		store:    store,
		narrator: narrator,
		locker:   locker,
		planner:  NewPlanner(nil),
		cfg:      cfg,
		tracer:   noop.NewTracerProvider().Tracer("vigil/correlate"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunBatch correlates the whole un-triaged pool.
func (e *Engine) RunBatch(ctx context.Context) (RunResult, error) {
	return e.run(ctx, "batch", nil)
}

// CorrelateAlert correlates a single alert against open incidents and the
// un-triaged pool. It is a no-op for alerts that are already mapped.
func (e *Engine) CorrelateAlert(ctx context.Context, alertID string) (RunResult, error) {
	mapped, err := e.store.MappedAlertIDs(ctx, []string{alertID})
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("load").Inc()
		return RunResult{}, fmt.Errorf("failed to check mapping for alert %s: %w", alertID, err)
	}
	if mapped[alertID] {
		e.logger.Debugw("Alert already correlated, skipping", "alert_id", alertID)
		return RunResult{}, nil
	}

	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("load").Inc()
		return RunResult{}, fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}
	if alert.Status == core.AlertStatusCorrelated {
		return RunResult{}, nil
	}
	return e.run(ctx, "alert", alert)
}

func (e *Engine) run(ctx context.Context, mode string, focus *core.Alert) (result RunResult, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "correlation.run", trace.WithAttributes(attribute.String("correlation.mode", mode)))
	defer func() {
		metrics.CorrelationRunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.Int("correlation.processed", result.Processed),
			attribute.Int("correlation.incidents_created", result.IncidentsCreated),
			attribute.Int("correlation.alerts_attached", result.AlertsAttached),
			attribute.Int("correlation.errors", result.Errors),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	pool, err := e.loadPool(ctx, focus)
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("load").Inc()
		return result, err
	}
	result.Processed = len(pool)
	if len(pool) == 0 {
		return result, nil
	}

	incidents, err := e.loadIncidents(ctx)
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("load").Inc()
		return result, err
	}

	opts := PlanOptions{AttachWindow: e.cfg.AttachWindow}
	if focus != nil {
		opts.Focus = focus.ID
		span.SetAttributes(attribute.String("correlation.alert_id", focus.ID))
	}
	plan := e.planner.Plan(pool, incidents, opts)

	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeAttached:
			result.AlertsAttached++
		case outcomeCreated:
			result.IncidentsCreated++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Errors++
		}
	}

	for _, at := range plan.Attachments {
		if ctx.Err() != nil {
			break
		}
		record(e.applyAttachment(ctx, at))
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, group := range plan.Groups {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			record(e.applyGroup(ctx, group))
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Infow("Correlation run completed",
		"mode", mode,
		"processed", result.Processed,
		"incidents_created", result.IncidentsCreated,
		"alerts_attached", result.AlertsAttached,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration", time.Since(start))
	return result, ctx.Err()
}

// loadPool returns the un-triaged, unmapped alerts. A focus alert is always
// part of its own pool.
func (e *Engine) loadPool(ctx context.Context, focus *core.Alert) ([]*core.Alert, error) {
	alerts, err := e.store.ListAlertsByStatus(ctx, core.AlertStatusNew, core.AlertStatusReviewed)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert pool: %w", err)
	}
	if focus != nil {
		found := false
		for _, a := range alerts {
			if a.ID == focus.ID {
				found = true
				break
			}
		}
		if !found {
			alerts = append(alerts, focus)
		}
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	mapped, err := e.store.MappedAlertIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert mappings: %w", err)
	}

	pool := alerts[:0]
	for _, a := range alerts {
		if !mapped[a.ID] {
			pool = append(pool, a)
		}
	}
	return pool, nil
}

func (e *Engine) loadIncidents(ctx context.Context) ([]*IncidentEntities, error) {
	incidents, err := e.store.ListIncidentsByStatus(ctx, core.IncidentStatusOpen, core.IncidentStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to load open incidents: %w", err)
	}

	out := make([]*IncidentEntities, 0, len(incidents))
	for _, inc := range incidents {
		mappings, err := e.store.ListMappingsByIncident(ctx, inc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load mappings for incident %s: %w", inc.ID, err)
		}
		ids := make([]string, 0, len(mappings))
		for _, m := range mappings {
			ids = append(ids, m.AlertID)
		}
		members, err := e.store.GetAlertsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load members of incident %s: %w", inc.ID, err)
		}
		out = append(out, NewIncidentEntities(inc, members))
	}
	return out, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAttached
	outcomeCreated
	outcomeFailed
)

func claimKey(alertID string) string {
	return "alert:" + alertID
}

func (e *Engine) applyAttachment(ctx context.Context, at Attachment) outcome {
	release, ok, err := e.locker.Claim(ctx, claimKey(at.Alert.ID))
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("claim").Inc()
		e.logger.Errorw("Failed to claim alert", "alert_id", at.Alert.ID, "error", err)
		return outcomeFailed
	}
	if !ok {
		metrics.CorrelationSkips.WithLabelValues("claimed").Inc()
		return outcomeSkipped
	}
	defer release()

	mapped, err := e.store.MappedAlertIDs(ctx, []string{at.Alert.ID})
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("attach").Inc()
		e.logger.Errorw("Failed to re-check alert mapping", "alert_id", at.Alert.ID, "error", err)
		return outcomeFailed
	}
	if mapped[at.Alert.ID] {
		metrics.CorrelationSkips.WithLabelValues("mapped").Inc()
		return outcomeSkipped
	}

	attached, err := e.store.AttachAlert(ctx, at.Alert.ID, at.IncidentID, at.Alert.Severity)
	if errors.Is(err, core.ErrIncidentInactive) {
		metrics.CorrelationSkips.WithLabelValues("inactive").Inc()
		e.logger.Debugw("Incident closed before attach, skipping", "alert_id", at.Alert.ID, "incident_id", at.IncidentID)
		return outcomeSkipped
	}
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("attach").Inc()
		e.logger.Errorw("Failed to attach alert to incident",
			"alert_id", at.Alert.ID, "incident_id", at.IncidentID, "error", err)
		return outcomeFailed
	}
	if !attached {
		metrics.CorrelationSkips.WithLabelValues("mapped").Inc()
		return outcomeSkipped
	}

	metrics.AlertsAttached.Inc()
	e.logger.Infow("Alert attached to incident", "alert_id", at.Alert.ID, "incident_id", at.IncidentID)
	return outcomeAttached
}

func (e *Engine) applyGroup(ctx context.Context, g Group) outcome {
	ids := g.AlertIDs()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, claimKey(id))
	}

	release, ok, err := core.ClaimAll(ctx, e.locker, keys)
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("claim").Inc()
		e.logger.Errorw("Failed to claim alerts", "rule", g.Rule, "alerts", len(ids), "error", err)
		return outcomeFailed
	}
	if !ok {
		metrics.CorrelationSkips.WithLabelValues("claimed").Inc()
		return outcomeSkipped
	}
	defer release()

	mapped, err := e.store.MappedAlertIDs(ctx, ids)
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("create").Inc()
		e.logger.Errorw("Failed to re-check alert mappings", "rule", g.Rule, "error", err)
		return outcomeFailed
	}
	if len(mapped) > 0 {
		metrics.CorrelationSkips.WithLabelValues("mapped").Inc()
		e.logger.Debugw("Group members correlated concurrently, skipping", "rule", g.Rule, "mapped", len(mapped))
		return outcomeSkipped
	}

	incident := BuildIncident(g)
	res := e.narrator.Narrate(ctx, narrative.ForIncident(incident, g.Alerts))
	incident.Narrative = res.Text
	incident.NarrativeAIUsed = res.AIUsed

	err = e.store.CreateCorrelatedIncident(ctx, incident, ids)
	if errors.Is(err, core.ErrAlreadyCorrelated) {
		metrics.CorrelationSkips.WithLabelValues("mapped").Inc()
		e.logger.Debugw("Group members correlated during narration, skipping", "rule", g.Rule, "error", err)
		return outcomeSkipped
	}
	if err != nil {
		metrics.CorrelationErrors.WithLabelValues("create").Inc()
		e.logger.Errorw("Failed to create incident", "rule", g.Rule, "alerts", len(ids), "error", err)
		return outcomeFailed
	}

	metrics.IncidentsCreated.WithLabelValues(string(g.Rule)).Inc()
	e.logger.Infow("Incident created",
		"incident_id", incident.ID,
		"rule", g.Rule,
		"severity", incident.Severity,
		"priority", incident.Reason.Priority,
		"alerts", len(ids),
		"ai_narrative", res.AIUsed)
	return outcomeCreated
}

// BuildIncident derives the incident for a group: severity is the highest
// member severity and priority follows the average member risk score.
func BuildIncident(g Group) *core.Incident {
	severities := make([]core.Severity, 0, len(g.Alerts))
	for _, a := range g.Alerts {
		severities = append(severities, a.Severity)
	}
	return core.NewCorrelatedIncident(core.MaxSeverity(severities...), core.IncidentReason{
		Summary:  g.Summary,
		Drivers:  append([]string(nil), g.Drivers...),
		RuleID:   g.Rule,
		Priority: core.PriorityForScores(g.Scores),
	})
}
