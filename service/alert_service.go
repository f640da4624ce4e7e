package service

import (
	"context"
	"errors"
	"fmt"

	"vigil/core"
	"vigil/metrics"
	"vigil/narrative"
	"vigil/risk"
	"vigil/storage"

	"go.uber.org/zap"
)

// AlertStore defines the alert persistence the service needs.
// Defined here (consumer package) so tests can substitute it.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]*core.Alert, error)
	UpdateAlertAnalysis(ctx context.Context, id string, riskScore int, narrative string, aiUsed bool) error
	UpdateAlertNarrative(ctx context.Context, id, narrative string, aiUsed bool) error
	UpdateAlertStatus(ctx context.Context, id string, from, to core.AlertStatus) error
}

// Narrator produces alert and incident narratives.
type Narrator interface {
	Narrate(ctx context.Context, subject narrative.Subject) narrative.Result
}

// CorrelationTrigger is notified when an alert is ready for correlation.
type CorrelationTrigger interface {
	Notify(alertID string) bool
}

// AlertService implements ingestion and analyst operations on alerts.
type AlertService struct {
	store    AlertStore
	narrator Narrator
	scorer   *risk.Scorer
	trigger  CorrelationTrigger
	logger   *zap.SugaredLogger
}

// AlertAnalysis is a stored alert together with its live risk metrics.
type AlertAnalysis struct {
	Alert   *core.Alert      `json:"alert"`
	Metrics risk.RiskMetrics `json:"metrics"`
}

// NewAlertService creates an AlertService. trigger may be nil when
// correlation is only run on schedule.
func NewAlertService(store AlertStore, narrator Narrator, trigger CorrelationTrigger, logger *zap.SugaredLogger) *AlertService {
	if store == nil {
		panic("store is required")
	}
	if narrator == nil {
		panic("narrator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &AlertService{
		store:    store,
		narrator: narrator,
		scorer:   risk.NewScorer(),
		trigger:  trigger,
		logger:   logger,
	}
}

// Ingest normalizes, scores and narrates a new alert, persists it and queues
// it for correlation. A narration failure never fails ingestion.
func (s *AlertService) Ingest(ctx context.Context, alert *core.Alert) (*AlertAnalysis, error) {
	if alert == nil {
		return nil, fmt.Errorf("alert is required")
	}
	alert.RawLog = copyRawLog(alert.RawLog)
	alert.Normalize()
	// Ingested alerts always start the lifecycle fresh.
	alert.Status = core.AlertStatusNew

	m := s.scorer.Score(alert)
	alert.SetRiskScore(m.RiskScore)

	res := s.narrator.Narrate(ctx, narrative.ForAlert(alert))
	alert.Narrative = res.Text
	alert.AIUsed = res.AIUsed

	if err := s.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to store alert %s: %w", alert.ID, err)
	}

	metrics.AlertsIngested.WithLabelValues(string(alert.Severity)).Inc()
	metrics.RiskScores.Observe(float64(m.RiskScore))

	s.logger.Infow("Alert ingested",
		"alert_id", alert.ID,
		"alert_type", alert.Type,
		"severity", alert.Severity,
		"risk_score", m.RiskScore,
		"ai_used", res.AIUsed)

	if s.trigger != nil && !s.trigger.Notify(alert.ID) {
		s.logger.Warnw("Correlation queue full, alert left for the next batch run", "alert_id", alert.ID)
	}

	return &AlertAnalysis{Alert: alert, Metrics: m}, nil
}

// Get returns one alert
func (s *AlertService) Get(ctx context.Context, id string) (*core.Alert, error) {
	if id == "" {
		return nil, fmt.Errorf("alert id is required")
	}
	return s.store.GetAlert(ctx, id)
}

// List returns alerts newest first.
func (s *AlertService) List(ctx context.Context, filter storage.AlertFilter) ([]*core.Alert, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("invalid alert status: %q", filter.Status)
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListAlerts(ctx, filter)
}

// Risk recomputes the risk metrics of a stored alert. An alert stored without
// a score gets the computed score persisted.
func (s *AlertService) Risk(ctx context.Context, id string) (*AlertAnalysis, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m := s.scorer.Score(alert)
	if alert.RiskScore == nil {
		if err := s.store.UpdateAlertAnalysis(ctx, alert.ID, m.RiskScore, alert.Narrative, alert.AIUsed); err != nil {
			return nil, fmt.Errorf("failed to store risk score for alert %s: %w", alert.ID, err)
		}
		alert.SetRiskScore(m.RiskScore)
	}
	return &AlertAnalysis{Alert: alert, Metrics: m}, nil
}

// AlertNarrative returns the alert's narrative, generating and persisting one
// only when none is stored or the stored text no longer parses. regenerate
// forces a new narrative.
func (s *AlertService) AlertNarrative(ctx context.Context, id string, regenerate bool) (narrative.Result, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return narrative.Result{}, err
	}

	subject := narrative.ForAlert(alert)
	if !regenerate {
		if stored, ok := narrative.Stored(subject, alert.Narrative, alert.AIUsed); ok {
			return stored, nil
		}
	}

	res := s.narrator.Narrate(ctx, subject)
	if err := s.store.UpdateAlertNarrative(ctx, alert.ID, res.Text, res.AIUsed); err != nil {
		return narrative.Result{}, fmt.Errorf("failed to store narrative for alert %s: %w", alert.ID, err)
	}
	return res, nil
}

// MarkReviewed moves an alert from New to Reviewed.
func (s *AlertService) MarkReviewed(ctx context.Context, id string) (*core.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := alert.Status
	if err := alert.TransitionTo(core.AlertStatusReviewed); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAlertStatus(ctx, alert.ID, from, core.AlertStatusReviewed); err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			s.logger.Infow("Alert status changed concurrently", "alert_id", alert.ID)
		}
		return nil, err
	}
	return alert, nil
}
