package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/platform/events"
)

// Gauge receives the per-severity alert counts of a center.
type Gauge interface {
	SetAlerts(center string, bySeverity map[string]int)
}

// Service recomputes a center's alerts from its stored records.
type Service struct {
	patients  patient.Repository
	episodes  episode.EpisodeRepository
	visits    episode.VisitRepository
	gauge     Gauge
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(patients patient.Repository, episodes episode.EpisodeRepository, visits episode.VisitRepository, logger zerolog.Logger) *Service {
	return &Service{
		patients:  patients,
		episodes:  episodes,
		visits:    visits,
		publisher: events.Nop{},
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetGauge(g Gauge) {
	s.gauge = g
}

func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// Current returns the alerts for a center's records as they are now.
func (s *Service) Current(ctx context.Context, center string) ([]Alert, error) {
	patients, err := s.patients.List(ctx, center)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	episodes, err := s.episodes.List(ctx, center)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	visits, err := s.visits.List(ctx, center)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return GenerateAt(patients, episodes, visits, s.now()), nil
}

// Changed recomputes the center's alerts after a write. Errors are logged and
// never returned to the writer.
func (s *Service) Changed(ctx context.Context, center string) {
	alerts, err := s.Current(ctx, center)
	if err != nil {
		s.logger.Error().Err(err).Str("center_id", center).Msg("alert recompute failed")
		return
	}
	counts := CountBySeverity(alerts)
	if s.gauge != nil {
		s.gauge.SetAlerts(center, counts)
	}

	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	ev := events.Event{
		Type:     events.AlertsRecomputed,
		CenterID: center,
		Payload: map[string]interface{}{
			"total":      len(alerts),
			"bySeverity": counts,
			"alertIds":   ids,
		},
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("center_id", center).Msg("publish alerts event failed")
	}
	s.logger.Debug().Str("center_id", center).Int("alerts", len(alerts)).Msg("alerts recomputed")
}
