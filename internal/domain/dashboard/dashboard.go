// Package dashboard summarises a center's caseload and orders active
// episodes by nursing priority.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/pdclinic/pdclinic/internal/domain/alert"
	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
)

// Priorities, 1 being the most urgent.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// photoInterval is how long an episode may go without a visit photo.
const photoInterval = 7 * 24 * time.Hour

type Stats struct {
	Patients       int `json:"patients"`
	ActiveEpisodes int `json:"activeEpisodes"`
	HighAlerts     int `json:"highAlerts"`
	VisitsOnATB    int `json:"visitsOnAntibiotics"`
}

type Item struct {
	Episode      *episode.Episode `json:"episode"`
	Patient      *patient.Patient `json:"patient,omitempty"`
	LastVisit    *episode.Visit   `json:"lastVisit,omitempty"`
	Priority     int              `json:"priority"`
	PhotoOverdue bool             `json:"photoOverdue"`
	Worse        bool             `json:"worse"`
	Critical     bool             `json:"critical"`
}

type Dashboard struct {
	Stats    Stats  `json:"stats"`
	Episodes []Item `json:"episodes"`
}

// Build computes the dashboard at time now. Items are ordered by priority and
// keep the episode order within a priority.
func Build(patients []*patient.Patient, episodes []*episode.Episode, visits []*episode.Visit, alerts []alert.Alert, now time.Time) Dashboard {
	active := lo.Filter(episodes, func(e *episode.Episode, _ int) bool { return e.IsActive })
	activeIDs := lo.SliceToMap(active, func(e *episode.Episode) (string, bool) { return e.ID, true })
	byPatient := lo.KeyBy(patients, func(p *patient.Patient) string { return p.ID })
	byEpisode := lo.GroupBy(visits, func(v *episode.Visit) string { return v.EpisodeID })
	critical := lo.SliceToMap(
		lo.Filter(alerts, func(a alert.Alert, _ int) bool { return a.Severity == alert.SeverityHigh }),
		func(a alert.Alert) (string, bool) { return a.EpisodeID, true },
	)

	d := Dashboard{
		Stats: Stats{
			Patients:       len(patients),
			ActiveEpisodes: len(active),
			HighAlerts:     lo.CountBy(alerts, func(a alert.Alert) bool { return a.Severity == alert.SeverityHigh }),
			VisitsOnATB: lo.CountBy(visits, func(v *episode.Visit) bool {
				return activeIDs[v.EpisodeID] && v.ATB.InCourse
			}),
		},
		Episodes: make([]Item, 0, len(active)),
	}

	for _, ep := range active {
		last := episode.Latest(byEpisode[ep.ID])
		item := Item{
			Episode:   ep,
			Patient:   byPatient[ep.PatientID],
			LastVisit: last,
			Critical:  critical[ep.ID],
		}
		item.PhotoOverdue = last == nil || now.Sub(last.Date.Time) > photoInterval
		item.Worse = last != nil && last.Evolution == episode.EvolutionWorse
		switch {
		case item.Critical || item.Worse:
			item.Priority = PriorityHigh
		case item.PhotoOverdue:
			item.Priority = PriorityMedium
		default:
			item.Priority = PriorityLow
		}
		d.Episodes = append(d.Episodes, item)
	}
	sort.SliceStable(d.Episodes, func(i, j int) bool {
		return d.Episodes[i].Priority < d.Episodes[j].Priority
	})
	return d
}

// AlertSource yields the current alerts of a center.
type AlertSource interface {
	Current(ctx context.Context, center string) ([]alert.Alert, error)
}

type Service struct {
	patients patient.Repository
	episodes episode.EpisodeRepository
	visits   episode.VisitRepository
	alerts   AlertSource
	now      func() time.Time
}

func NewService(patients patient.Repository, episodes episode.EpisodeRepository, visits episode.VisitRepository, alerts AlertSource) *Service {
	return &Service{patients: patients, episodes: episodes, visits: visits, alerts: alerts, now: time.Now}
}

func (s *Service) Get(ctx context.Context, center string) (Dashboard, error) {
	patients, err := s.patients.List(ctx, center)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list patients: %w", err)
	}
	episodes, err := s.episodes.List(ctx, center)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list episodes: %w", err)
	}
	visits, err := s.visits.List(ctx, center)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list visits: %w", err)
	}
	alerts, err := s.alerts.Current(ctx, center)
	if err != nil {
		return Dashboard{}, err
	}
	return Build(patients, episodes, visits, alerts, s.now()), nil
}
