package referral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/events"
	"github.com/pdclinic/pdclinic/internal/platform/store"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

var (
	// ErrUnknownReferral is returned for ids that do not exist in the center.
	ErrUnknownReferral = store.ErrNotFound
	ErrSenderRole      = errors.New("only Médico Diabetología can send referrals")
	// ErrInvalid wraps every rejection of the referral's own fields.
	ErrInvalid = errors.New("invalid referral")
)

// EpisodeLookup reads the episode a referral is about.
type EpisodeLookup interface {
	GetEpisode(ctx context.Context, center, id string) (*episode.Episode, error)
	ListVisits(ctx context.Context, center, episodeID string) ([]*episode.Visit, error)
}

type PatientLookup interface {
	Get(ctx context.Context, center, id string) (*patient.Patient, error)
}

// Gauge receives the number of pending referrals of a center.
type Gauge interface {
	SetPendingReferrals(center string, n int)
}

type Service struct {
	repo      Repository
	episodes  EpisodeLookup
	patients  PatientLookup
	gauge     Gauge
	publisher events.Publisher
	logger    zerolog.Logger
	mu        sync.Mutex
	now       func() time.Time
}

func NewService(repo Repository, episodes EpisodeLookup, patients PatientLookup, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		episodes:  episodes,
		patients:  patients,
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

// Create files a new pending referral from a diabetologist. The episode must
// exist and belong to the referenced patient; an empty patient id is taken
// from the episode.
func (s *Service) Create(ctx context.Context, center string, by episode.Author, r *Referral) error {
	if by.Role != auth.RoleDoctor && by.Role != auth.RoleAdmin {
		return ErrSenderRole
	}
	if r.EpisodeID == "" {
		return fmt.Errorf("%w: episodeId is required", ErrInvalid)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalid)
	}
	ep, err := s.episodes.GetEpisode(ctx, center, r.EpisodeID)
	if err != nil {
		return err
	}
	if r.PatientID == "" {
		r.PatientID = ep.PatientID
	}
	if r.PatientID != ep.PatientID {
		return episode.ErrPatientMismatch
	}

	r.ID = uuid.New().String()
	r.CenterID = center
	r.Date = clinicaltime.New(s.now().UTC())
	r.Status = StatusPending
	r.SenderRole = by.Role
	r.SenderID = by.ID
	if err := s.repo.Save(ctx, center, r); err != nil {
		return err
	}
	s.publish(ctx, events.ReferralCreated, center, r.ID, r)
	s.refreshGauge(ctx, center)
	return nil
}

func (s *Service) Get(ctx context.Context, center, id string) (*Referral, error) {
	return s.repo.GetByID(ctx, center, id)
}

// List returns the center's referrals most recent first, optionally only
// those with the given status.
func (s *Service) List(ctx context.Context, center, status string) ([]*Referral, error) {
	all, err := s.repo.List(ctx, center)
	if err != nil {
		return nil, err
	}
	items := lo.Filter(all, func(r *Referral, _ int) bool { return status == "" || r.Status == status })
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date.Time)
	})
	return items, nil
}

// Review marks a referral as read. Reviewing an already reviewed referral
// returns it unchanged.
func (s *Service) Review(ctx context.Context, center, id string, by episode.Author) (*Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.repo.GetByID(ctx, center, id)
	if err != nil {
		return nil, err
	}
	if !r.Pending() {
		return r, nil
	}
	r.Status = StatusReviewed
	if err := s.repo.Save(ctx, center, r); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ReferralReviewed, center, r.ID, &Review{
		Referral:     r,
		ReviewedBy:   by.ID,
		ReviewerRole: by.Role,
		ReviewedAt:   clinicaltime.New(s.now().UTC()),
	})
	s.refreshGauge(ctx, center)
	return r, nil
}

// UnreadCount is the number of referrals still pending in the center.
func (s *Service) UnreadCount(ctx context.Context, center string) (int, error) {
	all, err := s.repo.List(ctx, center)
	if err != nil {
		return 0, err
	}
	return lo.CountBy(all, func(r *Referral) bool { return r.Pending() }), nil
}

// Draft prefills a referral for an episode from its current record.
func (s *Service) Draft(ctx context.Context, center, episodeID string) (*Draft, error) {
	ep, err := s.episodes.GetEpisode(ctx, center, episodeID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.Get(ctx, center, ep.PatientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	visits, err := s.episodes.ListVisits(ctx, center, episodeID)
	if err != nil {
		return nil, err
	}
	snap := BuildSnapshot(p, ep, visits, ep.Wifi(episode.Latest(visits)))
	return &Draft{
		EpisodeID: ep.ID,
		PatientID: ep.PatientID,
		Snapshot:  snap,
		Content:   snap.Content(),
	}, nil
}

func (s *Service) publish(ctx context.Context, typ, center, id string, payload interface{}) {
	ev := events.Event{Type: typ, CenterID: center, Payload: payload}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("center_id", center).Str("referral_id", id).Msg("publish referral event failed")
	}
}

func (s *Service) refreshGauge(ctx context.Context, center string) {
	if s.gauge == nil {
		return
	}
	n, err := s.UnreadCount(ctx, center)
	if err != nil {
		s.logger.Error().Err(err).Str("center_id", center).Msg("count pending referrals failed")
		return
	}
	s.gauge.SetPendingReferrals(center, n)
}
