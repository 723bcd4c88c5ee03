package episode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/domain/scoring"
	"github.com/pdclinic/pdclinic/internal/platform/store"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

var (
	ErrEpisodeClosed   = errors.New("episode is closed")
	ErrEpisodeExists   = errors.New("episode already exists")
	ErrVisitExists     = errors.New("visit already exists")
	ErrPatientMismatch = errors.New("episode does not belong to patient")
	ErrUnknownPatient  = errors.New("patient not found")
)

var (
	validStrategies       = map[string]bool{StrategySalvage: true, StrategyPalliative: true, StrategyAmputation: true}
	validRevascularizable = map[string]bool{"": true, "Sí": true, "No": true, "En estudio": true}
	validInfectionGrades  = map[string]bool{
		"":                        true,
		"Grado 1 (Limpia)":        true,
		"Grado 2 (Leve)":          true,
		"Grado 3 (Moderada)":      true,
		"Grado 4 (Severa/Sepsis)": true,
	}
	validCultureTypes    = map[string]bool{"": true, "Tejido profundo": true, "Óseo": true, "Hisopo": true}
	validCultureStatuses = map[string]bool{"Pendiente": true, "Disponible": true, "No tomado": true}
	validDocumentTypes   = map[string]bool{
		"Epicrisis": true, "Protocolo Operatorio": true, "Informe de Alta": true, "Interconsulta": true, "Otros": true,
	}
)

// Author identifies who is writing, taken from the authenticated caller.
type Author struct {
	ID   string
	Role string
}

// PatientLookup resolves the owning patient of an episode.
type PatientLookup interface {
	Get(ctx context.Context, center, id string) (*patient.Patient, error)
}

// ChangeNotifier is told about every write so alerts can be recomputed.
type ChangeNotifier interface {
	Changed(ctx context.Context, center string)
}

type Service struct {
	episodes EpisodeRepository
	visits   VisitRepository
	patients PatientLookup
	notifier ChangeNotifier
	mu       sync.Mutex
	now      func() time.Time
}

func NewService(episodes EpisodeRepository, visits VisitRepository, patients PatientLookup) *Service {
	return &Service{episodes: episodes, visits: visits, patients: patients, now: time.Now}
}

// SetNotifier sets the optional change notifier.
func (s *Service) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

func (s *Service) notify(ctx context.Context, center string) {
	if s.notifier != nil {
		s.notifier.Changed(ctx, center)
	}
}

// locked runs fn under the write lock. Callers notify after it returns so a
// slow notifier never holds up other writers.
func (s *Service) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Service) stamp() clinicaltime.Time {
	return clinicaltime.New(s.now().UTC())
}

// -- Episodes --

func (s *Service) CreateEpisode(ctx context.Context, center string, e *Episode) error {
	if e.PatientID == "" {
		return fmt.Errorf("patientId is required")
	}
	if err := validateEpisode(e); err != nil {
		return err
	}
	if _, err := s.patients.Get(ctx, center, e.PatientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownPatient
		}
		return err
	}

	err := s.locked(func() error {
		if e.ID != "" {
			if _, err := s.episodes.GetByID(ctx, center, e.ID); err == nil {
				return ErrEpisodeExists
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		} else {
			e.ID = uuid.New().String()
		}
		e.CenterID = center
		e.IsActive = true
		e.ClosedAt = clinicaltime.Time{}
		e.CreatedAt = s.stamp()
		if e.StartDate.IsZero() {
			e.StartDate = e.CreatedAt
		}
		for i := range e.Procedures {
			s.stampProcedure(&e.Procedures[i], Author{})
		}
		for i := range e.Documents {
			s.stampDocument(&e.Documents[i], Author{})
		}
		return s.episodes.Save(ctx, center, e)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, center)
	return nil
}

func (s *Service) GetEpisode(ctx context.Context, center, id string) (*Episode, error) {
	return s.episodes.GetByID(ctx, center, id)
}

// ListEpisodes returns the center's episodes, optionally limited to one
// patient and to active episodes.
func (s *Service) ListEpisodes(ctx context.Context, center, patientID string, activeOnly bool) ([]*Episode, error) {
	all, err := s.episodes.List(ctx, center)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(e *Episode, _ int) bool {
		return (patientID == "" || e.PatientID == patientID) && (!activeOnly || e.IsActive)
	}), nil
}

// UpdateEpisode amends an episode's clinical fields. Ownership, lifecycle
// and the procedure and document logs are kept from the stored record.
func (s *Service) UpdateEpisode(ctx context.Context, center string, e *Episode) error {
	if err := validateEpisode(e); err != nil {
		return err
	}
	err := s.locked(func() error {
		existing, err := s.episodes.GetByID(ctx, center, e.ID)
		if err != nil {
			return err
		}
		if e.PatientID != "" && e.PatientID != existing.PatientID {
			return ErrPatientMismatch
		}
		e.PatientID = existing.PatientID
		e.CenterID = existing.CenterID
		e.CreatedAt = existing.CreatedAt
		e.IsActive = existing.IsActive
		e.ClosedAt = existing.ClosedAt
		e.Procedures = existing.Procedures
		e.Documents = existing.Documents
		if e.StartDate.IsZero() {
			e.StartDate = existing.StartDate
		}
		e.UpdatedAt = s.stamp()
		return s.episodes.Save(ctx, center, e)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, center)
	return nil
}

// CloseEpisode marks the episode inactive. Closing twice is a no-op.
func (s *Service) CloseEpisode(ctx context.Context, center, id string) (*Episode, error) {
	var e *Episode
	changed := false
	err := s.locked(func() error {
		var err error
		if e, err = s.episodes.GetByID(ctx, center, id); err != nil {
			return err
		}
		if !e.IsActive {
			return nil
		}
		e.IsActive = false
		e.ClosedAt = s.stamp()
		e.UpdatedAt = e.ClosedAt
		changed = true
		return s.episodes.Save(ctx, center, e)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notify(ctx, center)
	}
	return e, nil
}

func (s *Service) AddProcedure(ctx context.Context, center, episodeID string, by Author, p *Procedure) (*Episode, error) {
	if p.Type != "Vascular" && p.Type != "General" {
		return nil, fmt.Errorf("invalid procedure type: %s", p.Type)
	}
	if strings.TrimSpace(p.Description) == "" {
		return nil, fmt.Errorf("description is required")
	}
	return s.appendToEpisode(ctx, center, episodeID, func(e *Episode) {
		s.stampProcedure(p, by)
		e.Procedures = append(e.Procedures, *p)
	})
}

func (s *Service) AddDocument(ctx context.Context, center, episodeID string, by Author, d *Document) (*Episode, error) {
	if !validDocumentTypes[d.Type] {
		return nil, fmt.Errorf("invalid document type: %s", d.Type)
	}
	if strings.TrimSpace(d.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	return s.appendToEpisode(ctx, center, episodeID, func(e *Episode) {
		s.stampDocument(d, by)
		e.Documents = append(e.Documents, *d)
	})
}

func (s *Service) appendToEpisode(ctx context.Context, center, id string, apply func(*Episode)) (*Episode, error) {
	var e *Episode
	err := s.locked(func() error {
		var err error
		if e, err = s.episodes.GetByID(ctx, center, id); err != nil {
			return err
		}
		apply(e)
		e.UpdatedAt = s.stamp()
		return s.episodes.Save(ctx, center, e)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, center)
	return e, nil
}

func (s *Service) stampProcedure(p *Procedure, by Author) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Date.IsZero() {
		p.Date = s.stamp()
	}
	if by.ID != "" {
		p.SpecialistID = by.ID
	}
	if by.Role != "" {
		p.SpecialistRole = by.Role
	}
}

func (s *Service) stampDocument(d *Document, by Author) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Date.IsZero() {
		d.Date = s.stamp()
	}
	if by.Role != "" {
		d.AuthorRole = by.Role
	}
}

// Wifi scores an episode against its most recent visit.
func (s *Service) Wifi(ctx context.Context, center, episodeID string) (scoring.WifiScore, error) {
	e, err := s.episodes.GetByID(ctx, center, episodeID)
	if err != nil {
		return scoring.WifiScore{}, err
	}
	visits, err := s.ListVisits(ctx, center, episodeID)
	if err != nil {
		return scoring.WifiScore{}, err
	}
	return e.Wifi(Latest(visits)), nil
}

func validateEpisode(e *Episode) error {
	if e.Side != "" && e.Side != "D" && e.Side != "I" {
		return fmt.Errorf("side must be D or I")
	}
	if e.Strategy == "" {
		e.Strategy = StrategySalvage
	}
	if !validStrategies[e.Strategy] {
		return fmt.Errorf("invalid strategy: %s", e.Strategy)
	}
	if err := finite("vascularStatus.abi", e.VascularStatus.ABI); err != nil {
		return err
	}
	if err := finite("vascularStatus.tbi", e.VascularStatus.TBI); err != nil {
		return err
	}
	if !validRevascularizable[e.VascularStatus.Revascularizable] {
		return fmt.Errorf("invalid revascularizable: %s", e.VascularStatus.Revascularizable)
	}
	switch e.InfectionBasal.Severity {
	case "", "Leve", "Moderada", "Severa":
	default:
		return fmt.Errorf("invalid infectionBasal.severity: %s", e.InfectionBasal.Severity)
	}
	if e.Procedures == nil {
		e.Procedures = []Procedure{}
	}
	if e.Documents == nil {
		e.Documents = []Document{}
	}
	return nil
}

func finite(field string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
		return fmt.Errorf("%s must be a finite number", field)
	}
	return nil
}

// -- Visits --

// CreateVisit records an assessment. The author comes from the caller, and
// the visit is flagged as a clinical alert when it and the visit before it
// both report "Peor".
func (s *Service) CreateVisit(ctx context.Context, center string, by Author, v *Visit) error {
	if err := validateVisit(v); err != nil {
		return err
	}

	if err := s.locked(func() error { return s.insertVisit(ctx, center, by, v) }); err != nil {
		return err
	}
	s.notify(ctx, center)
	return nil
}

func (s *Service) insertVisit(ctx context.Context, center string, by Author, v *Visit) error {
	e, err := s.episodes.GetByID(ctx, center, v.EpisodeID)
	if err != nil {
		return err
	}
	if !e.IsActive {
		return ErrEpisodeClosed
	}
	if v.ID != "" {
		if _, err := s.visits.GetByID(ctx, center, v.ID); err == nil {
			return ErrVisitExists
		}
	} else {
		v.ID = uuid.New().String()
	}

	v.CenterID = center
	v.CreatedAt = s.stamp()
	if v.Date.IsZero() {
		v.Date = v.CreatedAt
	}
	if by.ID != "" {
		v.ProfessionalID = by.ID
	}
	if by.Role != "" {
		v.ProfessionalRole = by.Role
	}

	prior, err := s.ListVisits(ctx, center, v.EpisodeID)
	if err != nil {
		return err
	}
	if previous := previousVisit(prior, v); v.Evolution == EvolutionWorse && previous != nil && previous.Evolution == EvolutionWorse {
		v.IsClinicalAlert = true
	}
	return s.visits.Create(ctx, center, v)
}

// previousVisit returns the most recent prior visit not dated after v. A
// prior visit sharing v's date counts as earlier. prior must be sorted most
// recent first.
func previousVisit(prior []*Visit, v *Visit) *Visit {
	for _, x := range prior {
		if !x.Date.After(v.Date.Time) {
			return x
		}
	}
	return nil
}

func (s *Service) GetVisit(ctx context.Context, center, id string) (*Visit, error) {
	return s.visits.GetByID(ctx, center, id)
}

// ListVisits returns an episode's visits most recent first.
func (s *Service) ListVisits(ctx context.Context, center, episodeID string) ([]*Visit, error) {
	all, err := s.visits.List(ctx, center)
	if err != nil {
		return nil, err
	}
	visits := lo.Filter(all, func(v *Visit, _ int) bool { return v.EpisodeID == episodeID })
	SortByDateDesc(visits)
	return visits, nil
}

func validateVisit(v *Visit) error {
	if v.EpisodeID == "" {
		return fmt.Errorf("episodeId is required")
	}
	if strings.TrimSpace(v.PhotoURL) == "" {
		return fmt.Errorf("photoUrl is required")
	}
	switch v.Evolution {
	case EvolutionBetter, EvolutionSame, EvolutionWorse:
	default:
		return fmt.Errorf("evolution must be Mejor, Igual or Peor")
	}
	for name, x := range map[string]float64{"length": v.Size.Length, "width": v.Size.Width, "depth": v.Size.Depth} {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return fmt.Errorf("size.%s must be a non-negative number", name)
		}
	}
	if !validInfectionGrades[v.InfectionToday.Severity] {
		return fmt.Errorf("invalid infectionToday.severity: %s", v.InfectionToday.Severity)
	}
	if v.Culture.ResultStatus == "" {
		v.Culture.ResultStatus = "No tomado"
	}
	if !validCultureStatuses[v.Culture.ResultStatus] {
		return fmt.Errorf("invalid culture.resultStatus: %s", v.Culture.ResultStatus)
	}
	if !validCultureTypes[v.Culture.Type] {
		return fmt.Errorf("invalid culture.type: %s", v.Culture.Type)
	}
	return nil
}
