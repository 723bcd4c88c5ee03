package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdclinic/pdclinic/internal/platform/store"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

var (
	ErrDuplicateRUT  = errors.New("a patient with this RUT already exists")
	ErrPatientExists = errors.New("patient already exists")
)

var validImagingTypes = map[string]bool{
	"Radiografía": true, "AngioTAC": true, "Eco Doppler": true, "RM": true,
}

// ChangeNotifier is told about every write so derived state (alerts) can be
// recomputed for the center.
type ChangeNotifier interface {
	Changed(ctx context.Context, center string)
}

type Service struct {
	repo     Repository
	notifier ChangeNotifier
	// mu serialises the RUT uniqueness check with the write.
	mu  sync.Mutex
	now func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
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

// locked runs fn under the write lock. Notifications are sent after it
// returns so a slow notifier never holds up other writers.
func (s *Service) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Create registers a patient. A client-supplied id that is already taken is
// rejected rather than overwritten.
func (s *Service) Create(ctx context.Context, center string, p *Patient) error {
	if err := s.prepare(p); err != nil {
		return err
	}

	err := s.locked(func() error {
		if p.ID != "" {
			if _, err := s.repo.GetByID(ctx, center, p.ID); err == nil {
				return ErrPatientExists
			} else if !IsNotFound(err) {
				return err
			}
		}
		if err := s.checkUniqueRUT(ctx, center, p.RUT, ""); err != nil {
			return err
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CenterID = center
		p.CreatedAt = clinicaltime.New(s.now().UTC())
		p.UpdatedAt = clinicaltime.Time{}
		for i := range p.LabHistory {
			s.stampLab(&p.LabHistory[i])
		}
		for i := range p.ImagingHistory {
			if p.ImagingHistory[i].ID == "" {
				p.ImagingHistory[i].ID = uuid.New().String()
			}
		}
		return s.repo.Save(ctx, center, p)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, center)
	return nil
}

func (s *Service) Get(ctx context.Context, center, id string) (*Patient, error) {
	return s.repo.GetByID(ctx, center, id)
}

// List returns the center's patients in registration order. A non-empty q
// filters by case-insensitive substring of name or RUT.
func (s *Service) List(ctx context.Context, center, q string) ([]*Patient, error) {
	all, err := s.repo.List(ctx, center)
	if err != nil {
		return nil, err
	}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return all, nil
	}
	qRUT := strings.ReplaceAll(q, ".", "")
	out := make([]*Patient, 0, len(all))
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.RUT), qRUT) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Update amends a patient. Identity fields (id, center, creation time) are
// kept from the stored record.
func (s *Service) Update(ctx context.Context, center string, p *Patient) error {
	if err := s.prepare(p); err != nil {
		return err
	}

	err := s.locked(func() error {
		existing, err := s.repo.GetByID(ctx, center, p.ID)
		if err != nil {
			return err
		}
		if existing.RUT != p.RUT {
			if err := s.checkUniqueRUT(ctx, center, p.RUT, p.ID); err != nil {
				return err
			}
		}
		p.CenterID = existing.CenterID
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = clinicaltime.New(s.now().UTC())
		for i := range p.LabHistory {
			s.stampLab(&p.LabHistory[i])
		}
		return s.repo.Save(ctx, center, p)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, center)
	return nil
}

// AddLabResult appends a lab panel to the patient's history.
func (s *Service) AddLabResult(ctx context.Context, center, patientID string, lab *LabResult) (*Patient, error) {
	return s.amend(ctx, center, patientID, func(p *Patient) {
		s.stampLab(lab)
		p.LabHistory = append(p.LabHistory, *lab)
	})
}

// AddImagingResult appends an imaging study to the patient's history.
func (s *Service) AddImagingResult(ctx context.Context, center, patientID string, img *ImagingResult) (*Patient, error) {
	if !validImagingTypes[img.Type] {
		return nil, fmt.Errorf("invalid imaging type: %s", img.Type)
	}
	return s.amend(ctx, center, patientID, func(p *Patient) {
		if img.ID == "" {
			img.ID = uuid.New().String()
		}
		if img.Date.IsZero() {
			img.Date = clinicaltime.New(s.now().UTC())
		}
		p.ImagingHistory = append(p.ImagingHistory, *img)
	})
}

func (s *Service) amend(ctx context.Context, center, id string, apply func(*Patient)) (*Patient, error) {
	var p *Patient
	err := s.locked(func() error {
		var err error
		if p, err = s.repo.GetByID(ctx, center, id); err != nil {
			return err
		}
		apply(p)
		p.UpdatedAt = clinicaltime.New(s.now().UTC())
		return s.repo.Save(ctx, center, p)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, center)
	return p, nil
}

func (s *Service) prepare(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.RUT == "" {
		return fmt.Errorf("rut is required")
	}
	p.RUT = NormalizeRUT(p.RUT)
	if !ValidRUT(p.RUT) {
		return fmt.Errorf("invalid rut: %s", p.RUT)
	}
	for _, img := range p.ImagingHistory {
		if !validImagingTypes[img.Type] {
			return fmt.Errorf("invalid imaging type: %s", img.Type)
		}
	}
	if p.Comorbidities == nil {
		p.Comorbidities = []string{}
	}
	if p.LabHistory == nil {
		p.LabHistory = []LabResult{}
	}
	if p.ImagingHistory == nil {
		p.ImagingHistory = []ImagingResult{}
	}
	return nil
}

func (s *Service) stampLab(lab *LabResult) {
	if lab.ID == "" {
		lab.ID = uuid.New().String()
	}
	if lab.Date.IsZero() {
		lab.Date = clinicaltime.New(s.now().UTC())
	}
}

func (s *Service) checkUniqueRUT(ctx context.Context, center, rut, selfID string) error {
	all, err := s.repo.List(ctx, center)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.RUT == rut && other.ID != selfID {
			return ErrDuplicateRUT
		}
	}
	return nil
}

// IsNotFound reports whether err means the patient does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
