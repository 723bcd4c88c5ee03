// Package snapshot reads and writes a center's whole clinical state at once.
// It backs the bulk state endpoint and the import of legacy data files.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/domain/referral"
	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/store"
)

// State is every record of a center.
type State struct {
	Patients  []*patient.Patient   `json:"patients"`
	Episodes  []*episode.Episode   `json:"episodes"`
	Visits    []*episode.Visit     `json:"visits"`
	Referrals []*referral.Referral `json:"referrals"`
}

// Result counts the records written and skipped by Apply.
type Result struct {
	Patients  int `json:"patients"`
	Episodes  int `json:"episodes"`
	Visits    int `json:"visits"`
	Referrals int `json:"referrals"`
	Skipped   int `json:"skipped"`
}

// ChangeNotifier is told once after a state has been applied.
type ChangeNotifier interface {
	Changed(ctx context.Context, center string)
}

type Service struct {
	patients  patient.Repository
	episodes  episode.EpisodeRepository
	visits    episode.VisitRepository
	referrals referral.Repository
	notifier  ChangeNotifier
}

func NewService(patients patient.Repository, episodes episode.EpisodeRepository, visits episode.VisitRepository, referrals referral.Repository) *Service {
	return &Service{patients: patients, episodes: episodes, visits: visits, referrals: referrals}
}

func (s *Service) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

func (s *Service) Load(ctx context.Context, center string) (*State, error) {
	var (
		st  State
		err error
	)
	if st.Patients, err = s.patients.List(ctx, center); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if st.Episodes, err = s.episodes.List(ctx, center); err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	if st.Visits, err = s.visits.List(ctx, center); err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	if st.Referrals, err = s.referrals.List(ctx, center); err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	st.normalize()
	return &st, nil
}

// Apply upserts every record of st into the center. Records without an id
// are skipped. Records are never deleted, so a record missing from st stays
// stored. Visits are append-only: one whose id is already stored is skipped.
// A referral already marked Revisado keeps that status.
func (s *Service) Apply(ctx context.Context, center string, st *State) (Result, error) {
	var res Result
	for _, p := range st.Patients {
		if p == nil || p.ID == "" {
			res.Skipped++
			continue
		}
		p.CenterID = center
		if err := s.patients.Save(ctx, center, p); err != nil {
			return res, fmt.Errorf("save patient %s: %w", p.ID, err)
		}
		res.Patients++
	}
	for _, e := range st.Episodes {
		if e == nil || e.ID == "" {
			res.Skipped++
			continue
		}
		e.CenterID = center
		if err := s.episodes.Save(ctx, center, e); err != nil {
			return res, fmt.Errorf("save episode %s: %w", e.ID, err)
		}
		res.Episodes++
	}
	for _, v := range st.Visits {
		if v == nil || v.ID == "" {
			res.Skipped++
			continue
		}
		if _, err := s.visits.GetByID(ctx, center, v.ID); err == nil {
			res.Skipped++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return res, fmt.Errorf("load visit %s: %w", v.ID, err)
		}
		v.CenterID = center
		if err := s.visits.Create(ctx, center, v); err != nil {
			return res, fmt.Errorf("save visit %s: %w", v.ID, err)
		}
		res.Visits++
	}
	for _, r := range st.Referrals {
		if r == nil || r.ID == "" {
			res.Skipped++
			continue
		}
		r.CenterID = center
		stored, err := s.referrals.GetByID(ctx, center, r.ID)
		switch {
		case err == nil && !stored.Pending():
			r.Status = stored.Status
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return res, fmt.Errorf("load referral %s: %w", r.ID, err)
		}
		if r.Status == "" {
			r.Status = referral.StatusPending
		}
		if err := s.referrals.Save(ctx, center, r); err != nil {
			return res, fmt.Errorf("save referral %s: %w", r.ID, err)
		}
		res.Referrals++
	}
	if s.notifier != nil {
		s.notifier.Changed(ctx, center)
	}
	return res, nil
}

func (st *State) normalize() {
	if st.Patients == nil {
		st.Patients = []*patient.Patient{}
	}
	if st.Episodes == nil {
		st.Episodes = []*episode.Episode{}
	}
	if st.Visits == nil {
		st.Visits = []*episode.Visit{}
	}
	if st.Referrals == nil {
		st.Referrals = []*referral.Referral{}
	}
}

// LegacyFile is the single-file data format of the original backend.
type LegacyFile struct {
	Users    []*auth.User `json:"users"`
	AppState State        `json:"appState"`
}

// ReadLegacyFile decodes a legacy data file.
func ReadLegacyFile(r io.Reader) (*LegacyFile, error) {
	var f LegacyFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	f.AppState.normalize()
	return &f, nil
}
