package episode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/domain/scoring"
	"github.com/pdclinic/pdclinic/internal/platform/store"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

type recordingNotifier struct {
	mu      sync.Mutex
	centers []string
}

func (n *recordingNotifier) Changed(_ context.Context, center string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.centers = append(n.centers, center)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.centers)
}

type fixture struct {
	svc      *Service
	patients *patient.Service
	notifier *recordingNotifier
	patient  *patient.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	patients := patient.NewService(patient.NewStoreRepo(s))
	p := &patient.Patient{RUT: "11111111-1", Name: "Ana Soto"}
	if err := patients.Create(context.Background(), "c1", p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	svc := NewService(NewEpisodeStoreRepo(s), NewVisitStoreRepo(s), patients)
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return &fixture{svc: svc, patients: patients, notifier: n, patient: p}
}

func (f *fixture) episode(t *testing.T) *Episode {
	t.Helper()
	e := &Episode{PatientID: f.patient.ID, Side: "D", Location: "Hallux"}
	if err := f.svc.CreateEpisode(context.Background(), "c1", e); err != nil {
		t.Fatalf("create episode: %v", err)
	}
	return e
}

func day(s string) clinicaltime.Time {
	t, err := clinicaltime.Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func visitOn(episodeID, date, evolution string) *Visit {
	return &Visit{EpisodeID: episodeID, Date: day(date), PhotoURL: "photo.jpg", Evolution: evolution}
}

func ptr(f float64) *float64 { return &f }

func TestService_CreateEpisode(t *testing.T) {
	f := newFixture(t)
	e := f.episode(t)

	if e.ID == "" || !e.IsActive || e.CenterID != "c1" {
		t.Errorf("unexpected episode %+v", e)
	}
	if e.Strategy != StrategySalvage {
		t.Errorf("expected default strategy, got %q", e.Strategy)
	}
	if e.StartDate.IsZero() {
		t.Error("expected start date to default to creation time")
	}
	if e.Procedures == nil || e.Documents == nil {
		t.Error("expected empty logs, got nil")
	}
	if f.notifier.count() != 1 {
		t.Errorf("expected 1 notification, got %d", f.notifier.count())
	}
}

func TestService_CreateEpisode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		episode func(patientID string) *Episode
		wantErr error
	}{
		{"missing patient", func(string) *Episode { return &Episode{} }, nil},
		{"unknown patient", func(string) *Episode { return &Episode{PatientID: "ghost"} }, ErrUnknownPatient},
		{"bad side", func(id string) *Episode { return &Episode{PatientID: id, Side: "X"} }, nil},
		{"bad strategy", func(id string) *Episode { return &Episode{PatientID: id, Strategy: "Otra"} }, nil},
		{"bad severity", func(id string) *Episode {
			return &Episode{PatientID: id, InfectionBasal: BasalInfection{Has: true, Severity: "Extrema"}}
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.CreateEpisode(context.Background(), "c1", tt.episode(f.patient.ID))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if f.notifier.count() != 0 {
				t.Error("failed write must not notify")
			}
		})
	}
}

func TestService_CreateEpisode_OtherCenterPatient(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreateEpisode(context.Background(), "c2", &Episode{PatientID: f.patient.ID})
	if !errors.Is(err, ErrUnknownPatient) {
		t.Errorf("expected ErrUnknownPatient across centers, got %v", err)
	}
}

func TestService_CreateEpisode_ExistingID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)
	if _, err := f.svc.AddProcedure(ctx, "c1", e.ID, Author{ID: "u1"}, &Procedure{Type: "General", Description: "Aseo"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CloseEpisode(ctx, "c1", e.ID); err != nil {
		t.Fatal(err)
	}

	err := f.svc.CreateEpisode(ctx, "c1", &Episode{ID: e.ID, PatientID: f.patient.ID})
	if !errors.Is(err, ErrEpisodeExists) {
		t.Fatalf("expected ErrEpisodeExists, got %v", err)
	}
	got, err := f.svc.GetEpisode(ctx, "c1", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive || got.ClosedAt.IsZero() || len(got.Procedures) != 1 {
		t.Errorf("existing episode was overwritten: %+v", got)
	}
}

// gateNotifier blocks its first call until release is closed.
type gateNotifier struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (n *gateNotifier) Changed(context.Context, string) {
	first := false
	n.once.Do(func() { first = true })
	if first {
		close(n.entered)
		<-n.release
	}
}

func TestService_SlowNotifierDoesNotBlockWriters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)
	gate := &gateNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.SetNotifier(gate)

	closed := make(chan error, 1)
	go func() {
		_, err := f.svc.CloseEpisode(ctx, "c1", e.ID)
		closed <- err
	}()
	<-gate.entered

	created := make(chan error, 1)
	go func() {
		created <- f.svc.CreateEpisode(ctx, "c1", &Episode{PatientID: f.patient.ID, Side: "I"})
	}()
	select {
	case err := <-created:
		if err != nil {
			t.Errorf("create episode: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("write blocked behind a slow notifier")
	}

	close(gate.release)
	if err := <-closed; err != nil {
		t.Errorf("close episode: %v", err)
	}
}

func TestService_ListEpisodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.episode(t)
	f.episode(t)
	other := &patient.Patient{RUT: "22222222-2", Name: "Luis"}
	if err := f.patients.Create(ctx, "c1", other); err != nil {
		t.Fatal(err)
	}
	f.svc.CreateEpisode(ctx, "c1", &Episode{PatientID: other.ID})
	f.svc.CloseEpisode(ctx, "c1", a.ID)

	all, _ := f.svc.ListEpisodes(ctx, "c1", "", false)
	if len(all) != 3 {
		t.Errorf("expected 3 episodes, got %d", len(all))
	}
	mine, _ := f.svc.ListEpisodes(ctx, "c1", f.patient.ID, false)
	if len(mine) != 2 {
		t.Errorf("expected 2 episodes for patient, got %d", len(mine))
	}
	active, _ := f.svc.ListEpisodes(ctx, "c1", f.patient.ID, true)
	if len(active) != 1 || active[0].ID == a.ID {
		t.Errorf("expected only the open episode, got %+v", active)
	}
}

func TestService_UpdateEpisode_KeepsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)
	if _, err := f.svc.AddDocument(ctx, "c1", e.ID, Author{Role: "Enfermería"}, &Document{Type: "Epicrisis", Title: "Ingreso"}); err != nil {
		t.Fatal(err)
	}

	upd := &Episode{ID: e.ID, Location: "Talón", VascularStatus: VascularStatus{ABI: ptr(0.4)}, IsActive: false}
	if err := f.svc.UpdateEpisode(ctx, "c1", upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := f.svc.GetEpisode(ctx, "c1", e.ID)
	if got.Location != "Talón" || *got.VascularStatus.ABI != 0.4 {
		t.Errorf("clinical fields not updated: %+v", got)
	}
	if !got.IsActive || got.PatientID != f.patient.ID || len(got.Documents) != 1 {
		t.Errorf("lifecycle or logs lost: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected updatedAt stamp")
	}

	err := f.svc.UpdateEpisode(ctx, "c1", &Episode{ID: e.ID, PatientID: "someone-else"})
	if !errors.Is(err, ErrPatientMismatch) {
		t.Errorf("expected ErrPatientMismatch, got %v", err)
	}
}

func TestService_CloseEpisode_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)

	first, err := f.svc.CloseEpisode(ctx, "c1", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.IsActive || first.ClosedAt.IsZero() {
		t.Errorf("expected closed episode, got %+v", first)
	}
	closedAt := first.ClosedAt
	second, err := f.svc.CloseEpisode(ctx, "c1", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.ClosedAt.Equal(closedAt.Time) {
		t.Error("second close must not restamp closedAt")
	}
	if f.notifier.count() != 2 {
		t.Errorf("expected create and one close notification, got %d", f.notifier.count())
	}
	if _, err := f.svc.CloseEpisode(ctx, "c1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_AddProcedure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)

	got, err := f.svc.AddProcedure(ctx, "c1", e.ID, Author{ID: "u1", Role: "Cirugía Vascular"},
		&Procedure{Type: "Vascular", Description: "Angioplastía", SpecialistRole: "spoofed"})
	if err != nil {
		t.Fatalf("add procedure: %v", err)
	}
	if len(got.Procedures) != 1 {
		t.Fatalf("expected 1 procedure, got %d", len(got.Procedures))
	}
	p := got.Procedures[0]
	if p.ID == "" || p.Date.IsZero() || p.SpecialistID != "u1" || p.SpecialistRole != "Cirugía Vascular" {
		t.Errorf("procedure not stamped from author: %+v", p)
	}

	if _, err := f.svc.AddProcedure(ctx, "c1", e.ID, Author{}, &Procedure{Type: "Dental", Description: "x"}); err == nil {
		t.Error("expected invalid type error")
	}
	if _, err := f.svc.AddProcedure(ctx, "c1", e.ID, Author{}, &Procedure{Type: "General"}); err == nil {
		t.Error("expected missing description error")
	}
}

func TestService_AddDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)

	if _, err := f.svc.AddDocument(ctx, "c1", e.ID, Author{}, &Document{Type: "Carta", Title: "x"}); err == nil {
		t.Error("expected invalid type error")
	}
	if _, err := f.svc.AddDocument(ctx, "c1", e.ID, Author{}, &Document{Type: "Otros", Title: "  "}); err == nil {
		t.Error("expected missing title error")
	}
	got, err := f.svc.AddDocument(ctx, "c1", e.ID, Author{Role: "Cirugía General"}, &Document{Type: "Protocolo Operatorio", Title: "Aseo quirúrgico"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Documents[0].AuthorRole != "Cirugía General" {
		t.Errorf("expected author role stamp, got %q", got.Documents[0].AuthorRole)
	}
}

func TestService_CreateVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)

	v := &Visit{EpisodeID: e.ID, PhotoURL: "p.jpg", Evolution: EvolutionSame, ProfessionalRole: "spoofed"}
	if err := f.svc.CreateVisit(ctx, "c1", Author{ID: "u9", Role: "Enfermería"}, v); err != nil {
		t.Fatalf("create visit: %v", err)
	}
	if v.ID == "" || v.Date.IsZero() || v.CenterID != "c1" {
		t.Errorf("visit not stamped: %+v", v)
	}
	if v.ProfessionalID != "u9" || v.ProfessionalRole != "Enfermería" {
		t.Errorf("expected author from caller, got %s/%s", v.ProfessionalID, v.ProfessionalRole)
	}
	if v.Culture.ResultStatus != "No tomado" {
		t.Errorf("expected default culture status, got %q", v.Culture.ResultStatus)
	}
	if v.IsClinicalAlert {
		t.Error("first visit cannot be an alert")
	}
}

func TestService_CreateVisit_Errors(t *testing.T) {
	tests := []struct {
		name  string
		visit func(episodeID string) *Visit
	}{
		{"no photo", func(id string) *Visit { return &Visit{EpisodeID: id, Evolution: EvolutionBetter} }},
		{"bad evolution", func(id string) *Visit { return &Visit{EpisodeID: id, PhotoURL: "p", Evolution: "Regular"} }},
		{"negative size", func(id string) *Visit {
			return &Visit{EpisodeID: id, PhotoURL: "p", Evolution: EvolutionBetter, Size: WoundSize{Depth: -1}}
		}},
		{"bad infection grade", func(id string) *Visit {
			return &Visit{EpisodeID: id, PhotoURL: "p", Evolution: EvolutionBetter, InfectionToday: InfectionAssessment{Severity: "Grado 9"}}
		}},
		{"bad culture type", func(id string) *Visit {
			return &Visit{EpisodeID: id, PhotoURL: "p", Evolution: EvolutionBetter, Culture: Culture{Taken: true, Type: "Sangre"}}
		}},
		{"missing episode", func(string) *Visit { return &Visit{PhotoURL: "p", Evolution: EvolutionBetter} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.episode(t)
			before := f.notifier.count()
			if err := f.svc.CreateVisit(context.Background(), "c1", Author{}, tt.visit(e.ID)); err == nil {
				t.Fatal("expected error")
			}
			if f.notifier.count() != before {
				t.Error("rejected visit must not notify")
			}
		})
	}
}

func TestService_CreateVisit_ClosedEpisode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)
	f.svc.CloseEpisode(ctx, "c1", e.ID)

	err := f.svc.CreateVisit(ctx, "c1", Author{}, visitOn(e.ID, "2024-05-01", EvolutionBetter))
	if !errors.Is(err, ErrEpisodeClosed) {
		t.Errorf("expected ErrEpisodeClosed, got %v", err)
	}
}

func TestService_CreateVisit_DuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)

	v := visitOn(e.ID, "2024-05-01", EvolutionBetter)
	v.ID = "v1"
	if err := f.svc.CreateVisit(ctx, "c1", Author{}, v); err != nil {
		t.Fatal(err)
	}
	dup := visitOn(e.ID, "2024-05-02", EvolutionWorse)
	dup.ID = "v1"
	if err := f.svc.CreateVisit(ctx, "c1", Author{}, dup); !errors.Is(err, ErrVisitExists) {
		t.Errorf("expected ErrVisitExists, got %v", err)
	}
	got, _ := f.svc.GetVisit(ctx, "c1", "v1")
	if got.Evolution != EvolutionBetter {
		t.Error("existing visit must not be overwritten")
	}
}

func TestService_CreateVisit_ClinicalAlertFlag(t *testing.T) {
	tests := []struct {
		name  string
		prior []string
		dates []string
		next  string
		date  string
		want  bool
	}{
		{"two worse in a row", []string{EvolutionWorse}, []string{"2024-05-01"}, EvolutionWorse, "2024-05-08", true},
		{"worse after better", []string{EvolutionBetter}, []string{"2024-05-01"}, EvolutionWorse, "2024-05-08", false},
		{"better after worse", []string{EvolutionWorse}, []string{"2024-05-01"}, EvolutionBetter, "2024-05-08", false},
		{"same day counts as previous", []string{EvolutionWorse}, []string{"2024-05-01"}, EvolutionWorse, "2024-05-01", true},
		{"backdated visit compares with older one", []string{EvolutionBetter, EvolutionWorse}, []string{"2024-05-01", "2024-05-10"}, EvolutionWorse, "2024-05-05", false},
		{"first visit", nil, nil, EvolutionWorse, "2024-05-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			e := f.episode(t)
			for i, evo := range tt.prior {
				if err := f.svc.CreateVisit(ctx, "c1", Author{}, visitOn(e.ID, tt.dates[i], evo)); err != nil {
					t.Fatal(err)
				}
			}
			v := visitOn(e.ID, tt.date, tt.next)
			if err := f.svc.CreateVisit(ctx, "c1", Author{}, v); err != nil {
				t.Fatal(err)
			}
			if v.IsClinicalAlert != tt.want {
				t.Errorf("isClinicalAlert = %v, want %v", v.IsClinicalAlert, tt.want)
			}
		})
	}
}

func TestService_ListVisits_Order(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.episode(t)
	other := f.episode(t)

	for _, v := range []*Visit{
		{ID: "a", EpisodeID: e.ID, Date: day("2024-05-01"), PhotoURL: "p", Evolution: EvolutionBetter},
		{ID: "b", EpisodeID: e.ID, Date: day("2024-05-10"), PhotoURL: "p", Evolution: EvolutionBetter},
		{ID: "c", EpisodeID: e.ID, Date: day("2024-05-10"), PhotoURL: "p", Evolution: EvolutionSame},
		{ID: "x", EpisodeID: other.ID, Date: day("2024-06-01"), PhotoURL: "p", Evolution: EvolutionSame},
		{ID: "d", EpisodeID: e.ID, Date: day("2024-05-05"), PhotoURL: "p", Evolution: EvolutionSame},
	} {
		if err := f.svc.CreateVisit(ctx, "c1", Author{}, v); err != nil {
			t.Fatal(err)
		}
	}

	visits, err := f.svc.ListVisits(ctx, "c1", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, v := range visits {
		ids = append(ids, v.ID)
	}
	want := []string{"b", "c", "d", "a"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	if Latest(visits).ID != "b" {
		t.Errorf("expected latest b, got %s", Latest(visits).ID)
	}
}

func TestService_Wifi(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := &Episode{PatientID: f.patient.ID, VascularStatus: VascularStatus{ABI: ptr(0.3)}}
	if err := f.svc.CreateEpisode(ctx, "c1", e); err != nil {
		t.Fatal(err)
	}

	score, err := f.svc.Wifi(ctx, "c1", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if score.Wound != 0 || score.Ischemia != 3 || score.FootInfection != 0 || score.AmputationRisk != scoring.RiskHigh {
		t.Errorf("unexpected score without visits: %+v", score)
	}

	old := visitOn(e.ID, "2024-05-01", EvolutionSame)
	old.Size.Depth = 12
	recent := visitOn(e.ID, "2024-05-08", EvolutionSame)
	recent.Size.Depth = 1
	recent.InfectionToday = InfectionAssessment{Has: true, Severity: "Grado 2 (Leve)"}
	f.svc.CreateVisit(ctx, "c1", Author{}, old)
	f.svc.CreateVisit(ctx, "c1", Author{}, recent)

	score, _ = f.svc.Wifi(ctx, "c1", e.ID)
	if score.Wound != 1 || score.FootInfection != 1 {
		t.Errorf("expected score from most recent visit, got %+v", score)
	}

	if _, err := f.svc.Wifi(ctx, "c1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_StampsUseClock(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	e := &Episode{PatientID: f.patient.ID}
	if err := f.svc.CreateEpisode(context.Background(), "c1", e); err != nil {
		t.Fatal(err)
	}
	if !e.CreatedAt.Equal(fixed) || !e.StartDate.Equal(fixed) {
		t.Errorf("expected stamps at %v, got %v / %v", fixed, e.CreatedAt, e.StartDate)
	}
}
