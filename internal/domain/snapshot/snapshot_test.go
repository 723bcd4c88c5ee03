package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/domain/referral"
	"github.com/pdclinic/pdclinic/internal/platform/center"
	"github.com/pdclinic/pdclinic/internal/platform/store"
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

func newTestService() (*Service, *recordingNotifier) {
	s := store.NewMemoryStore()
	svc := NewService(
		patient.NewStoreRepo(s),
		episode.NewEpisodeStoreRepo(s),
		episode.NewVisitStoreRepo(s),
		referral.NewStoreRepo(s),
	)
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, n
}

const legacyFile = `{
  "users": [{"id":"u1","email":"doc@pd.cl","passwordHash":"abc:def","role":"Médico Diabetología"}],
  "appState": {
    "patients": [{"id":"P1","rut":"11111111-1","name":"Rosa"}, {"name":"sin id"}],
    "episodes": [{"id":"E1","patientId":"P1","isActive":true,"vascularStatus":{"abi":0.42,"pulses":{"dp":"-","pt":"-"}}}],
    "visits": [
      {"id":"V1","episodeId":"E1","date":"2024-05-01T10:00:00.000Z","evolution":"Peor","photoUrl":"a.jpg"},
      {"id":"V2","episodeId":"E1","date":"2024-05-08T10:00:00.000Z","evolution":"Peor","photoUrl":"b.jpg"}
    ],
    "referrals": [{"id":"R1","episodeId":"E1","patientId":"P1","content":"x","status":"Revisado"}]
  }
}`

func TestReadLegacyFile(t *testing.T) {
	f, err := ReadLegacyFile(strings.NewReader(legacyFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Users) != 1 || f.Users[0].PasswordHash != "abc:def" {
		t.Errorf("unexpected users %+v", f.Users)
	}
	st := f.AppState
	if len(st.Patients) != 2 || len(st.Episodes) != 1 || len(st.Visits) != 2 || len(st.Referrals) != 1 {
		t.Errorf("unexpected state sizes %d/%d/%d/%d", len(st.Patients), len(st.Episodes), len(st.Visits), len(st.Referrals))
	}
	if st.Visits[1].Date.Day() != 8 {
		t.Errorf("expected parsed visit date, got %v", st.Visits[1].Date)
	}

	if _, err := ReadLegacyFile(strings.NewReader(`{"users":`)); err == nil {
		t.Error("expected decode error")
	}
	empty, err := ReadLegacyFile(strings.NewReader(`{}`))
	if err != nil || empty.AppState.Patients == nil {
		t.Errorf("expected normalized empty state, got %+v, %v", empty, err)
	}
}

func TestService_ApplyAndLoad(t *testing.T) {
	svc, n := newTestService()
	ctx := context.Background()
	f, _ := ReadLegacyFile(strings.NewReader(legacyFile))

	res, err := svc.Apply(ctx, "c1", &f.AppState)
	if err != nil {
		t.Fatal(err)
	}
	want := Result{Patients: 1, Episodes: 1, Visits: 2, Referrals: 1, Skipped: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	if len(n.centers) != 1 || n.centers[0] != "c1" {
		t.Errorf("expected one recompute for c1, got %v", n.centers)
	}

	st, err := svc.Load(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Patients) != 1 || st.Patients[0].CenterID != "c1" {
		t.Errorf("unexpected patients %+v", st.Patients)
	}
	if st.Referrals[0].Status != referral.StatusReviewed {
		t.Errorf("status must survive import, got %q", st.Referrals[0].Status)
	}

	other, _ := svc.Load(ctx, "c2")
	if len(other.Patients) != 0 || other.Visits == nil {
		t.Errorf("expected empty non-nil state for c2, got %+v", other)
	}
}

func TestService_Apply_Upserts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.Apply(ctx, "c1", &State{Patients: []*patient.Patient{{ID: "P1", Name: "Old"}, {ID: "P2", Name: "Kept"}}})
	svc.Apply(ctx, "c1", &State{Patients: []*patient.Patient{{ID: "P1", Name: "New"}}})

	st, _ := svc.Load(ctx, "c1")
	if len(st.Patients) != 2 {
		t.Fatalf("records absent from the payload must stay, got %d", len(st.Patients))
	}
	if st.Patients[0].Name != "New" || st.Patients[1].Name != "Kept" {
		t.Errorf("unexpected patients %s, %s", st.Patients[0].Name, st.Patients[1].Name)
	}
}

func TestService_Apply_KeepsVisitsAndReviewedReferrals(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first := &State{
		Episodes:  []*episode.Episode{{ID: "E1", PatientID: "P1", IsActive: true}},
		Visits:    []*episode.Visit{{ID: "V1", EpisodeID: "E1", Evolution: "Mejor", PhotoURL: "a.jpg"}},
		Referrals: []*referral.Referral{{ID: "R1", EpisodeID: "E1", PatientID: "P1", Content: "x", Status: referral.StatusReviewed}},
	}
	if _, err := svc.Apply(ctx, "c1", first); err != nil {
		t.Fatal(err)
	}

	again := &State{
		Visits:    []*episode.Visit{{ID: "V1", EpisodeID: "E1", Evolution: "Peor", PhotoURL: "b.jpg"}},
		Referrals: []*referral.Referral{{ID: "R1", EpisodeID: "E1", PatientID: "P1", Content: "x", Status: referral.StatusPending}},
	}
	res, err := svc.Apply(ctx, "c1", again)
	if err != nil {
		t.Fatal(err)
	}
	if res.Visits != 0 || res.Skipped != 1 {
		t.Errorf("expected the stored visit to be skipped, got %+v", res)
	}

	st, _ := svc.Load(ctx, "c1")
	if len(st.Visits) != 1 || st.Visits[0].Evolution != "Mejor" || st.Visits[0].PhotoURL != "a.jpg" {
		t.Errorf("stored visit must not change, got %+v", st.Visits)
	}
	if st.Referrals[0].Status != referral.StatusReviewed {
		t.Errorf("a reviewed referral must stay Revisado, got %q", st.Referrals[0].Status)
	}
}

func TestHandler_State(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	body := `{"patients":[{"id":"P1","rut":"1-9","name":"Ana"}],"episodes":[],"visits":[],"referrals":[]}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(center.WithID(req.Context(), "c1"))
	rec := httptest.NewRecorder()
	if err := h.PutState(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("unexpected response %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(center.WithID(req.Context(), "c1"))
	rec = httptest.NewRecorder()
	if err := h.GetState(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"name":"Ana"`) || !strings.Contains(rec.Body.String(), `"visits":[]`) {
		t.Errorf("unexpected state %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"patients":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.PutState(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
