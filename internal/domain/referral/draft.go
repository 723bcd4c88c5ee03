package referral

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/domain/scoring"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

// draftEvolutions is how many recent visits the evolution line summarises.
const draftEvolutions = 3

// Snapshot is the clinical summary a referral is written from.
type Snapshot struct {
	Patient       string   `json:"patient"`
	Comorbidities []string `json:"comorbidities"`
	Wifi          string   `json:"wifi"`
	Vascular      string   `json:"vascular"`
	Labs          string   `json:"labs"`
	Evolution     string   `json:"evolution"`
}

// Draft is a prefilled referral for an episode.
type Draft struct {
	EpisodeID string   `json:"episodeId"`
	PatientID string   `json:"patientId"`
	Snapshot  Snapshot `json:"snapshot"`
	Content   string   `json:"content"`
}

// BuildSnapshot summarises the patient, the episode's vascular state and WIfI
// score, the latest lab panel and the evolution of the last three visits.
// visits may be in any order.
func BuildSnapshot(p *patient.Patient, e *episode.Episode, visits []*episode.Visit, wifi scoring.WifiScore) Snapshot {
	s := Snapshot{
		Patient:       p.DisplayName(),
		Comorbidities: []string{},
		Wifi: fmt.Sprintf("W:%d I:%d fI:%d (Riesgo: %s, Beneficio Revasc: %s)",
			wifi.Wound, wifi.Ischemia, wifi.FootInfection, wifi.AmputationRisk, wifi.RevascularizationBenefit),
		Labs: "No disponibles",
	}
	if p != nil && p.Comorbidities != nil {
		s.Comorbidities = p.Comorbidities
	}

	abi := "N/A"
	if v := e.VascularStatus.ABI; v != nil && *v != 0 {
		abi = strconv.FormatFloat(*v, 'f', -1, 64)
	}
	s.Vascular = fmt.Sprintf("ABI: %s, Pulsos: DP %s/PT %s", abi, e.VascularStatus.Pulses.DP, e.VascularStatus.Pulses.PT)

	if p != nil {
		if lab := p.LastLab(); lab != nil {
			s.Labs = fmt.Sprintf("PCR: %s, VHS: %s, Albúmina: %s, VFG: %s",
				number(lab.PCR), number(lab.VHS), number(lab.Albumin), number(lab.VFG))
		}
	}

	recent := append([]*episode.Visit(nil), visits...)
	episode.SortByDateDesc(recent)
	if len(recent) > draftEvolutions {
		recent = recent[:draftEvolutions]
	}
	lines := make([]string, len(recent))
	for i, v := range recent {
		lines[i] = fmt.Sprintf("%s: %s (Plan previo: %s)", FormatDate(v.Date), v.Evolution, v.Plan)
	}
	s.Evolution = strings.Join(lines, " | ")
	return s
}

// Content renders the snapshot as the referral's initial text.
func (s Snapshot) Content() string {
	var b strings.Builder
	b.WriteString("SOLICITUD DE EVALUACIÓN\n")
	fmt.Fprintf(&b, "Paciente: %s\n\n", s.Patient)
	if len(s.Comorbidities) > 0 {
		fmt.Fprintf(&b, "Antecedentes: %s\n", strings.Join(s.Comorbidities, ", "))
	}
	fmt.Fprintf(&b, "Score WIfI: %s\n", s.Wifi)
	fmt.Fprintf(&b, "Estado Vascular: %s\n", s.Vascular)
	fmt.Fprintf(&b, "Laboratorio Reciente: %s\n", s.Labs)
	if s.Evolution != "" {
		fmt.Fprintf(&b, "Evolución de Herida: %s\n", s.Evolution)
	}
	return b.String()
}

// FormatDate renders a date as dd-mm-yyyy in UTC, or N/A when unset.
func FormatDate(t clinicaltime.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format("02-01-2006")
}

func number(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
