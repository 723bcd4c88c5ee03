// Package alert derives clinical alerts from the patient, episode and visit
// collections of a center. Alerts are never stored: the full set is rebuilt
// after every write.
package alert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

// Alert types.
const (
	TypeClinical       = "Clinical"
	TypeAdministrative = "Administrative"
	TypePROA           = "PROA"
	TypeSocial         = "Social"
	TypeNursing        = "Nursing"
	TypeSurgical       = "Surgical"
)

// Severities.
const (
	SeverityLow    = "Low"
	SeverityMedium = "Medium"
	SeverityHigh   = "High"
)

// CriticalABI is the ankle-brachial index below which ischemia is critical.
const CriticalABI = 0.5

// Alert is a warning derived from the current record. IDs are stable per rule
// and episode, so regenerating yields the same alert.
type Alert struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	EpisodeID  string            `json:"episodeId,omitempty"`
	PatientID  string            `json:"patientId,omitempty"`
	CreatedAt  clinicaltime.Time `json:"createdAt"`
	IsResolved bool              `json:"isResolved"`
}

// GenerateAlerts evaluates every rule against the active episodes. It reads
// only its arguments and is safe for concurrent use. Nil entries are ignored.
func GenerateAlerts(patients []*patient.Patient, episodes []*episode.Episode, visits []*episode.Visit) []Alert {
	return GenerateAt(patients, episodes, visits, time.Now())
}

// GenerateAt is GenerateAlerts with an explicit evaluation time.
func GenerateAt(patients []*patient.Patient, episodes []*episode.Episode, visits []*episode.Visit, now time.Time) []Alert {
	patients = lo.Filter(patients, func(p *patient.Patient, _ int) bool { return p != nil })
	visits = lo.Filter(visits, func(v *episode.Visit, _ int) bool { return v != nil })
	byID := lo.KeyBy(patients, func(p *patient.Patient) string { return p.ID })
	byEpisode := lo.GroupBy(visits, func(v *episode.Visit) string { return v.EpisodeID })
	created := clinicaltime.New(now.UTC())

	alerts := []Alert{}
	for _, ep := range episodes {
		if ep == nil || !ep.IsActive {
			continue
		}
		p := byID[ep.PatientID]
		base := Alert{EpisodeID: ep.ID, CreatedAt: created}
		if p != nil {
			base.PatientID = p.ID
		}

		if abi := ep.VascularStatus.ABI; abi != nil && *abi < CriticalABI {
			a := base
			a.ID = "isch-" + ep.ID
			a.Type, a.Severity = TypeSurgical, SeverityHigh
			a.Message = fmt.Sprintf("VASCULAR: Isquemia Crítica (ABI %s) en %s.",
				strconv.FormatFloat(*abi, 'f', -1, 64), p.DisplayName())
			alerts = append(alerts, a)
		}

		epVisits := append([]*episode.Visit(nil), byEpisode[ep.ID]...)
		episode.SortByDateDesc(epVisits)
		if len(epVisits) >= 2 &&
			epVisits[0].Evolution == episode.EvolutionWorse &&
			epVisits[1].Evolution == episode.EvolutionWorse {
			a := base
			a.ID = "peor-" + ep.ID
			a.Type, a.Severity = TypeClinical, SeverityHigh
			a.Message = fmt.Sprintf(`CRÍTICO: 2 evoluciones "Peor" consecutivas en %s.`, p.DisplayName())
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// CountBySeverity tallies alerts per severity.
func CountBySeverity(alerts []Alert) map[string]int {
	counts := map[string]int{}
	for sev, group := range lo.GroupBy(alerts, func(a Alert) string { return a.Severity }) {
		counts[sev] = len(group)
	}
	return counts
}
