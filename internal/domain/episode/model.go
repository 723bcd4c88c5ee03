package episode

import (
	"sort"

	"github.com/pdclinic/pdclinic/internal/domain/scoring"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

// Treatment strategies.
const (
	StrategySalvage    = "Salvataje"
	StrategyPalliative = "Paliativo"
	StrategyAmputation = "Plan Amputación"
)

// Visit evolutions.
const (
	EvolutionBetter = "Mejor"
	EvolutionSame   = "Igual"
	EvolutionWorse  = "Peor"
)

// Episode is one tracked wound of a patient.
type Episode struct {
	ID                  string              `json:"id"`
	CenterID            string              `json:"centerId,omitempty"`
	PatientID           string              `json:"patientId" validate:"required"`
	StartDate           clinicaltime.Time   `json:"startDate"`
	Side                string              `json:"side" validate:"omitempty,oneof=D I"`
	Location            string              `json:"location"`
	Etiology            string              `json:"etiology"`
	VascularStatus      VascularStatus      `json:"vascularStatus"`
	InfectionBasal      BasalInfection      `json:"infectionBasal"`
	Strategy            string              `json:"strategy"`
	AmputationMajorRisk AmputationMajorRisk `json:"amputationMajorRisk"`
	Procedures          []Procedure         `json:"procedures"`
	Documents           []Document          `json:"documents"`
	IsActive            bool                `json:"isActive"`
	ClosedAt            clinicaltime.Time   `json:"closedAt,omitempty"`
	CreatedAt           clinicaltime.Time   `json:"createdAt"`
	UpdatedAt           clinicaltime.Time   `json:"updatedAt,omitempty"`
}

type VascularStatus struct {
	Pulses Pulses `json:"pulses"`
	// ABI is the ankle-brachial index; nil when not measured.
	ABI              *float64 `json:"abi,omitempty"`
	TBI              *float64 `json:"tbi,omitempty"`
	Revascularizable string   `json:"revascularizable,omitempty"`
	ExamRequested    string   `json:"examRequested,omitempty"`
	ExamStatus       string   `json:"examStatus,omitempty"`
	Plan             string   `json:"plan,omitempty"`
}

// Pulses are the dorsalis pedis and posterior tibial findings.
type Pulses struct {
	DP string `json:"dp"`
	PT string `json:"pt"`
}

type BasalInfection struct {
	Has      bool   `json:"has"`
	Severity string `json:"severity,omitempty" validate:"omitempty,oneof=Leve Moderada Severa"`
}

type AmputationMajorRisk struct {
	Enabled      bool              `json:"enabled"`
	Criteria     []string          `json:"criteria,omitempty"`
	DecisionDate clinicaltime.Time `json:"decisionDate,omitempty"`
}

type Procedure struct {
	ID             string            `json:"id"`
	Date           clinicaltime.Time `json:"date"`
	Type           string            `json:"type" validate:"required,oneof=Vascular General"`
	Description    string            `json:"description" validate:"required"`
	SpecialistID   string            `json:"specialistId"`
	SpecialistRole string            `json:"specialistRole"`
	Notes          string            `json:"notes,omitempty"`
}

type Document struct {
	ID         string            `json:"id"`
	Date       clinicaltime.Time `json:"date"`
	Type       string            `json:"type" validate:"required"`
	Title      string            `json:"title" validate:"required"`
	Content    string            `json:"content"`
	AuthorRole string            `json:"authorRole"`
}

// Visit is one assessment of an episode. Visits are append-only.
type Visit struct {
	ID               string              `json:"id"`
	CenterID         string              `json:"centerId,omitempty"`
	EpisodeID        string              `json:"episodeId"`
	Date             clinicaltime.Time   `json:"date"`
	ProfessionalID   string              `json:"professionalId"`
	ProfessionalRole string              `json:"professionalRole"`
	PhotoURL         string              `json:"photoUrl" validate:"required"`
	Evolution        string              `json:"evolution" validate:"required,oneof=Mejor Igual Peor"`
	Size             WoundSize           `json:"size"`
	InfectionToday   InfectionAssessment `json:"infectionToday"`
	ATB              AntibioticCourse    `json:"atb"`
	Culture          Culture             `json:"culture"`
	NursingTactics   *NursingTactics     `json:"nursingTactics,omitempty"`
	Plan             string              `json:"plan"`
	ResponsiblePlan  string              `json:"responsiblePlan,omitempty"`
	IsClinicalAlert  bool                `json:"isClinicalAlert"`
	Wifi             *scoring.WifiScore  `json:"wifi,omitempty"`
	Wagner           *int                `json:"wagner,omitempty" validate:"omitempty,gte=0,lte=5"`
	Texas            string              `json:"texas,omitempty"`
	CreatedAt        clinicaltime.Time   `json:"createdAt"`
}

// WoundSize is measured in millimeters.
type WoundSize struct {
	Length            float64 `json:"length" validate:"gte=0"`
	Width             float64 `json:"width" validate:"gte=0"`
	Depth             float64 `json:"depth" validate:"gte=0"`
	NotMeasuredReason string  `json:"notMeasuredReason,omitempty"`
}

type InfectionAssessment struct {
	Has      bool     `json:"has"`
	Severity string   `json:"severity,omitempty"`
	Signs    []string `json:"signs,omitempty"`
}

type AntibioticCourse struct {
	InCourse    bool              `json:"inCourse"`
	Scheme      string            `json:"scheme,omitempty"`
	Dose        string            `json:"dose,omitempty"`
	StartDate   clinicaltime.Time `json:"startDate,omitempty"`
	EndDate     clinicaltime.Time `json:"endDate,omitempty"`
	Responsible string            `json:"responsible,omitempty"`
}

type Culture struct {
	Taken         bool          `json:"taken"`
	Type          string        `json:"type,omitempty"`
	ResultStatus  string        `json:"resultStatus"`
	ResultDetails string        `json:"resultDetails,omitempty"`
	Sensitivities []Sensitivity `json:"sensitivities,omitempty"`
}

type Sensitivity struct {
	Drug      string `json:"drug"`
	Sensitive bool   `json:"sensitive"`
}

type NursingTactics struct {
	Cleaning          string   `json:"cleaning"`
	Debridement       string   `json:"debridement"`
	Dressings         []string `json:"dressings"`
	AdvancedTherapies []string `json:"advancedTherapies"`
	OtherTechnique    string   `json:"otherTechnique,omitempty"`
}

// Findings extracts the inputs the WIfI score reads from a visit. A nil visit
// yields nil findings.
func (v *Visit) Findings() *scoring.Findings {
	if v == nil {
		return nil
	}
	f := &scoring.Findings{Depth: v.Size.Depth}
	if v.InfectionToday.Has || v.InfectionToday.Severity != "" {
		f.Infection = &scoring.Infection{Has: v.InfectionToday.Has, Severity: v.InfectionToday.Severity}
	}
	return f
}

// Wifi scores the episode against its most recent visit (nil when none).
func (e *Episode) Wifi(last *Visit) scoring.WifiScore {
	return scoring.CalculateWifi(e.VascularStatus.ABI, last.Findings())
}

// SortByDateDesc orders visits most recent first. Visits sharing a date keep
// their relative order.
func SortByDateDesc(visits []*Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		return visits[i].Date.After(visits[j].Date.Time)
	})
}

// Latest returns the most recent visit, or nil for an empty slice.
func Latest(visits []*Visit) *Visit {
	var latest *Visit
	for _, v := range visits {
		if latest == nil || v.Date.After(latest.Date.Time) {
			latest = v
		}
	}
	return latest
}
