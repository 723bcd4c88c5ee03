package patient

import (
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

// Patient is the aggregate root of the clinical record. Patients are never
// deleted, only amended.
type Patient struct {
	ID                 string             `json:"id"`
	CenterID           string             `json:"centerId,omitempty"`
	RUT                string             `json:"rut" validate:"required"`
	Name               string             `json:"name" validate:"required"`
	BirthDate          clinicaltime.Time  `json:"birthDate"`
	Comuna             string             `json:"comuna,omitempty"`
	Contact            string             `json:"contact,omitempty"`
	Comorbidities      []string           `json:"comorbidities"`
	Complications      Complications      `json:"complications"`
	Neuropathy         Neuropathy         `json:"neuropathy"`
	MetabolicTargets   MetabolicTargets   `json:"metabolicTargets"`
	SocialDeterminants SocialDeterminants `json:"socialDeterminants"`
	LabHistory         []LabResult        `json:"labHistory"`
	ImagingHistory     []ImagingResult    `json:"imagingHistory"`
	CreatedAt          clinicaltime.Time  `json:"createdAt"`
	UpdatedAt          clinicaltime.Time  `json:"updatedAt,omitempty"`
}

type Complications struct {
	Retinopathy bool       `json:"retinopathy"`
	Nephropathy bool       `json:"nephropathy"`
	ERCStage    string     `json:"ercStage,omitempty"`
	IAM         PriorEvent `json:"iam"`
	ACV         PriorEvent `json:"acv"`
}

// PriorEvent records a past myocardial infarction or stroke.
type PriorEvent struct {
	Has  bool `json:"has"`
	Year *int `json:"year,omitempty"`
}

type Neuropathy struct {
	Has        bool              `json:"has"`
	Method     string            `json:"method,omitempty" validate:"omitempty,oneof=Monofilamento Diapasón Ambos"`
	LastUpdate clinicaltime.Time `json:"lastUpdate"`
}

type MetabolicTargets struct {
	HbA1c    string            `json:"hba1c,omitempty"`
	PA       string            `json:"pa,omitempty"`
	LDL      string            `json:"ldl,omitempty"`
	LastDate clinicaltime.Time `json:"lastDate"`
}

type SocialDeterminants struct {
	HasEffectiveSupport bool   `json:"hasEffectiveSupport"`
	LivingConditions    string `json:"livingConditions,omitempty"`
}

// LabResult is one laboratory panel. Unmeasured values are nil.
type LabResult struct {
	ID         string            `json:"id"`
	Date       clinicaltime.Time `json:"date"`
	Albumin    *float64          `json:"albumin,omitempty"`
	VFG        *float64          `json:"vfg,omitempty"`
	PCR        *float64          `json:"pcr,omitempty"`
	VHS        *float64          `json:"vhs,omitempty"`
	Leucocitos *float64          `json:"leucocitos,omitempty"`
	HbA1c      *float64          `json:"hba1c,omitempty"`
}

type ImagingResult struct {
	ID       string            `json:"id"`
	Date     clinicaltime.Time `json:"date"`
	Type     string            `json:"type"`
	Report   string            `json:"report"`
	ImageURL string            `json:"imageUrl,omitempty"`
}

// LastLab returns the most recently appended lab result, or nil.
func (p *Patient) LastLab() *LabResult {
	if len(p.LabHistory) == 0 {
		return nil
	}
	return &p.LabHistory[len(p.LabHistory)-1]
}

// DisplayName returns the name, or "paciente" when p is nil or unnamed.
func (p *Patient) DisplayName() string {
	if p == nil || p.Name == "" {
		return "paciente"
	}
	return p.Name
}
