// Package scoring computes the SVS WIfI (Wound, Ischemia, foot Infection)
// classification for a diabetic foot episode and the amputation risk and
// revascularization benefit derived from it.
//
// The calculation is a pure, total function: every input is optional and an
// absent input contributes a zero grade. It is safe for concurrent use.
package scoring

import (
	"math"
	"strings"
)

// Amputation risk labels.
const (
	RiskVeryLow  = "Muy Bajo"
	RiskLow      = "Bajo"
	RiskModerate = "Moderado"
	RiskHigh     = "Alto"
)

// Revascularization benefit labels.
const (
	BenefitMinimal  = "Mínimo"
	BenefitLow      = "Bajo"
	BenefitModerate = "Moderado"
	BenefitHigh     = "Alto"
)

// WifiScore is the result of a WIfI classification.
type WifiScore struct {
	Wound                    int    `json:"wound"`
	Ischemia                 int    `json:"ischemia"`
	FootInfection            int    `json:"footInfection"`
	ClinicalStage            int    `json:"clinicalStage"`
	AmputationRisk           string `json:"amputationRisk"`
	RevascularizationBenefit string `json:"revascularizationBenefit"`
}

// Findings are the parts of the most recent visit the score reads.
type Findings struct {
	// Depth is the wound depth in millimeters.
	Depth     float64
	Infection *Infection
}

// Infection is the infection-today assessment of a visit.
type Infection struct {
	Has      bool
	Severity string
}

// CalculateWifi scores an episode with ankle-brachial index abi (nil when not
// measured) and the findings of its most recent visit (nil when the episode
// has no visits).
func CalculateWifi(abi *float64, last *Findings) WifiScore {
	w := WoundGrade(last)
	i := IschemiaGrade(abi)
	fi := InfectionGrade(last)
	sum := w + i + fi

	score := WifiScore{
		Wound:         w,
		Ischemia:      i,
		FootInfection: fi,
		ClinicalStage: clinicalStage(sum),
	}

	switch {
	case sum >= 7 || i == 3 || w == 3:
		score.AmputationRisk, score.RevascularizationBenefit = RiskHigh, BenefitHigh
	case sum >= 4:
		score.AmputationRisk, score.RevascularizationBenefit = RiskModerate, BenefitModerate
	case sum >= 1:
		score.AmputationRisk, score.RevascularizationBenefit = RiskLow, BenefitLow
	default:
		score.AmputationRisk, score.RevascularizationBenefit = RiskVeryLow, BenefitMinimal
	}
	return score
}

// WoundGrade grades wound depth: >10mm is 3, >3mm is 2, >0 is 1.
func WoundGrade(last *Findings) int {
	if last == nil {
		return 0
	}
	switch d := last.Depth; {
	case d > 10:
		return 3
	case d > 3:
		return 2
	case d > 0:
		return 1
	}
	return 0
}

// IschemiaGrade grades the ankle-brachial index: <0.4 is 3, <0.6 is 2,
// <0.8 is 1. A missing or non-finite index grades 0.
func IschemiaGrade(abi *float64) int {
	if abi == nil || math.IsNaN(*abi) || math.IsInf(*abi, 0) {
		return 0
	}
	switch v := *abi; {
	case v < 0.4:
		return 3
	case v < 0.6:
		return 2
	case v < 0.8:
		return 1
	}
	return 0
}

// InfectionGrade maps the infection severity label to fI. It is 0 unless the
// visit reports an active infection.
func InfectionGrade(last *Findings) int {
	if last == nil || last.Infection == nil || !last.Infection.Has {
		return 0
	}
	sev := last.Infection.Severity
	switch {
	case strings.Contains(sev, "Grado 4"):
		return 3
	case strings.Contains(sev, "Grado 3"):
		return 2
	case strings.Contains(sev, "Grado 2"):
		return 1
	}
	return 0
}

// clinicalStage is ceil(sum/2) capped at 4. A zero sum is stage 1, not 0.
func clinicalStage(sum int) int {
	stage := (sum + 1) / 2
	if stage == 0 {
		stage = 1
	}
	if stage > 4 {
		stage = 4
	}
	return stage
}
