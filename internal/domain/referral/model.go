// Package referral routes consult requests from the diabetology team to the
// surgical and vascular inbox.
package referral

import "github.com/pdclinic/pdclinic/pkg/clinicaltime"

// Referral statuses. A referral only ever moves from Pendiente to Revisado.
const (
	StatusPending  = "Pendiente"
	StatusReviewed = "Revisado"
)

type Referral struct {
	ID         string            `json:"id"`
	CenterID   string            `json:"centerId,omitempty"`
	EpisodeID  string            `json:"episodeId" validate:"required"`
	PatientID  string            `json:"patientId"`
	Date       clinicaltime.Time `json:"date"`
	Content    string            `json:"content" validate:"required"`
	Status     string            `json:"status"`
	SenderRole string            `json:"senderRole"`
	SenderID   string            `json:"senderId,omitempty"`
}

// Review is the payload of a referral.reviewed event. Who reviewed and when
// travel with the event; the referral itself only changes status.
type Review struct {
	Referral     *Referral         `json:"referral"`
	ReviewedBy   string            `json:"reviewedBy,omitempty"`
	ReviewerRole string            `json:"reviewerRole,omitempty"`
	ReviewedAt   clinicaltime.Time `json:"reviewedAt"`
}

// Pending reports whether the referral is still waiting in the inbox.
func (r *Referral) Pending() bool {
	return r.Status == StatusPending
}
