package models

import (
	"time"
)

// ParticipationStatus is the lifecycle state of a single proof submission
type ParticipationStatus string

const (
	StatusPendingAnalysis ParticipationStatus = "pending-analysis"
	StatusPendingReview   ParticipationStatus = "pending-review"
	StatusApproved        ParticipationStatus = "approved"
	StatusRejected        ParticipationStatus = "rejected"
)

// Terminal reports whether no further transition is possible for this status.
func (s ParticipationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Participation = one proof-submission attempt for a (user, challenge) pair.
// Rejected attempts stay in the table for audit; a resubmission creates a new
// row. At most one row per (user, challenge) may be in a non-terminal status
// at a time (partial unique index, see EnsureIndexes).
type Participation struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string `gorm:"index;not null" json:"user_id"`
	ChallengeID string `gorm:"index;not null" json:"challenge_id"`

	// Submitted evidence
	ResultValue       *int    `json:"result_value,omitempty"` // absent for non-numeric categories
	PrimaryProofURL   string  `gorm:"type:text;not null" json:"primary_proof_url"`
	SecondaryProofURL *string `gorm:"type:text" json:"secondary_proof_url,omitempty"`

	// Adjudication outputs — immutable once attached
	PrimaryVerdict   *Verdict `gorm:"type:jsonb;serializer:json" json:"primary_verdict,omitempty"`
	SecondaryVerdict *Verdict `gorm:"type:jsonb;serializer:json" json:"secondary_verdict,omitempty"`

	Status          ParticipationStatus `gorm:"type:varchar(20);index;not null;default:'pending-analysis'" json:"status"`
	RejectionReason string              `gorm:"type:text" json:"rejection_reason,omitempty"` // set only when rejected
	CoinsEarned     *int                `json:"coins_earned,omitempty"`                      // set only when approved

	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}
