package models

import "time"

// ChallengeCategory mirrors the category enum of the challenge service
type ChallengeCategory string

const (
	CategoryPhysical      ChallengeCategory = "physical"
	CategoryActsOfCare    ChallengeCategory = "acts-of-care"
	CategoryEngagement    ChallengeCategory = "engagement"
	CategoryParticipatory ChallengeCategory = "participatory"
)

// GoalKind says how a numeric goal is compared against the submitted result
type GoalKind string

const (
	GoalRepetitionCount GoalKind = "repetition-count" // higher is better, must exceed goal
	GoalDuration        GoalKind = "duration"         // lower is better, must be at or below goal
)

// ChallengeMirror = local read-only copy of a challenge owned by the
// challenge service, kept fresh by the ChallengeSyncWorker (same pattern as
// any externally-owned mirror table: upsert on external ID, never authored
// here).
type ChallengeMirror struct {
	ID                string            `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalID        string            `gorm:"uniqueIndex;not null" json:"external_id"`
	Title             string            `gorm:"not null" json:"title"`
	Slug              string            `gorm:"index" json:"slug"`
	Category          ChallengeCategory `gorm:"type:varchar(20);not null" json:"category"`
	Goal              *int              `json:"goal,omitempty"`
	GoalKind          GoalKind          `gorm:"type:varchar(20)" json:"goal_kind,omitempty"`
	RewardAmount      int               `gorm:"not null" json:"reward_amount"`
	RequiresDualProof bool              `gorm:"not null;default:false" json:"requires_dual_proof"`
	IsActive          bool              `gorm:"not null" json:"is_active"`
	SyncedAt          time.Time         `json:"synced_at"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// NumericGoal reports whether the challenge carries a measurable goal that the
// analyzers and the goal check care about.
func (c *ChallengeMirror) NumericGoal() bool {
	return c.Goal != nil && *c.Goal > 0
}
