package models

import "time"

// LedgerEntry = one immutable reward-coin credit, tied 1:1 to an approved
// participation. The unique index on ParticipationID is the correctness
// mechanism for exactly-once crediting — NOT application-level "check then
// credit" logic, so concurrent duplicate approvals cannot double-credit.
type LedgerEntry struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	ParticipationID string    `gorm:"uniqueIndex;not null" json:"participation_id"`
	UserID          string    `gorm:"index;not null" json:"user_id"`
	Amount          int       `gorm:"not null" json:"amount"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
