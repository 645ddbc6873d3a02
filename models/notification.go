package models

import "time"

type NotificationKind string

const (
	NotifyApproved NotificationKind = "approved"
	NotifyRejected NotificationKind = "rejected"
)

// Notification records a fire-and-forget dispatch to the notification
// service. Delivery is not retried here — Sent records whether the handoff
// succeeded, nothing more.
type Notification struct {
	ID              string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string           `gorm:"index;not null" json:"user_id"`
	ParticipationID string           `gorm:"index;not null" json:"participation_id"`
	Kind            NotificationKind `gorm:"type:varchar(16);not null" json:"kind"`
	Payload         string           `gorm:"type:jsonb" json:"payload"`
	Sent            bool             `gorm:"not null;default:false" json:"sent"`
	SentAt          *time.Time       `json:"sent_at,omitempty"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
