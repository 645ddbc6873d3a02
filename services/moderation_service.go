// services/moderation_service.go
package services

import (
	"challenge-proof-system/models"

	"gorm.io/gorm"
)

// ModerationService is the read side of the moderator queue: pending lists
// and aggregate counts. No state of its own — pure aggregation over
// participations.
type ModerationService struct {
	DB *gorm.DB
}

func NewModerationService(db *gorm.DB) *ModerationService {
	return &ModerationService{DB: db}
}

// ListPending returns participations awaiting a moderator, newest first.
// challengeID is optional; empty lists the whole queue.
func (s *ModerationService) ListPending(challengeID string) ([]models.Participation, error) {
	query := s.DB.Where("status = ?", models.StatusPendingReview)
	if challengeID != "" {
		query = query.Where("challenge_id = ?", challengeID)
	}

	var pending []models.Participation
	err := query.Order("created_at DESC").Find(&pending).Error
	return pending, err
}

type ModerationCounts struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

// Counts returns the per-challenge status breakdown the admin dashboard
// polls.
func (s *ModerationService) Counts(challengeID string) (*ModerationCounts, error) {
	counts := &ModerationCounts{}

	rows := []struct {
		Status models.ParticipationStatus
		N      int64
	}{}
	err := s.DB.Model(&models.Participation{}).
		Select("status, COUNT(*) AS n").
		Where("challenge_id = ?", challengeID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		switch row.Status {
		case models.StatusPendingReview:
			counts.Pending = row.N
		case models.StatusApproved:
			counts.Approved = row.N
		case models.StatusRejected:
			counts.Rejected = row.N
		}
	}
	return counts, nil
}
