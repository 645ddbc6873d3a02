// services/ledger_service.go
package services

import (
	"fmt"
	"log"

	"challenge-proof-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService owns the reward-coin ledger. Crediting is exactly-once per
// participation: the unique index on participation_id plus an ON CONFLICT
// DO NOTHING insert make a retried credit a no-op that returns the existing
// entry, whatever the application layer got up to.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// Credit inserts a ledger entry for an approved participation. Safe to call
// twice for the same participation — the second call returns the original
// entry. Runs on the tx the caller is holding so status flip and credit
// commit (or roll back) together.
func (s *LedgerService) Credit(tx *gorm.DB, participationID, userID string, amount int) (*models.LedgerEntry, error) {
	entry := models.LedgerEntry{
		ID:              uuid.NewString(),
		ParticipationID: participationID,
		UserID:          userID,
		Amount:          amount,
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participation_id"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to credit ledger: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Duplicate approval (e.g. a retried request) — return the entry the
		// first call created.
		var existing models.LedgerEntry
		if err := tx.Where("participation_id = ?", participationID).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("conflicting ledger entry not found: %w", err)
		}
		if existing.UserID != userID || existing.Amount != amount {
			log.Printf("🚨 INVARIANT: ledger entry %s for participation %s disagrees with retry (have user=%s amount=%d, got user=%s amount=%d)",
				existing.ID, participationID, existing.UserID, existing.Amount, userID, amount)
			return nil, &InvariantViolation{Message: fmt.Sprintf("ledger entry mismatch for participation %s", participationID)}
		}
		return &existing, nil
	}

	return &entry, nil
}

// GetBalance returns the sum of a member's ledger entries. This is the read
// contract the ranking feed consumes; no caching, aggregation is the
// reader's concern.
func (s *LedgerService) GetBalance(userID string) (int, error) {
	var balance int
	err := s.DB.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger for %s: %w", userID, err)
	}
	return balance, nil
}

// EntryFor returns the ledger entry for one participation, if any.
func (s *LedgerService) EntryFor(participationID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := s.DB.Where("participation_id = ?", participationID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}
