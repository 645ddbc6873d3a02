package models

import "gorm.io/gorm"

// Migrate runs AutoMigrate for every table this service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ChallengeMirror{},
		&Participation{},
		&LedgerEntry{},
		&Notification{},
	)
}

// EnsureIndexes creates the constraints GORM tags cannot express.
// The partial unique index is the storage-level backstop for the
// one-in-flight-submission-per-(user, challenge) rule: even if two submit
// requests race past the application check, only one non-terminal row can
// ever exist. Works on both postgres and sqlite.
func EnsureIndexes(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_participations_one_in_flight
		ON participations (user_id, challenge_id)
		WHERE status IN ('pending-analysis', 'pending-review')
	`).Error
}
