package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"challenge-proof-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a per-test in-memory sqlite database with the full schema,
// including the partial unique index the exclusivity rule relies on.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, models.Migrate(db))
	require.NoError(t, models.EnsureIndexes(db))
	return db
}

// stubAdjudicator returns a canned result without any network calls.
type stubAdjudicator struct {
	result AdjudicationResult
}

func (s stubAdjudicator) Adjudicate(ctx context.Context, p *models.Participation, challenge *models.ChallengeMirror) AdjudicationResult {
	return s.result
}

// recordingNotifier captures dispatches for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []models.NotificationKind
}

func (n *recordingNotifier) Notify(userID, participationID string, kind models.NotificationKind, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, kind)
}

// kinds snapshots recorded dispatch kinds. Notify runs on a goroutine, so
// assertions go through Eventually with this.
func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationKind, len(n.calls))
	copy(out, n.calls)
	return out
}

func seedChallenge(t *testing.T, db *gorm.DB, challenge models.ChallengeMirror) models.ChallengeMirror {
	t.Helper()
	if challenge.ID == "" {
		challenge.ID = uuid.NewString()
	}
	if challenge.ExternalID == "" {
		challenge.ExternalID = uuid.NewString()
	}
	if challenge.Title == "" {
		challenge.Title = "Test Challenge"
	}
	challenge.IsActive = true
	require.NoError(t, db.Create(&challenge).Error)
	return challenge
}

func seedParticipation(t *testing.T, db *gorm.DB, p models.Participation) models.Participation {
	t.Helper()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UserID == "" {
		p.UserID = uuid.NewString()
	}
	if p.PrimaryProofURL == "" {
		p.PrimaryProofURL = "https://www.youtube.com/watch?v=abc123xyz"
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func newTestService(db *gorm.DB, adjudicator Adjudicator, policy OutcomePolicy) *ParticipationService {
	return NewParticipationService(db, adjudicator, NewLedgerService(db), nil, policy)
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
