package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"challenge-proof-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChallengeSyncClient pulls challenge definitions from the challenge service
// into the local mirror table. Challenges are owned over there — this side
// only ever upserts what it is told.
type ChallengeSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewChallengeSyncClient(db *gorm.DB, baseURL, token string) *ChallengeSyncClient {
	return &ChallengeSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// challengePayload is the challenge service's wire shape.
type challengePayload struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Category          string  `json:"category"`
	Goal              *int    `json:"goal,omitempty"`
	GoalKind          string  `json:"goal_kind,omitempty"`
	RewardAmount      int     `json:"reward_amount"`
	RequiresDualProof bool    `json:"requires_dual_proof"`
	IsActive          bool    `json:"is_active"`
}

func (c *ChallengeSyncClient) GetChangedChallenges(ctx context.Context, since time.Time) ([]challengePayload, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/challenges", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call challenge service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("challenge service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Challenges []challengePayload `json:"challenges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode challenge service response: %w", err)
	}

	return response.Challenges, nil
}

// UpsertMirrors writes a batch of challenge payloads into challenge_mirrors,
// keyed on the external ID. One statement, atomic on postgres.
func (c *ChallengeSyncClient) UpsertMirrors(payloads []challengePayload) error {
	if len(payloads) == 0 {
		return nil
	}

	now := time.Now().UTC()
	mirrors := make([]models.ChallengeMirror, len(payloads))
	for i, p := range payloads {
		mirrors[i] = models.ChallengeMirror{
			ID:                uuid.NewString(),
			ExternalID:        p.ID,
			Title:             p.Title,
			Slug:              slug.Make(p.Title),
			Category:          models.ChallengeCategory(p.Category),
			Goal:              p.Goal,
			GoalKind:          models.GoalKind(p.GoalKind),
			RewardAmount:      p.RewardAmount,
			RequiresDualProof: p.RequiresDualProof || models.ChallengeCategory(p.Category) == models.CategoryActsOfCare,
			IsActive:          p.IsActive,
			SyncedAt:          now,
		}
	}

	return c.DB.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title",
				"slug",
				"category",
				"goal",
				"goal_kind",
				"reward_amount",
				"requires_dual_proof",
				"is_active",
				"synced_at",
				"updated_at",
			}),
		},
	).Create(&mirrors).Error
}

// PollChallenges keeps the mirror fresh. The sync cursor only advances after
// a successful upsert — a failed poll retries the same window next tick.
func PollChallenges(ctx context.Context, client *ChallengeSyncClient, pollInterval time.Duration) {
	log.Println("Starting challenge polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Challenge polling stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()

			challenges, err := client.GetChangedChallenges(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling challenges: %v", err)
				continue
			}

			if len(challenges) == 0 {
				continue
			}

			if err := client.UpsertMirrors(challenges); err != nil {
				log.Printf("❌ Failed to upsert %d challenge(s) into challenge_mirrors: %v", len(challenges), err)
				// Do NOT advance lastSyncTime — retry same window next tick
				continue
			}

			lastSyncTime = tickTime
			log.Printf("✅ Upserted %d challenge(s) into challenge_mirrors.", len(challenges))
		}
	}
}
