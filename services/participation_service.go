// services/participation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"challenge-proof-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutcomePolicy holds the tunables for the automatic transition decision.
// Auto-approval is opt-in per category — the default for everything is a
// human in the loop.
type OutcomePolicy struct {
	RejectBelow           int // auto-reject under this effective confidence
	ReviewBelow           int // auto-approval is only considered at/above this
	AutoApproveCategories map[models.ChallengeCategory]bool
	AdjudicationBudget    time.Duration // soft UX budget for the synchronous submit path
}

func DefaultOutcomePolicy() OutcomePolicy {
	return OutcomePolicy{
		RejectBelow:           40,
		ReviewBelow:           75,
		AutoApproveCategories: map[models.ChallengeCategory]bool{},
		AdjudicationBudget:    60 * time.Second,
	}
}

// PolicyFromEnv reads ADJUDICATION_REJECT_BELOW, ADJUDICATION_REVIEW_BELOW
// and AUTO_APPROVE_CATEGORIES (comma-separated category names) on top of the
// defaults.
func PolicyFromEnv() OutcomePolicy {
	policy := DefaultOutcomePolicy()

	if v := os.Getenv("ADJUDICATION_REJECT_BELOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 100 {
			policy.RejectBelow = n
		} else {
			log.Printf("⚠️ Ignoring invalid ADJUDICATION_REJECT_BELOW=%q", v)
		}
	}
	if v := os.Getenv("ADJUDICATION_REVIEW_BELOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 100 {
			policy.ReviewBelow = n
		} else {
			log.Printf("⚠️ Ignoring invalid ADJUDICATION_REVIEW_BELOW=%q", v)
		}
	}
	for _, c := range strings.Split(os.Getenv("AUTO_APPROVE_CATEGORIES"), ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			policy.AutoApproveCategories[models.ChallengeCategory(c)] = true
		}
	}

	return policy
}

// ParticipationService owns the submission lifecycle: validate → persist →
// adjudicate → transition, plus the moderator-driven decisions. All terminal
// transitions go through an optimistic status check so two workers can never
// both move the same row out of pending-review.
type ParticipationService struct {
	DB          *gorm.DB
	Validator   *ProofValidator
	Adjudicator Adjudicator
	Ledger      *LedgerService
	Notifier    Notifier // optional
	Policy      OutcomePolicy
}

func NewParticipationService(db *gorm.DB, adjudicator Adjudicator, ledger *LedgerService, notifier Notifier, policy OutcomePolicy) *ParticipationService {
	return &ParticipationService{
		DB:          db,
		Validator:   NewProofValidator(),
		Adjudicator: adjudicator,
		Ledger:      ledger,
		Notifier:    notifier,
		Policy:      policy,
	}
}

type SubmitInput struct {
	UserID            string
	ChallengeID       string // external challenge ID
	ResultValue       *int
	PrimaryProofURL   string
	SecondaryProofURL *string
	ConfirmedPublic   bool
}

// Submit runs the whole synchronous envelope: validation, conflict check,
// persistence, adjudication (bounded by the policy budget, no row lock held
// during the call) and the automatic transition. The returned participation
// is always in a usable state — analysis failure lands it in pending-review,
// never in an error.
func (s *ParticipationService) Submit(ctx context.Context, in SubmitInput) (*models.Participation, error) {
	challenge, err := s.challengeByExternalID(in.ChallengeID)
	if err != nil {
		return nil, err
	}
	if !challenge.IsActive {
		return nil, validationErr("this challenge is no longer active")
	}

	if err := s.Validator.Validate(challenge, in.PrimaryProofURL, in.SecondaryProofURL, in.ResultValue, in.ConfirmedPublic); err != nil {
		return nil, err
	}

	participation := &models.Participation{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		ChallengeID:       in.ChallengeID,
		ResultValue:       in.ResultValue,
		PrimaryProofURL:   in.PrimaryProofURL,
		SecondaryProofURL: in.SecondaryProofURL,
		Status:            models.StatusPendingAnalysis,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.Participation

		err := tx.Where("user_id = ? AND challenge_id = ? AND status IN ?",
			in.UserID, in.ChallengeID,
			[]models.ParticipationStatus{models.StatusPendingAnalysis, models.StatusPendingReview}).
			First(&existing).Error
		if err == nil {
			return conflictErr("a submission for this challenge is already pending")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Where("user_id = ? AND challenge_id = ? AND status = ?",
			in.UserID, in.ChallengeID, models.StatusApproved).
			First(&existing).Error
		if err == nil {
			return conflictErr("this challenge has already been completed and approved")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(participation).Error; err != nil {
			if isDuplicateKey(err) {
				// Two submits raced past the application check; the partial
				// unique index caught the loser.
				return conflictErr("a submission for this challenge is already pending")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Adjudication happens outside any transaction — it can take tens of
	// seconds and must not hold a row lock (§ concurrency model).
	adjCtx, cancel := context.WithTimeout(ctx, s.Policy.AdjudicationBudget)
	defer cancel()
	result := s.Adjudicator.Adjudicate(adjCtx, participation, challenge)

	return s.applyAdjudication(participation.ID, challenge, in.ResultValue, result)
}

// applyAdjudication attaches verdicts and performs the automatic transition
// out of pending-analysis. If the row already left pending-analysis (e.g.
// the stall sweeper got there first) the verdicts are dropped and the current
// row is returned as-is — transitions are strictly ordered per row.
func (s *ParticipationService) applyAdjudication(participationID string, challenge *models.ChallengeMirror, resultValue *int, result AdjudicationResult) (*models.Participation, error) {
	outcome := s.DecideOutcome(challenge, resultValue, result)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := models.Participation{
			PrimaryVerdict:   result.Primary,
			SecondaryVerdict: result.Secondary,
			Status:           outcome.Status,
		}
		if outcome.Status.Terminal() {
			updates.DecidedAt = &now
		}
		if outcome.Status == models.StatusRejected {
			updates.RejectionReason = outcome.Reason
		}

		var coins int
		if outcome.Status == models.StatusApproved {
			coins = challenge.RewardAmount
			updates.CoinsEarned = &coins
		}

		res := tx.Model(&models.Participation{}).
			Where("id = ? AND status = ?", participationID, models.StatusPendingAnalysis).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Row already moved on — keep whatever happened first.
			log.Printf("⏭️ Participation %s left pending-analysis before adjudication applied, keeping current state", participationID)
			return nil
		}

		if outcome.Status == models.StatusApproved {
			var p models.Participation
			if err := tx.First(&p, "id = ?", participationID).Error; err != nil {
				return err
			}
			if _, err := s.Ledger.Credit(tx, participationID, p.UserID, coins); err != nil {
				return err
			}
			log.Printf("✅ Auto-approved participation %s (+%d coins)", participationID, coins)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var fresh models.Participation
	if err := s.DB.First(&fresh, "id = ?", participationID).Error; err != nil {
		return nil, err
	}

	if fresh.Status.Terminal() {
		s.notifyDecision(&fresh)
	}

	return &fresh, nil
}

// Outcome is the automatic transition decision for one adjudicated
// participation.
type Outcome struct {
	Status models.ParticipationStatus
	Reason string // system-authored, set when Status is rejected
}

// DecideOutcome implements the transition policy from pending-analysis:
//  1. effective confidence undefined (any required verdict absent) → review
//  2. effective confidence below the reject bound → rejected
//  3. numeric-goal check can force rejected (or review when the analyzer
//     measured nothing) regardless of confidence
//  4. otherwise review, unless the category is explicitly flagged for full
//     automation and the confidence clears the review bound
func (s *ParticipationService) DecideOutcome(challenge *models.ChallengeMirror, resultValue *int, result AdjudicationResult) Outcome {
	confidence, defined := EffectiveConfidence(result.Primary, result.Secondary, challenge.RequiresDualProof)
	if !defined {
		return Outcome{Status: models.StatusPendingReview}
	}

	if confidence < s.Policy.RejectBelow {
		return Outcome{
			Status: models.StatusRejected,
			Reason: systemRejectionReason(result),
		}
	}

	observedOK := true // stays true for categories without a numeric goal
	if challenge.NumericGoal() {
		var observed *int
		if result.Primary != nil {
			observed = result.Primary.ObservedValue
		}
		switch goalCheck(challenge, resultValue, observed) {
		case goalFailed:
			return Outcome{
				Status: models.StatusRejected,
				Reason: fmt.Sprintf("submitted result does not meet the challenge goal (%s of %d)", challenge.GoalKind, *challenge.Goal),
			}
		case goalUnconfirmed:
			observedOK = false
		}
	}

	analyzersAgreeValid := result.Primary != nil && result.Primary.IsValid &&
		(result.Secondary == nil || result.Secondary.IsValid)

	if s.Policy.AutoApproveCategories[challenge.Category] &&
		confidence >= s.Policy.ReviewBelow &&
		analyzersAgreeValid &&
		observedOK {
		return Outcome{Status: models.StatusApproved}
	}

	return Outcome{Status: models.StatusPendingReview}
}

// EffectiveConfidence reduces one or two verdicts to the single score the
// policy uses. Dual proof: arithmetic mean of both confidences, rounded to
// nearest; any required verdict absent → undefined (second return false).
func EffectiveConfidence(primary, secondary *models.Verdict, dualRequired bool) (int, bool) {
	if primary == nil {
		return 0, false
	}
	if !dualRequired {
		return primary.Confidence, true
	}
	if secondary == nil {
		return 0, false
	}
	mean := float64(primary.Confidence+secondary.Confidence) / 2
	return int(math.Round(mean)), true
}

type goalResult int

const (
	goalMet goalResult = iota
	goalFailed
	goalUnconfirmed
)

// goalCheck compares the claimed and independently-measured values against
// the challenge goal. Repetition goals must be exceeded by at least one unit;
// duration goals must be met at or below (lower is better). A missing
// measurement can only downgrade to unconfirmed, never fail on its own.
func goalCheck(challenge *models.ChallengeMirror, resultValue, observed *int) goalResult {
	goal := *challenge.Goal

	meets := func(v int) bool {
		if challenge.GoalKind == models.GoalDuration {
			return v <= goal
		}
		return v > goal
	}

	if resultValue == nil || !meets(*resultValue) {
		return goalFailed
	}
	if observed == nil {
		return goalUnconfirmed
	}
	if !meets(*observed) {
		return goalFailed
	}
	return goalMet
}

// systemRejectionReason composes the auto-reject reason from whatever the
// analyzers reported.
func systemRejectionReason(result AdjudicationResult) string {
	var parts []string
	if result.Primary != nil && result.Primary.Reason != "" {
		parts = append(parts, "video analysis: "+result.Primary.Reason)
	}
	if result.Secondary != nil && result.Secondary.Reason != "" {
		parts = append(parts, "social analysis: "+result.Secondary.Reason)
	}
	if len(parts) == 0 {
		return "automated analysis could not verify this submission"
	}
	return "automated analysis rejected this submission — " + strings.Join(parts, "; ")
}

// Approve is the moderator decision path. Only pending-review rows may be
// approved; the status flip and the ledger credit commit in one transaction,
// so there is no persistent state with status=approved and no ledger entry.
func (s *ParticipationService) Approve(participationID string, overrideAmount *int) (*models.Participation, error) {
	var approved models.Participation

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var p models.Participation
		if err := tx.First(&p, "id = ?", participationID).Error; err != nil {
			return err
		}
		if p.Status.Terminal() {
			return conflictErr("participation already decided")
		}
		if p.Status == models.StatusPendingAnalysis {
			return conflictErr("participation is still being analyzed")
		}

		amount := overrideAmount
		if amount == nil {
			challenge, err := s.challengeByExternalID(p.ChallengeID)
			if err != nil {
				return err
			}
			amount = &challenge.RewardAmount
		}

		now := time.Now()
		res := tx.Model(&models.Participation{}).
			Where("id = ? AND status = ?", participationID, models.StatusPendingReview).
			Updates(models.Participation{
				Status:      models.StatusApproved,
				CoinsEarned: amount,
				DecidedAt:   &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Raced to a terminal state between the read and the update.
			return conflictErr("participation already decided")
		}

		if _, err := s.Ledger.Credit(tx, participationID, p.UserID, *amount); err != nil {
			return err
		}

		return tx.First(&approved, "id = ?", participationID).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Approved participation %s (+%d coins for user %s)", approved.ID, *approved.CoinsEarned, approved.UserID)
	s.notifyDecision(&approved)
	return &approved, nil
}

// Reject is the moderator rejection path. The reason is mandatory — it is
// shown to the member and kept for audit. No ledger effect.
func (s *ParticipationService) Reject(participationID, reason string) (*models.Participation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, validationErr("a rejection reason is required")
	}

	var rejected models.Participation

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var p models.Participation
		if err := tx.First(&p, "id = ?", participationID).Error; err != nil {
			return err
		}
		if p.Status.Terminal() {
			return conflictErr("participation already decided")
		}
		if p.Status == models.StatusPendingAnalysis {
			return conflictErr("participation is still being analyzed")
		}

		now := time.Now()
		res := tx.Model(&models.Participation{}).
			Where("id = ? AND status = ?", participationID, models.StatusPendingReview).
			Updates(models.Participation{
				Status:          models.StatusRejected,
				RejectionReason: reason,
				DecidedAt:       &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflictErr("participation already decided")
		}

		return tx.First(&rejected, "id = ?", participationID).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🚫 Rejected participation %s: %s", rejected.ID, reason)
	s.notifyDecision(&rejected)
	return &rejected, nil
}

// ApproveAllPending approves every participation currently pending review for
// a challenge, each with its own challenge reward amount. Rows that raced to
// a terminal state mid-batch are skipped, not errored; the returned count is
// what actually transitioned.
func (s *ParticipationService) ApproveAllPending(challengeID string) (int, error) {
	var ids []string
	if err := s.DB.Model(&models.Participation{}).
		Where("challenge_id = ? AND status = ?", challengeID, models.StatusPendingReview).
		Order("created_at DESC").
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	approved := 0
	for _, id := range ids {
		if _, err := s.Approve(id, nil); err != nil {
			if IsConflictError(err) {
				continue
			}
			return approved, err
		}
		approved++
	}

	log.Printf("📦 Bulk approval for challenge %s: %d/%d transitioned", challengeID, approved, len(ids))
	return approved, nil
}

// RescueStalled pushes participations stuck in pending-analysis past the
// deadline into pending-review with absent verdicts. Called by the scheduler
// so a crashed adjudication never strands a row.
func (s *ParticipationService) RescueStalled(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.DB.Model(&models.Participation{}).
		Where("status = ? AND created_at < ?", models.StatusPendingAnalysis, cutoff).
		Update("status", models.StatusPendingReview)
	return res.RowsAffected, res.Error
}

// Get returns one participation by ID.
func (s *ParticipationService) Get(participationID string) (*models.Participation, error) {
	var p models.Participation
	if err := s.DB.First(&p, "id = ?", participationID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListForUser returns a member's own participations, newest first.
func (s *ParticipationService) ListForUser(userID string, challengeID string) ([]models.Participation, error) {
	query := s.DB.Where("user_id = ?", userID)
	if challengeID != "" {
		query = query.Where("challenge_id = ?", challengeID)
	}
	var parts []models.Participation
	err := query.Order("created_at DESC").Find(&parts).Error
	return parts, err
}

func (s *ParticipationService) challengeByExternalID(externalID string) (*models.ChallengeMirror, error) {
	var challenge models.ChallengeMirror
	if err := s.DB.Where("external_id = ?", externalID).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationErr("unknown challenge")
		}
		return nil, err
	}
	// Mirror the challenge-service invariant locally: acts-of-care always
	// needs both evidence sources, whatever the synced flag says.
	if challenge.Category == models.CategoryActsOfCare {
		challenge.RequiresDualProof = true
	}
	return &challenge, nil
}

func (s *ParticipationService) notifyDecision(p *models.Participation) {
	if s.Notifier == nil {
		return
	}
	kind := models.NotifyApproved
	payload := map[string]interface{}{
		"participation_id": p.ID,
		"challenge_id":     p.ChallengeID,
	}
	if p.Status == models.StatusRejected {
		kind = models.NotifyRejected
		payload["rejection_reason"] = p.RejectionReason
	} else if p.CoinsEarned != nil {
		payload["coins_earned"] = *p.CoinsEarned
	}
	go s.Notifier.Notify(p.UserID, p.ID, kind, payload)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
