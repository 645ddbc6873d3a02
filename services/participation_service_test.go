package services

import (
	"context"
	"testing"
	"time"

	"challenge-proof-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verdict(valid bool, confidence int, observed *int, reason string) *models.Verdict {
	return &models.Verdict{IsValid: valid, Confidence: confidence, ObservedValue: observed, Reason: reason}
}

func TestEffectiveConfidence(t *testing.T) {
	cases := []struct {
		name      string
		primary   *models.Verdict
		secondary *models.Verdict
		dual      bool
		want      int
		defined   bool
	}{
		{"single proof", verdict(true, 92, nil, ""), nil, false, 92, true},
		{"dual averaging 90/50", verdict(true, 90, nil, ""), verdict(true, 50, nil, ""), true, 70, true},
		{"dual averaging rounds to nearest", verdict(true, 90, nil, ""), verdict(true, 51, nil, ""), true, 71, true},
		{"primary absent", nil, verdict(true, 99, nil, ""), true, 0, false},
		{"secondary absent for dual", verdict(true, 99, nil, ""), nil, true, 0, false},
		{"both absent", nil, nil, false, 0, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, defined := EffectiveConfidence(c.primary, c.secondary, c.dual)
			assert.Equal(t, c.defined, defined)
			if c.defined {
				assert.Equal(t, c.want, got)
			}
		})
	}
}

func TestSubmitValidationFailureDoesNotPersist(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 10})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	_, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		PrimaryProofURL: "https://www.youtube.com/shorts/abc123xyz",
		ConfirmedPublic: true,
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var count int64
	require.NoError(t, db.Model(&models.Participation{}).Count(&count).Error)
	assert.Zero(t, count, "rejected submissions must never be persisted")
}

func TestSubmitVerdictAbsenceRoutesToReview(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 10})
	// Adjudicator timed out / failed: no verdicts at all
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err, "analysis unavailability must not surface as a submission error")
	assert.Equal(t, models.StatusPendingReview, p.Status)
	assert.Nil(t, p.PrimaryVerdict)
}

func TestSubmitDualProofMissingSecondaryVerdictRoutesToReview(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{
		Category:          models.CategoryActsOfCare,
		RequiresDualProof: true,
		RewardAmount:      20,
	})
	// Primary analyzed fine, secondary analyzer down — absence is not
	// invalidity, so no auto-reject even though policy would allow one.
	svc := newTestService(db, stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(true, 95, nil, "looks great"),
	}}, DefaultOutcomePolicy())

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:            uuid.NewString(),
		ChallengeID:       challenge.ExternalID,
		PrimaryProofURL:   "https://youtu.be/dQw4w9WgXcQ",
		SecondaryProofURL: strPtr("https://www.instagram.com/p/Cabc123/"),
		ConfirmedPublic:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, p.Status)
	require.NotNil(t, p.PrimaryVerdict)
	assert.Equal(t, 95, p.PrimaryVerdict.Confidence)
	assert.Nil(t, p.SecondaryVerdict)
}

func TestSubmitExclusivity(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 10})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())
	userID := uuid.NewString()

	in := SubmitInput{
		UserID:          userID,
		ChallengeID:     challenge.ExternalID,
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	}

	_, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsConflictError(err), "second in-flight submission must be a conflict")

	var count int64
	require.NoError(t, db.Model(&models.Participation{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestResubmissionAfterRejectionAllowed(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 10})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())
	userID := uuid.NewString()

	in := SubmitInput{
		UserID:          userID,
		ChallengeID:     challenge.ExternalID,
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	}

	first, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Reject(first.ID, "video does not show the activity")
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), in)
	require.NoError(t, err, "a rejected attempt may be resubmitted as a new row")
	assert.NotEqual(t, first.ID, second.ID)

	// Approved is final: no third attempt once one is approved
	_, err = svc.Approve(second.ID, nil)
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
}

func TestLowConfidenceAutoReject(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 10})
	svc := newTestService(db, stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(false, 15, nil, "video shows unrelated content"),
	}}, DefaultOutcomePolicy())

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, p.Status)
	assert.Contains(t, p.RejectionReason, "video shows unrelated content")
	require.NotNil(t, p.DecidedAt)
}

func TestGoalCheckDominatesConfidence(t *testing.T) {
	db := newTestDB(t)
	goal := 10
	challenge := seedChallenge(t, db, models.ChallengeMirror{
		Category:     models.CategoryPhysical,
		Goal:         &goal,
		GoalKind:     models.GoalRepetitionCount,
		RewardAmount: 10,
	})

	policy := DefaultOutcomePolicy()
	policy.AutoApproveCategories[models.CategoryPhysical] = true

	// result_value == goal (not > goal) must never auto-approve, even at
	// confidence 100
	svc := newTestService(db, stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(true, 100, intPtr(10), "counted 10 reps"),
	}}, policy)

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		ResultValue:     intPtr(10),
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusApproved, p.Status)
	assert.Equal(t, models.StatusRejected, p.Status)

	var ledgerCount int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&ledgerCount).Error)
	assert.Zero(t, ledgerCount)
}

func TestGoalCheckObservedAbsentRoutesToReview(t *testing.T) {
	db := newTestDB(t)
	goal := 50
	challenge := seedChallenge(t, db, models.ChallengeMirror{
		Category:     models.CategoryPhysical,
		Goal:         &goal,
		GoalKind:     models.GoalRepetitionCount,
		RewardAmount: 10,
	})

	policy := DefaultOutcomePolicy()
	policy.AutoApproveCategories[models.CategoryPhysical] = true

	// Claimed result clears the goal but the analyzer measured nothing —
	// cannot auto-approve on the claim alone
	svc := newTestService(db, stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(true, 95, nil, "activity verified, count unclear"),
	}}, policy)

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		ResultValue:     intPtr(55),
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, p.Status)
}

func TestDurationGoalLowerIsBetter(t *testing.T) {
	db := newTestDB(t)
	goal := 300 // finish under 300 seconds
	challenge := seedChallenge(t, db, models.ChallengeMirror{
		Category:     models.CategoryPhysical,
		Goal:         &goal,
		GoalKind:     models.GoalDuration,
		RewardAmount: 25,
	})

	policy := DefaultOutcomePolicy()
	policy.AutoApproveCategories[models.CategoryPhysical] = true

	svc := newTestService(db, stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(true, 95, intPtr(280), "timed at 280s"),
	}}, policy)

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		ResultValue:     intPtr(285),
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, p.Status)

	// Over the duration budget → rejected regardless of confidence
	svc2 := newTestService(db, stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(true, 95, intPtr(340), "timed at 340s"),
	}}, policy)
	p2, err := svc2.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		ResultValue:     intPtr(340),
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, p2.Status)
}

func TestEndToEndApprovalFlow(t *testing.T) {
	db := newTestDB(t)
	goal := 50
	challenge := seedChallenge(t, db, models.ChallengeMirror{
		Category:     models.CategoryPhysical,
		Goal:         &goal,
		GoalKind:     models.GoalRepetitionCount,
		RewardAmount: 100,
	})

	adj := stubAdjudicator{result: AdjudicationResult{
		Primary: verdict(true, 92, intPtr(55), "counted 55 reps"),
	}}

	// Automation off: high-confidence passing submission still goes to a
	// human
	notifier := &recordingNotifier{}
	svc := NewParticipationService(db, adj, NewLedgerService(db), notifier, DefaultOutcomePolicy())

	p, err := svc.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		ResultValue:     intPtr(55),
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingReview, p.Status)

	approved, err := svc.Approve(p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.CoinsEarned)
	assert.Equal(t, challenge.RewardAmount, *approved.CoinsEarned)
	require.NotNil(t, approved.DecidedAt)

	entry, err := svc.Ledger.EntryFor(p.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.RewardAmount, entry.Amount)
	assert.Equal(t, p.UserID, entry.UserID)

	// The approval notification is dispatched off the request path
	require.Eventually(t, func() bool {
		return len(notifier.kinds()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.NotifyApproved, notifier.kinds()[0])

	// Automation on for the category: same submission auto-approves and
	// credits in one step
	policy := DefaultOutcomePolicy()
	policy.AutoApproveCategories[models.CategoryPhysical] = true
	svcAuto := NewParticipationService(db, adj, NewLedgerService(db), notifier, policy)

	p2, err := svcAuto.Submit(context.Background(), SubmitInput{
		UserID:          uuid.NewString(),
		ChallengeID:     challenge.ExternalID,
		ResultValue:     intPtr(55),
		PrimaryProofURL: "https://youtu.be/dQw4w9WgXcQ",
		ConfirmedPublic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, p2.Status)
	require.NotNil(t, p2.CoinsEarned)
	assert.Equal(t, challenge.RewardAmount, *p2.CoinsEarned)

	entry2, err := svcAuto.Ledger.EntryFor(p2.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.RewardAmount, entry2.Amount)

	// Auto-approval notifies the same way a manual decision does
	require.Eventually(t, func() bool {
		return len(notifier.kinds()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.NotifyApproved, notifier.kinds()[1])
}

func TestApproveIdempotentCredit(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 30})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingReview,
	})

	approved, err := svc.Approve(p.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, approved.CoinsEarned)

	// Retried approval (e.g. client timeout + retry) surfaces as a conflict,
	// not a second credit
	_, err = svc.Approve(p.ID, nil)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))

	// Retried *credit* (e.g. crash between credit and response) is a no-op
	// returning the original entry
	entry, err := svc.Ledger.Credit(db, p.ID, p.UserID, *approved.CoinsEarned)
	require.NoError(t, err)
	assert.Equal(t, *approved.CoinsEarned, entry.Amount)

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("participation_id = ?", p.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "exactly one ledger entry per approved participation")
}

func TestApproveWithOverrideAmount(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 30})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingReview,
	})

	approved, err := svc.Approve(p.ID, intPtr(45))
	require.NoError(t, err)
	require.NotNil(t, approved.CoinsEarned)
	assert.Equal(t, 45, *approved.CoinsEarned)

	entry, err := svc.Ledger.EntryFor(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, entry.Amount)
}

func TestApproveFromPendingAnalysisDisallowed(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 30})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingAnalysis,
	})

	_, err := svc.Approve(p.ID, nil)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRejectRequiresReason(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 30})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingReview,
	})

	_, err := svc.Reject(p.ID, "   ")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	rejected, err := svc.Reject(p.ID, "wrong activity shown")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "wrong activity shown", rejected.RejectionReason)
	require.NotNil(t, rejected.DecidedAt)
}

func TestTerminalStateIsFinal(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 30})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingReview,
	})

	_, err := svc.Reject(p.ID, "not convincing")
	require.NoError(t, err)

	_, err = svc.Approve(p.ID, nil)
	require.Error(t, err)
	assert.True(t, IsConflictError(err), "approve after reject must conflict")

	_, err = svc.Reject(p.ID, "again")
	require.Error(t, err)
	assert.True(t, IsConflictError(err), "double reject must conflict")
}

func TestApproveAllPendingSkipsRacedRows(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 15})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	var ids []string
	for i := 0; i < 5; i++ {
		p := seedParticipation(t, db, models.Participation{
			ChallengeID: challenge.ExternalID,
			Status:      models.StatusPendingReview,
		})
		ids = append(ids, p.ID)
	}

	// A moderator rejects one mid-batch
	_, err := svc.Reject(ids[2], "spam")
	require.NoError(t, err)

	count, err := svc.ApproveAllPending(challenge.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, 4, count, "count reflects rows actually transitioned")

	var ledgerCount int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&ledgerCount).Error)
	assert.EqualValues(t, 4, ledgerCount)

	var rejectedCount int64
	require.NoError(t, db.Model(&models.Participation{}).
		Where("status = ?", models.StatusRejected).Count(&rejectedCount).Error)
	assert.EqualValues(t, 1, rejectedCount, "the raced rejection must survive the batch")
}

func TestRescueStalled(t *testing.T) {
	db := newTestDB(t)
	challenge := seedChallenge(t, db, models.ChallengeMirror{Category: models.CategoryEngagement, RewardAmount: 10})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	stuck := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingAnalysis,
	})
	require.NoError(t, db.Model(&models.Participation{}).
		Where("id = ?", stuck.ID).
		Update("created_at", time.Now().Add(-10*time.Minute)).Error)

	fresh := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingAnalysis,
	})

	rescued, err := svc.RescueStalled(2 * time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rescued)

	got, err := svc.Get(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, got.Status)

	stillFresh, err := svc.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAnalysis, stillFresh.Status)
}

func TestLateAdjudicationDoesNotOverrideSweeper(t *testing.T) {
	db := newTestDB(t)
	goal := 10
	challenge := seedChallenge(t, db, models.ChallengeMirror{
		Category: models.CategoryPhysical, Goal: &goal,
		GoalKind: models.GoalRepetitionCount, RewardAmount: 10,
	})
	svc := newTestService(db, stubAdjudicator{}, DefaultOutcomePolicy())

	p := seedParticipation(t, db, models.Participation{
		ChallengeID: challenge.ExternalID,
		Status:      models.StatusPendingReview, // sweeper already moved it
	})

	// The adjudication result arrives late; the transition decision must not
	// re-run against a row that already left pending-analysis
	got, err := svc.applyAdjudication(p.ID, &challenge, intPtr(5), AdjudicationResult{
		Primary: verdict(false, 5, intPtr(5), "too few reps"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, got.Status)
	assert.Nil(t, got.PrimaryVerdict, "late verdicts are dropped, not attached out of order")
}
