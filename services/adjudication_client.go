// services/adjudication_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"challenge-proof-system/models"
	"challenge-proof-system/utils"
)

// Adjudicator is what the participation state machine needs from the
// automated analysis layer. Implemented by AdjudicationClient; stubbed in
// tests.
type Adjudicator interface {
	Adjudicate(ctx context.Context, p *models.Participation, challenge *models.ChallengeMirror) AdjudicationResult
}

// AdjudicationResult carries zero, one or two normalized verdicts. A nil
// verdict means that analysis was unavailable after retries — downstream must
// route to manual review, never auto-reject on absence.
type AdjudicationResult struct {
	Primary   *models.Verdict
	Secondary *models.Verdict
}

// AdjudicationClient calls the analysis service: the video analyzer for the
// primary proof and, for dual-proof categories, the social analyzer for the
// secondary proof. The two endpoints return different shapes; everything is
// normalized to models.Verdict right here so nothing downstream branches on
// the source.
type AdjudicationClient struct {
	BaseURL      string
	Token        string
	Client       *http.Client
	MaxAttempts  int
	RetryBackoff time.Duration
}

func NewAdjudicationClient(baseURL, token string) *AdjudicationClient {
	return &AdjudicationClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 20 * time.Second,
		},
		MaxAttempts:  3,
		RetryBackoff: 2 * time.Second,
	}
}

// videoAnalysis is the video analyzer's native response shape.
type videoAnalysis struct {
	Valid         bool   `json:"valid"`
	Confidence    int    `json:"confidence"` // already 0..100
	ObservedValue *int   `json:"observed_value,omitempty"`
	Summary       string `json:"summary"`
}

// socialAnalysis is the social analyzer's native response shape. Note the
// 0..1 score instead of a percentage.
type socialAnalysis struct {
	IsMatch bool    `json:"is_match"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// Adjudicate runs the required analyses for one participation. It never
// returns an error: a source that fails after retries simply yields a nil
// verdict, which routes the participation to manual review downstream.
func (c *AdjudicationClient) Adjudicate(ctx context.Context, p *models.Participation, challenge *models.ChallengeMirror) AdjudicationResult {
	var res AdjudicationResult

	primary, err := c.analyzeVideo(ctx, p, challenge)
	if err != nil {
		log.Printf("⚠️ Primary analysis unavailable for participation %s: %v", p.ID, err)
	} else {
		res.Primary = primary
	}

	if challenge.RequiresDualProof && p.SecondaryProofURL != nil {
		secondary, err := c.analyzeSocial(ctx, p, challenge)
		if err != nil {
			log.Printf("⚠️ Secondary analysis unavailable for participation %s: %v", p.ID, err)
		} else {
			res.Secondary = secondary
		}
	}

	return res
}

func (c *AdjudicationClient) analyzeVideo(ctx context.Context, p *models.Participation, challenge *models.ChallengeMirror) (*models.Verdict, error) {
	reqBody := map[string]interface{}{
		"video_url":    p.PrimaryProofURL,
		"category":     challenge.Category,
		"goal":         challenge.Goal,
		"goal_kind":    challenge.GoalKind,
		"result_value": p.ResultValue,
	}

	raw, err := c.post(ctx, "/v1/analyze/video", reqBody)
	if err != nil {
		return nil, err
	}
	c.archive(ctx, p.ID, "primary", raw)

	var out videoAnalysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode video analysis: %w", err)
	}

	return &models.Verdict{
		IsValid:       out.Valid,
		Confidence:    clampConfidence(out.Confidence),
		ObservedValue: out.ObservedValue,
		Reason:        out.Summary,
	}, nil
}

func (c *AdjudicationClient) analyzeSocial(ctx context.Context, p *models.Participation, challenge *models.ChallengeMirror) (*models.Verdict, error) {
	reqBody := map[string]interface{}{
		"post_url":  *p.SecondaryProofURL,
		"video_url": p.PrimaryProofURL,
		"category":  challenge.Category,
	}

	raw, err := c.post(ctx, "/v1/analyze/social", reqBody)
	if err != nil {
		return nil, err
	}
	c.archive(ctx, p.ID, "secondary", raw)

	var out socialAnalysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode social analysis: %w", err)
	}

	return &models.Verdict{
		IsValid:    out.IsMatch,
		Confidence: clampConfidence(int(math.Round(out.Score * 100))),
		Reason:     out.Comment,
	}, nil
}

// post sends one analysis request with retry + backoff. Transient failures
// (network errors, 5xx) are retried up to MaxAttempts; a 4xx is not — the
// analyzer rejected the request shape and retrying cannot help.
func (c *AdjudicationClient) post(ctx context.Context, path string, body map[string]interface{}) ([]byte, error) {
	jsonData, _ := json.Marshal(body)

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, ctx.Err())
			case <-time.After(c.RetryBackoff * time.Duration(attempt-1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.Token)

		resp, err := c.Client.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("❌ Analysis call %s attempt %d/%d failed: %v", path, attempt, c.MaxAttempts, err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return respBody, nil
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: analyzer returned %d: %s", ErrAnalysisUnavailable, resp.StatusCode, string(respBody))
		}

		lastErr = fmt.Errorf("analyzer returned %d", resp.StatusCode)
		log.Printf("❌ Analysis call %s attempt %d/%d: status %d", path, attempt, c.MaxAttempts, resp.StatusCode)
	}

	return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, lastErr)
}

// archive keeps the raw analyzer payload for moderators. Best-effort — an
// archive failure never fails the adjudication.
func (c *AdjudicationClient) archive(ctx context.Context, participationID, source string, raw []byte) {
	if !utils.R2Ready() {
		return
	}
	key := fmt.Sprintf("adjudications/%s/%s.json", participationID, source)
	if _, err := utils.ArchiveJSON(ctx, key, raw); err != nil {
		log.Printf("⚠️ Failed to archive %s analysis for %s: %v", source, participationID, err)
	}
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
