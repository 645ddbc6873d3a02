package services

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"challenge-proof-system/models"
)

// ProofValidator does purely syntactic validation of submitted evidence
// before anything is persisted or sent to an analyzer. No side effects;
// every failure maps 1:1 to a user-facing message.
type ProofValidator struct{}

func NewProofValidator() *ProofValidator {
	return &ProofValidator{}
}

var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// Validate checks the submission against the challenge's requirements.
// Returns a *ValidationError on any failure, nil when the evidence is
// acceptable for adjudication.
func (v *ProofValidator) Validate(challenge *models.ChallengeMirror, primaryURL string, secondaryURL *string, resultValue *int, confirmedPublic bool) error {
	if !confirmedPublic {
		return validationErr("you must confirm that your proof is publicly visible")
	}

	if err := v.validatePrimary(primaryURL); err != nil {
		return err
	}

	if challenge.NumericGoal() {
		if resultValue == nil {
			return validationErr(fmt.Sprintf("this challenge requires a result value (%s)", challenge.GoalKind))
		}
		if *resultValue <= 0 {
			return validationErr("result value must be a positive whole number")
		}
	}

	if challenge.RequiresDualProof {
		if secondaryURL == nil || strings.TrimSpace(*secondaryURL) == "" {
			return validationErr("this challenge requires a secondary social-media proof link")
		}
		if err := v.validateSecondary(*secondaryURL); err != nil {
			return err
		}
	}

	return nil
}

// validatePrimary accepts full-length YouTube videos only. Shorts are a
// deliberate reject, not a parse failure — people paste them constantly.
func (v *ProofValidator) validatePrimary(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validationErr("primary proof must be a valid video link")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com":
		if strings.HasPrefix(u.Path, "/shorts/") {
			return validationErr("primary link must be a full-length video, not a Short")
		}
		if strings.HasPrefix(u.Path, "/clip/") {
			return validationErr("primary link must be a full-length video, not a clip")
		}
		if u.Path == "/watch" {
			if !youtubeIDPattern.MatchString(u.Query().Get("v")) {
				return validationErr("primary proof link is missing a video ID")
			}
			return nil
		}
		if id, ok := strings.CutPrefix(u.Path, "/live/"); ok && youtubeIDPattern.MatchString(strings.Trim(id, "/")) {
			return nil
		}
		return validationErr("primary proof must link directly to a video")
	case "youtu.be":
		if youtubeIDPattern.MatchString(strings.Trim(u.Path, "/")) {
			return nil
		}
		return validationErr("primary proof link is missing a video ID")
	default:
		return validationErr("primary proof must be a YouTube video link")
	}
}

// validateSecondary accepts Instagram posts and reels.
func (v *ProofValidator) validateSecondary(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validationErr("secondary proof must be a valid social-media link")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "instagram.com" {
		return validationErr("secondary proof must be an Instagram link")
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 3)
	if len(parts) >= 2 && (parts[0] == "p" || parts[0] == "reel") && parts[1] != "" {
		return nil
	}
	return validationErr("secondary proof must link to an Instagram post or reel")
}
