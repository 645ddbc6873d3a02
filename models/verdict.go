package models

// Verdict is the normalized outcome of one automated proof analysis,
// regardless of which analyzer produced it. A nil *Verdict on a participation
// means that analysis was unavailable (failed/timed out) — which is NOT the
// same as {IsValid: false}.
type Verdict struct {
	IsValid       bool   `json:"is_valid"`
	Confidence    int    `json:"confidence"` // integer percentage 0..100
	ObservedValue *int   `json:"observed_value,omitempty"`
	Reason        string `json:"reason"`
}
