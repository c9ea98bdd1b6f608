package model

// Reason tags the source of a suggestion. Priority on merge conflicts is
// component > correlation > frequency.
type Reason string

const (
	ReasonFrequency   Reason = "frequency"
	ReasonCorrelation Reason = "correlation"
	ReasonComponent   Reason = "component"
)

// Suggestion proposes a probably-missing installation for a building.
// After merging there is at most one suggestion per (building, installation)
// pair, and never two suggestions with the same non-empty Code.
type Suggestion struct {
	BuildingID   string  `json:"building_id"`
	Installation string  `json:"installation"`
	Probability  float64 `json:"probability"` // in [0,1]
	Reason       Reason  `json:"reason"`
	Details      string  `json:"details"` // free-text justification
	Code         string  `json:"code,omitempty"`
}
