package domain

// Stage output payloads. They are persisted as opaque JSON; these types are
// only used by the executors that produce them and by readers that need a
// field or two (exports, snapshot patches).

type NormalizedClaim struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Value   string   `json:"value"`
	Numeric *float64 `json:"numeric,omitempty"`
	Unit    string   `json:"unit,omitempty"`
}

type ClaimsOutput struct {
	Claims []NormalizedClaim `json:"claims"`
	Count  int               `json:"count"`
}

type EvidenceOutput struct {
	Sources       []SourceReport `json:"sources"`
	Corroboration Corroboration  `json:"corroboration"`
}

type Discrepancy struct {
	ClaimKey          string `json:"claim_key"`
	ManufacturerValue string `json:"manufacturer_value"`
	EvidenceValue     string `json:"evidence_value"`
	Severity          string `json:"severity"`
	Note              string `json:"note,omitempty"`
}

type VerificationOutput struct {
	Discrepancies   []Discrepancy `json:"discrepancies"`
	VerifiedCount   int           `json:"verified_count"`
	DisputedCount   int           `json:"disputed_count"`
	UnverifiedCount int           `json:"unverified_count"`
}

type AssessmentOutput struct {
	TruthScore   int     `json:"truth_score"`
	Verdict      string  `json:"verdict"`
	Summary      string  `json:"summary"`
	QualityScore float64 `json:"quality_score"`
}
