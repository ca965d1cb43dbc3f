package domain

import "time"

// ClaimFragment is one extracted assertion tied to the page it came from.
type ClaimFragment struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
}

type CorroboratedClaim struct {
	Key     string   `json:"key"`
	Count   int      `json:"count"`
	Sources []string `json:"sources"`
	Samples []string `json:"samples"`
}

type Corroboration struct {
	Claims      []CorroboratedClaim `json:"claims"`
	SourceCount int                 `json:"source_count"`
	ClaimCount  int                 `json:"claim_count"`
}

// SourceCandidate is a page proposed for evidence gathering.
type SourceCandidate struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// FetchedPage is size-capped markup returned by the source fetcher.
type FetchedPage struct {
	URL         string
	FinalURL    string
	ContentType string
	Body        string
	Truncated   bool
	FetchedAt   time.Time
}

// SourceReport is the per-source record stored in the evidence stage output.
type SourceReport struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status"`
	Fragments int    `json:"fragments"`
	Error     string `json:"error,omitempty"`
}

const (
	SourceStatusFetched = "fetched"
	SourceStatusSkipped = "skipped"
	SourceStatusFailed  = "failed"
)

// SweepItem is the outcome for one refresh candidate, e.g. "ok" or "s3_failed: <reason>".
type SweepItem struct {
	ProductID string `json:"product_id"`
	Result    string `json:"result"`
}

type SweepReport struct {
	Processed int         `json:"processed"`
	Results   []SweepItem `json:"results"`
}
