package verification

import "time"

// ScanRecord is the persisted projection of a completed session.
type ScanRecord struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	OccurredAt time.Time `json:"occurredAt"`
	IsReal     bool      `json:"isReal"`
	Confidence int       `json:"confidence"`
	Issues     []string  `json:"issues"`
	Message    string    `json:"message"`
}

// NewScanRecord projects a verdict onto a record owned by owner.
func NewScanRecord(owner string, at time.Time, v Verdict) ScanRecord {
	return ScanRecord{
		Owner:      owner,
		OccurredAt: at,
		IsReal:     v.IsReal,
		Confidence: v.Confidence,
		Issues:     copyIssues(v.Issues),
		Message:    v.Message,
	}
}
