package model

import "fmt"

// Status is a job's position in the application lifecycle.
type Status string

const (
	StatusScraped              Status = "scraped"
	StatusReviewed             Status = "reviewed"
	StatusAIAnalyzed           Status = "ai_analyzed"
	StatusCoverLetterGenerated Status = "cover_letter_generated"
	StatusApplied              Status = "applied"
	StatusInterviewScheduled   Status = "interview_scheduled"
	StatusInterviewed          Status = "interviewed"
	StatusOffer                Status = "offer"
	StatusRejected             Status = "rejected"
	StatusSkipped              Status = "skipped"
)

// AllStatuses lists every lifecycle state in chain order.
var AllStatuses = []Status{
	StatusScraped,
	StatusReviewed,
	StatusAIAnalyzed,
	StatusCoverLetterGenerated,
	StatusApplied,
	StatusInterviewScheduled,
	StatusInterviewed,
	StatusOffer,
	StatusRejected,
	StatusSkipped,
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal reports whether no further status change is possible.
func (s Status) IsTerminal() bool {
	return s == StatusOffer || s == StatusRejected || s == StatusSkipped
}
