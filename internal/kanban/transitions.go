// Package kanban implements the job lifecycle state machine and the
// operations that move a job through it.
//
// Valid status graph:
//
//	scraped ──► reviewed ──► ai_analyzed ──► cover_letter_generated ──► applied
//	   │           │  │            │  │                 │                  │
//	   │           │  └────────────┼──┴─────────────────┴──────────────────┤
//	   └───────────┴───────────────┴──► skipped (before applied only)      │
//	                                                                       ▼
//	applied ──► interview_scheduled ──► interviewed ──► offer
//	   │                 │                   │
//	   └─────────────────┴───────────────────┴──► rejected
//
// offer, rejected and skipped are terminal states.
package kanban

import (
	"slices"

	"jobmate/pipeline-service/internal/model"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[model.Status][]model.Status{
	model.StatusScraped: {
		model.StatusReviewed, model.StatusAIAnalyzed, model.StatusSkipped,
	},
	model.StatusReviewed: {
		model.StatusAIAnalyzed, model.StatusCoverLetterGenerated, model.StatusApplied, model.StatusSkipped,
	},
	model.StatusAIAnalyzed: {
		model.StatusCoverLetterGenerated, model.StatusApplied, model.StatusSkipped,
	},
	model.StatusCoverLetterGenerated: {
		model.StatusApplied, model.StatusSkipped,
	},
	model.StatusApplied:            {model.StatusInterviewScheduled, model.StatusRejected},
	model.StatusInterviewScheduled: {model.StatusInterviewed, model.StatusRejected},
	model.StatusInterviewed:        {model.StatusOffer, model.StatusRejected},
	// offer, rejected and skipped are terminal: no outgoing transitions
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to model.Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s model.Status) []model.Status {
	return slices.Clone(validTransitions[s])
}

// checkTransition validates a direct status change. interview_scheduled is
// only reachable by recording an interview and ai_analyzed only by storing
// a score.
func checkTransition(from, to model.Status) error {
	switch to {
	case model.StatusInterviewScheduled:
		return &model.InvalidTransitionError{From: from, To: to, Reason: "schedule an interview instead"}
	case model.StatusAIAnalyzed:
		return &model.InvalidTransitionError{From: from, To: to, Reason: "run analysis instead"}
	}
	if !IsTransitionAllowed(from, to) {
		return &model.InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// isApplied reports whether the job has passed the applied gate.
func isApplied(s model.Status) bool {
	switch s {
	case model.StatusApplied, model.StatusInterviewScheduled, model.StatusInterviewed,
		model.StatusOffer, model.StatusRejected:
		return true
	}
	return false
}
