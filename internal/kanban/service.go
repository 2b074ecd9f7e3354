package kanban

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
)

// History actions.
const (
	ActionMoved              = "moved"
	ActionInterviewScheduled = "interview_scheduled"
	ActionInterviewCompleted = "interview_completed"
	ActionCoverLetter        = "cover_letter_saved"
)

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates the lifecycle rules. It has no dependency on any
// transport and is used by both the HTTP handler and the gRPC server.
type Service struct {
	repo   repository.Repository
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a configured Service. A nil publisher disables events.
func NewService(repo repository.Repository, pub Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, now: time.Now}
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Job returns one job.
func (s *Service) Job(ctx context.Context, id int64) (*model.JobRecord, error) {
	return s.repo.Get(ctx, id)
}

// Jobs lists jobs, optionally filtered by status and minimum score. A
// minimum score orders results best first.
func (s *Service) Jobs(ctx context.Context, status model.Status, minScore *int) ([]model.JobRecord, error) {
	var (
		jobs []model.JobRecord
		err  error
	)
	switch {
	case minScore != nil:
		jobs, err = s.repo.QueryByScore(ctx, *minScore)
	case status != "":
		return s.repo.QueryByStatus(ctx, status)
	default:
		return s.repo.All(ctx)
	}
	if err != nil || status == "" {
		return jobs, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

// Search returns jobs whose title, company or description contains q.
func (s *Service) Search(ctx context.Context, q string) ([]model.JobRecord, error) {
	if strings.TrimSpace(q) == "" {
		return nil, &ValidationError{Msg: "search query must not be blank"}
	}
	return s.repo.Search(ctx, q)
}

// Export returns every stored job.
func (s *Service) Export(ctx context.Context) ([]model.JobRecord, error) {
	return s.repo.All(ctx)
}

// History returns a job's audit log in order.
func (s *Service) History(ctx context.Context, id int64) ([]model.HistoryEvent, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// Interviews returns a job's interview rounds.
func (s *Service) Interviews(ctx context.Context, id int64) ([]model.Interview, error) {
	return s.repo.Interviews(ctx, id)
}

// Stats summarises the store.
func (s *Service) Stats(ctx context.Context) (repository.Stats, error) {
	return s.repo.Stats(ctx)
}

// ─── Transitions ─────────────────────────────────────────────────────────────

// Transition moves a job to a new status. The status update, its timestamp
// and the history event are written together or not at all; an invalid
// request returns *model.InvalidTransitionError and writes nothing.
func (s *Service) Transition(ctx context.Context, id int64, to model.Status, note string) (*model.JobRecord, error) {
	var (
		job  *model.JobRecord
		from model.Status
	)
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		cur, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		from = cur.Status
		if err := checkTransition(from, to); err != nil {
			return err
		}
		job, err = s.move(ctx, tx, cur, to, ActionMoved, note, repository.Update{})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.PublishMoved(ctx, id, from, to)
	return job, nil
}

// move applies a validated status change inside tx. extra carries any
// other field changes that must commit with it.
func (s *Service) move(ctx context.Context, tx repository.Repository, cur *model.JobRecord, to model.Status, action, details string, extra repository.Update) (*model.JobRecord, error) {
	now := s.now().UTC()
	u := extra
	u.Status = &to
	u.UpdatedAt = now
	switch to {
	case model.StatusApplied:
		u.AppliedAt = &now
	case model.StatusAIAnalyzed:
		if cur.AnalyzedAt == nil && u.AnalyzedAt == nil {
			u.AnalyzedAt = &now
		}
	case model.StatusOffer, model.StatusRejected, model.StatusSkipped:
		u.ResolvedAt = &now
	}
	if err := tx.Update(ctx, cur.ID, u); err != nil {
		return nil, err
	}
	if _, err := tx.AppendHistory(ctx, model.HistoryEvent{
		JobID:     cur.ID,
		Action:    action,
		From:      cur.Status,
		To:        to,
		Details:   details,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}
	return tx.Get(ctx, cur.ID)
}

// MarkAnalyzed moves a job to ai_analyzed inside a caller's transaction,
// committing the score fields in extra with it. extra.Score is required.
// The caller publishes nothing; use PublishMoved after commit.
func (s *Service) MarkAnalyzed(ctx context.Context, tx repository.Repository, id int64, details string, extra repository.Update) (*model.JobRecord, error) {
	if extra.Score == nil {
		return nil, &ValidationError{Msg: "score is required"}
	}
	cur, err := tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !IsTransitionAllowed(cur.Status, model.StatusAIAnalyzed) {
		return nil, &model.InvalidTransitionError{From: cur.Status, To: model.StatusAIAnalyzed}
	}
	return s.move(ctx, tx, cur, model.StatusAIAnalyzed, ActionMoved, details, extra)
}

// PublishMoved announces a committed move.
func (s *Service) PublishMoved(ctx context.Context, id int64, from, to model.Status) {
	s.logger.Info("job moved", "job_id", id, "from", from, "to", to)
	s.pub.Publish(ctx, EventJobMoved, JobMovedEvent{
		Type:  EventJobMoved,
		JobID: id,
		From:  string(from),
		To:    string(to),
		At:    s.now().UTC().Format(time.RFC3339),
	})
}

// ─── Interviews ──────────────────────────────────────────────────────────────

// InterviewInput describes one interview round to record.
type InterviewInput struct {
	Type        string
	ScheduledAt time.Time
	Interviewer string
	Duration    time.Duration
	Notes       string
}

func (in InterviewInput) validate() error {
	if strings.TrimSpace(in.Type) == "" {
		return &ValidationError{Msg: "interview type is required"}
	}
	if in.ScheduledAt.IsZero() {
		return &ValidationError{Msg: "interview scheduledAt is required"}
	}
	if in.Duration < 0 {
		return &ValidationError{Msg: "interview duration must not be negative"}
	}
	return nil
}

// ScheduleInterview records an interview round. From applied it also moves
// the job to interview_scheduled; later rounds are recorded without a
// status change.
func (s *Service) ScheduleInterview(ctx context.Context, jobID int64, in InterviewInput) (*model.Interview, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	iv := model.Interview{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Type:        strings.TrimSpace(in.Type),
		ScheduledAt: in.ScheduledAt.UTC(),
		Interviewer: in.Interviewer,
		Duration:    in.Duration,
		Notes:       in.Notes,
	}

	var (
		from  model.Status
		moved bool
	)
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		cur, err := tx.Get(ctx, jobID)
		if err != nil {
			return err
		}
		from = cur.Status
		switch cur.Status {
		case model.StatusApplied:
			moved = true
		case model.StatusInterviewScheduled, model.StatusInterviewed:
		default:
			return &model.InvalidTransitionError{
				From: cur.Status, To: model.StatusInterviewScheduled,
				Reason: "interviews can only be scheduled after applying",
			}
		}
		if err := tx.InsertInterview(ctx, iv); err != nil {
			return err
		}
		if !moved {
			return nil
		}
		details := fmt.Sprintf("%s interview on %s", iv.Type, iv.ScheduledAt.Format(time.RFC3339))
		_, err = s.move(ctx, tx, cur, model.StatusInterviewScheduled, ActionInterviewScheduled, details, repository.Update{})
		return err
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.PublishMoved(ctx, jobID, from, model.StatusInterviewScheduled)
	}
	return &iv, nil
}

// CompleteInterview marks a round completed. A job waiting on its first
// interview moves to interviewed.
func (s *Service) CompleteInterview(ctx context.Context, jobID int64, interviewID string) (*model.JobRecord, error) {
	var (
		job   *model.JobRecord
		moved bool
	)
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		cur, err := tx.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if err := tx.CompleteInterview(ctx, jobID, interviewID); err != nil {
			return err
		}
		if cur.Status != model.StatusInterviewScheduled {
			job = cur
			return nil
		}
		moved = true
		job, err = s.move(ctx, tx, cur, model.StatusInterviewed, ActionInterviewCompleted, "interview "+interviewID, repository.Update{})
		return err
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.PublishMoved(ctx, jobID, model.StatusInterviewScheduled, model.StatusInterviewed)
	}
	return job, nil
}

// ─── Annotations ─────────────────────────────────────────────────────────────

// AddNote sets or replaces the free-text note. Allowed in every state.
func (s *Service) AddNote(ctx context.Context, id int64, note string) (*model.JobRecord, error) {
	if err := s.repo.Update(ctx, id, repository.Update{Notes: &note, UpdatedAt: s.now().UTC()}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// SaveCoverLetter stores a cover letter. A job that has not reached
// cover_letter_generated is moved there; one already past it keeps its
// status.
func (s *Service) SaveCoverLetter(ctx context.Context, id int64, text string) (*model.JobRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Msg: "cover letter must not be empty"}
	}

	var (
		job   *model.JobRecord
		from  model.Status
		moved bool
	)
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		cur, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		from = cur.Status
		u := repository.Update{CoverLetter: &text}
		switch {
		case IsTransitionAllowed(cur.Status, model.StatusCoverLetterGenerated):
			moved = true
			job, err = s.move(ctx, tx, cur, model.StatusCoverLetterGenerated, ActionCoverLetter, "", u)
			return err
		case cur.Status == model.StatusCoverLetterGenerated || (isApplied(cur.Status) && !cur.Status.IsTerminal()):
			u.UpdatedAt = s.now().UTC()
			if err := tx.Update(ctx, id, u); err != nil {
				return err
			}
			job, err = tx.Get(ctx, id)
			return err
		}
		return &model.InvalidTransitionError{From: cur.Status, To: model.StatusCoverLetterGenerated}
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.PublishMoved(ctx, id, from, model.StatusCoverLetterGenerated)
	}
	return job, nil
}

// ErrFollowupNotApplied is returned when a follow-up is recorded for a job
// that is not waiting on an application response.
var ErrFollowupNotApplied = errors.New("follow-ups are only recorded for applied jobs")

// RecordFollowup counts one follow-up sent for an applied job.
func (s *Service) RecordFollowup(ctx context.Context, id int64) (*model.JobRecord, error) {
	var job *model.JobRecord
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		cur, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusApplied {
			return ErrFollowupNotApplied
		}
		now := s.now().UTC()
		count := cur.FollowupCount + 1
		if err := tx.Update(ctx, id, repository.Update{
			FollowupCount:  &count,
			LastFollowupAt: &now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
		job, err = tx.Get(ctx, id)
		return err
	})
	return job, err
}

// JobsNeedingFollowup returns applied jobs whose application is at least
// days old and that have had no follow-up within that time.
func (s *Service) JobsNeedingFollowup(ctx context.Context, days int) ([]model.JobRecord, error) {
	if days < 0 {
		return nil, &ValidationError{Msg: "days must not be negative"}
	}
	applied, err := s.repo.QueryByStatus(ctx, model.StatusApplied)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.JobRecord, 0)
	for _, j := range applied {
		if NeedsFollowup(&j, days, now) {
			out = append(out, j)
		}
	}
	return out, nil
}

// NeedsFollowup reports whether j is due a follow-up at now.
func NeedsFollowup(j *model.JobRecord, days int, now time.Time) bool {
	if j.Status != model.StatusApplied || j.AppliedAt == nil {
		return false
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	if j.AppliedAt.After(cutoff) {
		return false
	}
	return j.LastFollowupAt == nil || !j.LastFollowupAt.After(cutoff)
}

// ─── Sentinel errors ─────────────────────────────────────────────────────────

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
