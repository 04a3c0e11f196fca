package qa

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/notification"
)

func (svc *service) CreateQuestion(ctx context.Context, actor core.Actor, nq NewQuestion) (Question, error) {
	if _, err := svc.Courses.GetByID(ctx, nq.CourseID); err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return Question{}, core.NewValidationError(err, core.FieldError{Field: "course_id", Error: "course not found"})
		}
		return Question{}, errors.Wrap(err, "loading course")
	}
	if err := svc.requireAccess(ctx, actor, nq.CourseID); err != nil {
		return Question{}, err
	}

	now := NowFunc().UTC()
	q := Question{
		AuthorID:       actor.ID,
		CourseID:       nq.CourseID,
		Title:          nq.Title,
		Body:           nq.Body,
		Category:       nq.Category,
		ScopeType:      nq.ScopeType,
		ScopeID:        nq.ScopeID,
		Status:         StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if q, err = svc.Repo.CreateQuestion(ctx, q, exec); err != nil {
			return errors.Wrap(err, "creating question")
		}
		q.Tags, err = svc.setTags(ctx, q.ID, nq.Tags, exec)
		return err
	})
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

func (svc *service) setTags(ctx context.Context, questionID string, names []string, exec core.DBExecutor) ([]Tag, error) {
	tags := []Tag{}
	if len(names) > 0 {
		var err error
		if tags, err = svc.Repo.EnsureTags(ctx, names, exec); err != nil {
			return nil, errors.Wrap(err, "creating tags")
		}
	}
	if err := svc.Repo.SetQuestionTags(ctx, questionID, tags, exec); err != nil {
		return nil, errors.Wrap(err, "tagging question")
	}
	return tags, nil
}

func (svc *service) GetQuestion(ctx context.Context, actor core.Actor, id string) (QuestionDetail, error) {
	q, err := svc.Repo.GetQuestion(ctx, id, false)
	if err != nil {
		return QuestionDetail{}, err
	}
	if err = svc.Repo.IncrementViews(ctx, id); err != nil {
		return QuestionDetail{}, errors.Wrap(err, "counting view")
	}
	q.ViewCount++

	detail := QuestionDetail{Question: q}
	v, err := svc.Repo.GetVote(ctx, actor.ID, TargetQuestion, q.ID)
	switch {
	case err == nil:
		detail.UserVote = &v.Direction
	case !errors.Is(err, ErrVoteNotFound):
		return QuestionDetail{}, errors.Wrap(err, "loading vote")
	}
	return detail, nil
}

// questionInteracted tells whether someone other than its author answered or voted on q.
func (svc *service) questionInteracted(ctx context.Context, q Question, exec core.DBExecutor) func() (bool, error) {
	return func() (bool, error) {
		answers, err := svc.Repo.CountAnswers(ctx, q.ID, q.AuthorID, exec)
		if err != nil {
			return false, errors.Wrap(err, "counting answers")
		}
		if answers > 0 {
			return true, nil
		}
		votes, err := svc.Repo.CountVotes(ctx, TargetQuestion, q.ID, exec)
		if err != nil {
			return false, errors.Wrap(err, "counting votes")
		}
		return votes > 0, nil
	}
}

func (svc *service) UpdateQuestion(ctx context.Context, actor core.Actor, id string, uq UpdateQuestion) (Question, error) {
	var q Question
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if q, err = svc.Repo.GetQuestion(ctx, id, true, exec); err != nil {
			return err
		}
		if err = svc.canChange(ctx, actor, q.CourseID, q.AuthorID, svc.questionInteracted(ctx, q, exec)); err != nil {
			return err
		}

		if uq.Title != nil {
			q.Title = *uq.Title
		}
		if uq.Body != nil {
			q.Body = *uq.Body
		}
		if uq.Category != nil {
			q.Category = *uq.Category
		}
		now := NowFunc().UTC()
		q.UpdatedAt = now
		q.LastActivityAt = now
		tags := q.Tags
		if q, err = svc.Repo.UpdateQuestion(ctx, q, exec); err != nil {
			return errors.Wrap(err, "updating question")
		}
		q.Tags = tags
		if uq.Tags != nil {
			q.Tags, err = svc.setTags(ctx, q.ID, *uq.Tags, exec)
		}
		return err
	})
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

func (svc *service) DeleteQuestion(ctx context.Context, actor core.Actor, id string) error {
	return svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		q, err := svc.Repo.GetQuestion(ctx, id, true, exec)
		if err != nil {
			return err
		}
		if err = svc.canChange(ctx, actor, q.CourseID, q.AuthorID, svc.questionInteracted(ctx, q, exec)); err != nil {
			return err
		}
		return svc.Repo.DeleteQuestion(ctx, q.ID, exec)
	})
}

func (svc *service) ListQuestions(ctx context.Context, filter QueryFilter, page core.Page) (QuestionList, error) {
	page.Clean()
	items, total, err := svc.Repo.QueryQuestions(ctx, filter, page)
	if err != nil {
		return QuestionList{}, errors.Wrap(err, "querying questions")
	}
	if items == nil {
		items = []Question{}
	}
	return QuestionList{Items: items, Pagination: core.NewPagination(page, total)}, nil
}

func (svc *service) ModerateQuestion(ctx context.Context, actor core.Actor, id string, action Action) (Question, error) {
	var (
		q       Question
		changed bool
	)
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if q, err = svc.Repo.GetQuestion(ctx, id, true, exec); err != nil {
			return err
		}
		mod, err := svc.isModerator(ctx, actor, q.CourseID)
		if err != nil {
			return err
		}
		if !mod {
			return core.ErrPermissionDenied
		}

		before := q
		switch action {
		case ActionPin:
			q.IsPinned = true
		case ActionUnpin:
			q.IsPinned = false
		case ActionFeature:
			q.IsFeatured = true
		case ActionUnfeature:
			q.IsFeatured = false
		case ActionClose:
			if err = q.setStatus(StatusClosed); err != nil {
				return err
			}
		case ActionReopen:
			if q.Status != StatusClosed {
				return ErrInvalidTransition.WithData(map[string]interface{}{"from": q.Status, "action": action})
			}
			if err = svc.reopen(ctx, &q, exec); err != nil {
				return err
			}
		default:
			return core.NewValidationError(nil, core.FieldError{Field: "action", Error: "unknown action"})
		}
		changed = before.IsPinned != q.IsPinned || before.IsFeatured != q.IsFeatured || before.Status != q.Status
		if !changed {
			return nil
		}

		q.UpdatedAt = NowFunc().UTC()
		tags := q.Tags
		q, err = svc.Repo.UpdateQuestion(ctx, q, exec)
		q.Tags = tags
		return err
	})
	if err != nil {
		return Question{}, err
	}

	if changed {
		switch action {
		case ActionPin:
			svc.emit(ctx, notification.TypeQuestionPinned, q.AuthorID, actor, questionData(q, nil))
		case ActionClose:
			svc.emit(ctx, notification.TypeQuestionClosed, q.AuthorID, actor, questionData(q, nil))
		}
	}
	return q, nil
}

func (svc *service) answerState(ctx context.Context, questionID string, exec core.DBExecutor) (count int, accepted bool, err error) {
	answers, err := svc.Repo.QueryAnswers(ctx, questionID, exec)
	if err != nil {
		return 0, false, errors.Wrap(err, "querying answers")
	}
	for _, a := range answers {
		accepted = accepted || a.IsAccepted
	}
	return len(answers), accepted, nil
}

// reopen puts a closed question back in the status its answers give it.
func (svc *service) reopen(ctx context.Context, q *Question, exec core.DBExecutor) error {
	count, accepted, err := svc.answerState(ctx, q.ID, exec)
	if err != nil {
		return err
	}
	return q.setStatus(derivedStatus(count, accepted))
}

// refreshStatus recomputes the answer count and, unless closed, the status of q.
func (svc *service) refreshStatus(ctx context.Context, q *Question, exec core.DBExecutor) error {
	count, accepted, err := svc.answerState(ctx, q.ID, exec)
	if err != nil {
		return err
	}
	q.AnswerCount = count
	if q.Status == StatusClosed {
		return nil
	}
	return q.setStatus(derivedStatus(count, accepted))
}
