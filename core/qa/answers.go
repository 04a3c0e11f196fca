package qa

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

func (svc *service) CreateAnswer(ctx context.Context, actor core.Actor, questionID string, na NewAnswer) (Answer, error) {
	var (
		q   Question
		ans Answer
	)
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if q, err = svc.Repo.GetQuestion(ctx, questionID, true, exec); err != nil {
			return err
		}
		if q.Status == StatusClosed {
			return ErrQuestionClosed
		}
		if err = svc.requireAccess(ctx, actor, q.CourseID); err != nil {
			return err
		}

		now := NowFunc().UTC()
		ans, err = svc.Repo.CreateAnswer(ctx, Answer{
			QuestionID: q.ID,
			AuthorID:   actor.ID,
			Body:       na.Body,
			CreatedAt:  now,
			UpdatedAt:  now,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating answer")
		}

		if err = svc.refreshStatus(ctx, &q, exec); err != nil {
			return err
		}
		q.UpdatedAt = now
		q.LastActivityAt = now
		_, err = svc.Repo.UpdateQuestion(ctx, q, exec)
		return err
	})
	if err != nil {
		return Answer{}, err
	}

	svc.emit(ctx, notification.TypeQuestionAnswered, q.AuthorID, actor, questionData(q, map[string]interface{}{"answer_id": ans.ID}))
	return ans, nil
}

func (svc *service) answerInteracted(ctx context.Context, ans Answer, exec core.DBExecutor) func() (bool, error) {
	return func() (bool, error) {
		votes, err := svc.Repo.CountVotes(ctx, TargetAnswer, ans.ID, exec)
		if err != nil {
			return false, errors.Wrap(err, "counting votes")
		}
		return votes > 0, nil
	}
}

func (svc *service) UpdateAnswer(ctx context.Context, actor core.Actor, id string, na NewAnswer) (Answer, error) {
	var ans Answer
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if ans, err = svc.Repo.GetAnswer(ctx, id, true, exec); err != nil {
			return err
		}
		q, err := svc.Repo.GetQuestion(ctx, ans.QuestionID, false, exec)
		if err != nil {
			return err
		}
		if err = svc.canChange(ctx, actor, q.CourseID, ans.AuthorID, svc.answerInteracted(ctx, ans, exec)); err != nil {
			return err
		}
		ans.Body = na.Body
		ans.UpdatedAt = NowFunc().UTC()
		ans, err = svc.Repo.UpdateAnswer(ctx, ans, exec)
		return err
	})
	if err != nil {
		return Answer{}, err
	}
	return ans, nil
}

func (svc *service) DeleteAnswer(ctx context.Context, actor core.Actor, id string) error {
	return svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		ans, err := svc.Repo.GetAnswer(ctx, id, false, exec)
		if err != nil {
			return err
		}
		// question first: every writer locks question then answer
		q, err := svc.Repo.GetQuestion(ctx, ans.QuestionID, true, exec)
		if err != nil {
			return err
		}
		if err = svc.canChange(ctx, actor, q.CourseID, ans.AuthorID, svc.answerInteracted(ctx, ans, exec)); err != nil {
			return err
		}
		if err = svc.Repo.DeleteAnswer(ctx, ans.ID, exec); err != nil {
			return errors.Wrap(err, "deleting answer")
		}

		if err = svc.refreshStatus(ctx, &q, exec); err != nil {
			return err
		}
		q.UpdatedAt = NowFunc().UTC()
		_, err = svc.Repo.UpdateQuestion(ctx, q, exec)
		return err
	})
}

func (svc *service) ListAnswers(ctx context.Context, questionID string) ([]Answer, error) {
	if _, err := svc.Repo.GetQuestion(ctx, questionID, false); err != nil {
		return nil, err
	}
	answers, err := svc.Repo.QueryAnswers(ctx, questionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	if answers == nil {
		answers = []Answer{}
	}
	return answers, nil
}

// lockForAcceptance loads the answer with its question, both locked, and checks actor may rule on it.
func (svc *service) lockForAcceptance(ctx context.Context, actor core.Actor, id string, exec core.DBExecutor) (Question, Answer, error) {
	ans, err := svc.Repo.GetAnswer(ctx, id, false, exec)
	if err != nil {
		return Question{}, Answer{}, err
	}
	q, err := svc.Repo.GetQuestion(ctx, ans.QuestionID, true, exec)
	if err != nil {
		return Question{}, Answer{}, err
	}
	if ans, err = svc.Repo.GetAnswer(ctx, id, true, exec); err != nil {
		return Question{}, Answer{}, err
	}

	if q.AuthorID != actor.ID {
		mod, err := svc.isModerator(ctx, actor, q.CourseID)
		if err != nil {
			return Question{}, Answer{}, err
		}
		if !mod {
			return Question{}, Answer{}, core.ErrPermissionDenied
		}
	}
	return q, ans, nil
}

// AcceptAnswer marks the answer as the accepted one, un-accepting any other.
func (svc *service) AcceptAnswer(ctx context.Context, actor core.Actor, id string) (Answer, error) {
	var (
		q       Question
		ans     Answer
		changed bool
	)
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if q, ans, err = svc.lockForAcceptance(ctx, actor, id, exec); err != nil {
			return err
		}
		if q.Status == StatusClosed {
			return ErrQuestionClosed
		}
		if ans.IsAccepted {
			return nil
		}
		changed = true

		if err = svc.Repo.ClearAccepted(ctx, q.ID, exec); err != nil {
			return errors.Wrap(err, "clearing accepted answer")
		}
		now := NowFunc().UTC()
		ans.IsAccepted = true
		ans.UpdatedAt = now
		if ans, err = svc.Repo.UpdateAnswer(ctx, ans, exec); err != nil {
			return errors.Wrap(err, "accepting answer")
		}

		if err = q.setStatus(StatusAnswered); err != nil {
			return err
		}
		q.UpdatedAt = now
		q.LastActivityAt = now
		_, err = svc.Repo.UpdateQuestion(ctx, q, exec)
		return err
	})
	if err != nil {
		return Answer{}, err
	}

	if changed {
		svc.emit(ctx, notification.TypeAnswerAccepted, ans.AuthorID, actor, questionData(q, map[string]interface{}{"answer_id": ans.ID}))
	}
	return ans, nil
}

func (svc *service) UnacceptAnswer(ctx context.Context, actor core.Actor, id string) (Answer, error) {
	var ans Answer
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		q, a, err := svc.lockForAcceptance(ctx, actor, id, exec)
		if err != nil {
			return err
		}
		ans = a
		if !ans.IsAccepted {
			return nil
		}

		now := NowFunc().UTC()
		ans.IsAccepted = false
		ans.UpdatedAt = now
		if ans, err = svc.Repo.UpdateAnswer(ctx, ans, exec); err != nil {
			return errors.Wrap(err, "un-accepting answer")
		}
		if err = svc.refreshStatus(ctx, &q, exec); err != nil {
			return err
		}
		q.UpdatedAt = now
		_, err = svc.Repo.UpdateQuestion(ctx, q, exec)
		return err
	})
	if err != nil {
		return Answer{}, err
	}
	return ans, nil
}

func (svc *service) ModerateAnswer(ctx context.Context, actor core.Actor, id string, action Action) (Answer, error) {
	var ans Answer
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if ans, err = svc.Repo.GetAnswer(ctx, id, true, exec); err != nil {
			return err
		}
		q, err := svc.Repo.GetQuestion(ctx, ans.QuestionID, false, exec)
		if err != nil {
			return err
		}
		mod, err := svc.isModerator(ctx, actor, q.CourseID)
		if err != nil {
			return err
		}
		if !mod {
			return core.ErrPermissionDenied
		}

		switch action {
		case ActionPin:
			ans.IsPinned = true
		case ActionUnpin:
			ans.IsPinned = false
		default:
			return core.NewValidationError(nil, core.FieldError{Field: "action", Error: "answers can only be pinned or unpinned"})
		}
		ans.UpdatedAt = NowFunc().UTC()
		ans, err = svc.Repo.UpdateAnswer(ctx, ans, exec)
		return err
	})
	if err != nil {
		return Answer{}, err
	}
	return ans, nil
}
