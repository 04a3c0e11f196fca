package qa

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

// Vote records the actor's vote on a question or an answer, then recomputes its score from the ledger.
func (svc *service) Vote(ctx context.Context, actor core.Actor, targetType TargetType, targetID string, dir Direction) (VoteResult, error) {
	if !targetType.Valid() {
		return VoteResult{}, core.NewValidationError(nil, core.FieldError{Field: "target_type", Error: "must be question or answer"})
	}
	if dir != Up && dir != Down {
		return VoteResult{}, core.NewValidationError(nil, core.FieldError{Field: "direction", Error: "must be up or down"})
	}

	var (
		q        Question
		authorID string
		notify   bool
		res      = VoteResult{TargetType: targetType, TargetID: targetID}
	)
	err := svc.Tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		// the locked target serializes concurrent votes on it
		switch targetType {
		case TargetQuestion:
			if q, err = svc.Repo.GetQuestion(ctx, targetID, true, exec); err != nil {
				return err
			}
			authorID = q.AuthorID
		case TargetAnswer:
			ans, err := svc.Repo.GetAnswer(ctx, targetID, true, exec)
			if err != nil {
				return err
			}
			if q, err = svc.Repo.GetQuestion(ctx, ans.QuestionID, false, exec); err != nil {
				return err
			}
			authorID = ans.AuthorID
		}
		if authorID == actor.ID {
			return ErrSelfVote
		}
		if err = svc.requireAccess(ctx, actor, q.CourseID); err != nil {
			return err
		}

		now := NowFunc().UTC()
		prev, err := svc.Repo.GetVote(ctx, actor.ID, targetType, targetID, exec)
		switch {
		case errors.Is(err, ErrVoteNotFound):
			// only the first vote of a voter on a target is announced, not the re-votes after a removal
			if notify, err = svc.Repo.MarkVoteNotified(ctx, actor.ID, targetType, targetID, exec); err != nil {
				return errors.Wrap(err, "marking vote notified")
			}
			err = svc.Repo.SaveVote(ctx, Vote{
				VoterID:    actor.ID,
				TargetType: targetType,
				TargetID:   targetID,
				Direction:  dir,
				CreatedAt:  now,
				UpdatedAt:  now,
			}, exec)
			res.UserVote = &dir
		case err != nil:
			return errors.Wrap(err, "loading vote")
		case prev.Direction == dir:
			err = svc.Repo.DeleteVote(ctx, actor.ID, targetType, targetID, exec)
		default:
			prev.Direction = dir
			prev.UpdatedAt = now
			err = svc.Repo.SaveVote(ctx, prev, exec)
			res.UserVote = &dir
		}
		if err != nil {
			return errors.Wrap(err, "saving vote")
		}

		if res.Score, err = svc.Repo.RecomputeScore(ctx, targetType, targetID, exec); err != nil {
			return errors.Wrap(err, "recomputing score")
		}
		return nil
	})
	if err != nil {
		return VoteResult{}, err
	}

	if notify {
		typ := notification.TypeQuestionVoted
		if targetType == TargetAnswer {
			typ = notification.TypeAnswerVoted
		}
		svc.emit(ctx, typ, authorID, actor, questionData(q, map[string]interface{}{
			"target_type": string(targetType),
			"target_id":   targetID,
			"direction":   string(dir),
		}))
	}
	return res, nil
}
