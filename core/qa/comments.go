package qa

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

// commentTarget resolves the question a target belongs to, and the author of the target itself.
func (svc *service) commentTarget(ctx context.Context, targetType TargetType, targetID string, exec ...core.DBExecutor) (q Question, authorID string, err error) {
	switch targetType {
	case TargetQuestion:
		if q, err = svc.Repo.GetQuestion(ctx, targetID, false, exec...); err != nil {
			return Question{}, "", err
		}
		return q, q.AuthorID, nil
	case TargetAnswer:
		ans, err := svc.Repo.GetAnswer(ctx, targetID, false, exec...)
		if err != nil {
			return Question{}, "", err
		}
		if q, err = svc.Repo.GetQuestion(ctx, ans.QuestionID, false, exec...); err != nil {
			return Question{}, "", err
		}
		return q, ans.AuthorID, nil
	}
	return Question{}, "", core.NewValidationError(nil, core.FieldError{Field: "target_type", Error: "must be question or answer"})
}

// CreateComment comments on a question or an answer. Closed questions still take comments.
func (svc *service) CreateComment(ctx context.Context, actor core.Actor, targetType TargetType, targetID string, nc NewComment) (Comment, error) {
	q, authorID, err := svc.commentTarget(ctx, targetType, targetID)
	if err != nil {
		return Comment{}, err
	}
	if err = svc.requireAccess(ctx, actor, q.CourseID); err != nil {
		return Comment{}, err
	}

	now := NowFunc().UTC()
	cmt, err := svc.Repo.CreateComment(ctx, Comment{
		TargetType: targetType,
		TargetID:   targetID,
		QuestionID: q.ID,
		AuthorID:   actor.ID,
		Body:       nc.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Comment{}, errors.Wrap(err, "creating comment")
	}

	svc.emit(ctx, notification.TypeCommentAdded, authorID, actor, questionData(q, map[string]interface{}{
		"comment_id":  cmt.ID,
		"target_type": string(targetType),
		"target_id":   targetID,
	}))
	return cmt, nil
}

func (svc *service) changeComment(ctx context.Context, actor core.Actor, id string) (Comment, error) {
	cmt, err := svc.Repo.GetComment(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	if cmt.AuthorID == actor.ID {
		return cmt, nil
	}
	q, err := svc.Repo.GetQuestion(ctx, cmt.QuestionID, false)
	if err != nil {
		return Comment{}, err
	}
	mod, err := svc.isModerator(ctx, actor, q.CourseID)
	if err != nil {
		return Comment{}, err
	}
	if !mod {
		return Comment{}, core.ErrPermissionDenied
	}
	return cmt, nil
}

func (svc *service) UpdateComment(ctx context.Context, actor core.Actor, id string, nc NewComment) (Comment, error) {
	cmt, err := svc.changeComment(ctx, actor, id)
	if err != nil {
		return Comment{}, err
	}
	cmt.Body = nc.Body
	cmt.UpdatedAt = NowFunc().UTC()
	return svc.Repo.UpdateComment(ctx, cmt)
}

func (svc *service) DeleteComment(ctx context.Context, actor core.Actor, id string) error {
	cmt, err := svc.changeComment(ctx, actor, id)
	if err != nil {
		return err
	}
	return svc.Repo.DeleteComment(ctx, cmt.ID)
}

func (svc *service) ListComments(ctx context.Context, targetType TargetType, targetID string) ([]Comment, error) {
	if _, _, err := svc.commentTarget(ctx, targetType, targetID); err != nil {
		return nil, err
	}
	comments, err := svc.Repo.QueryComments(ctx, targetType, targetID)
	if err != nil {
		return nil, errors.Wrap(err, "querying comments")
	}
	if comments == nil {
		comments = []Comment{}
	}
	return comments, nil
}
