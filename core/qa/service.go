package qa

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/access"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/notification"
)

var NowFunc = time.Now // mockable

// errors
var (
	ErrQuestionNotFound  = core.NewNotFoundError("question_not_found", "question not found")
	ErrAnswerNotFound    = core.NewNotFoundError("answer_not_found", "answer not found")
	ErrCommentNotFound   = core.NewNotFoundError("comment_not_found", "comment not found")
	ErrVoteNotFound      = core.NewNotFoundError("vote_not_found", "vote not found")
	ErrQuestionClosed    = core.NewConflictError("question_closed", "this question is closed")
	ErrInvalidTransition = core.NewConflictError("invalid_transition", "this question cannot move to the requested status")
	ErrSelfVote          = core.NewForbiddenError("self_vote", "you cannot vote on your own content")
	ErrContentLocked     = core.NewForbiddenError("content_locked", "content cannot be changed once others have answered or voted")
	ErrAccessRequired    = core.NewForbiddenError("course_access_required", "you need access to this course")
)

type (
	Repository interface {
		CreateQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
		// GetQuestion locks the row until the end of the transaction when forUpdate is set.
		GetQuestion(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (Question, error)
		UpdateQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
		// DeleteQuestion also removes its answers, comments and votes.
		DeleteQuestion(ctx context.Context, id string, exec ...core.DBExecutor) error
		QueryQuestions(ctx context.Context, filter QueryFilter, page core.Page, exec ...core.DBExecutor) ([]Question, int, error)
		IncrementViews(ctx context.Context, id string, exec ...core.DBExecutor) error
		// EnsureTags returns the tags named, creating the missing ones.
		EnsureTags(ctx context.Context, names []string, exec ...core.DBExecutor) ([]Tag, error)
		SetQuestionTags(ctx context.Context, questionID string, tags []Tag, exec ...core.DBExecutor) error

		CreateAnswer(ctx context.Context, a Answer, exec ...core.DBExecutor) (Answer, error)
		GetAnswer(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (Answer, error)
		UpdateAnswer(ctx context.Context, a Answer, exec ...core.DBExecutor) (Answer, error)
		// DeleteAnswer also removes its comments and votes.
		DeleteAnswer(ctx context.Context, id string, exec ...core.DBExecutor) error
		// QueryAnswers lists the accepted answer first, then by score.
		QueryAnswers(ctx context.Context, questionID string, exec ...core.DBExecutor) ([]Answer, error)
		// CountAnswers counts the answers of a question, skipping those written by excludedAuthorID.
		CountAnswers(ctx context.Context, questionID, excludedAuthorID string, exec ...core.DBExecutor) (int, error)
		ClearAccepted(ctx context.Context, questionID string, exec ...core.DBExecutor) error

		CreateComment(ctx context.Context, c Comment, exec ...core.DBExecutor) (Comment, error)
		GetComment(ctx context.Context, id string, exec ...core.DBExecutor) (Comment, error)
		UpdateComment(ctx context.Context, c Comment, exec ...core.DBExecutor) (Comment, error)
		DeleteComment(ctx context.Context, id string, exec ...core.DBExecutor) error
		QueryComments(ctx context.Context, targetType TargetType, targetID string, exec ...core.DBExecutor) ([]Comment, error)

		GetVote(ctx context.Context, voterID string, targetType TargetType, targetID string, exec ...core.DBExecutor) (Vote, error)
		SaveVote(ctx context.Context, v Vote, exec ...core.DBExecutor) error
		DeleteVote(ctx context.Context, voterID string, targetType TargetType, targetID string, exec ...core.DBExecutor) error
		CountVotes(ctx context.Context, targetType TargetType, targetID string, exec ...core.DBExecutor) (int, error)
		// MarkVoteNotified records that the voter's first vote on the target was announced.
		// It returns false when it already was.
		MarkVoteNotified(ctx context.Context, voterID string, targetType TargetType, targetID string, exec ...core.DBExecutor) (bool, error)
		// RecomputeScore sets the target's vote score from the vote ledger and returns it.
		RecomputeScore(ctx context.Context, targetType TargetType, targetID string, exec ...core.DBExecutor) (int, error)
	}

	// AccessChecker tells whether a user may take part in a course.
	AccessChecker interface {
		Check(ctx context.Context, userID, courseID string) (access.Decision, error)
	}

	Service interface {
		CreateQuestion(ctx context.Context, actor core.Actor, nq NewQuestion) (Question, error)
		// GetQuestion counts a view.
		GetQuestion(ctx context.Context, actor core.Actor, id string) (QuestionDetail, error)
		UpdateQuestion(ctx context.Context, actor core.Actor, id string, uq UpdateQuestion) (Question, error)
		DeleteQuestion(ctx context.Context, actor core.Actor, id string) error
		ListQuestions(ctx context.Context, filter QueryFilter, page core.Page) (QuestionList, error)
		ModerateQuestion(ctx context.Context, actor core.Actor, id string, action Action) (Question, error)

		CreateAnswer(ctx context.Context, actor core.Actor, questionID string, na NewAnswer) (Answer, error)
		UpdateAnswer(ctx context.Context, actor core.Actor, id string, na NewAnswer) (Answer, error)
		DeleteAnswer(ctx context.Context, actor core.Actor, id string) error
		ListAnswers(ctx context.Context, questionID string) ([]Answer, error)
		AcceptAnswer(ctx context.Context, actor core.Actor, id string) (Answer, error)
		UnacceptAnswer(ctx context.Context, actor core.Actor, id string) (Answer, error)
		ModerateAnswer(ctx context.Context, actor core.Actor, id string, action Action) (Answer, error)

		CreateComment(ctx context.Context, actor core.Actor, targetType TargetType, targetID string, nc NewComment) (Comment, error)
		UpdateComment(ctx context.Context, actor core.Actor, id string, nc NewComment) (Comment, error)
		DeleteComment(ctx context.Context, actor core.Actor, id string) error
		ListComments(ctx context.Context, targetType TargetType, targetID string) ([]Comment, error)

		// Vote toggles: the same direction twice removes the vote, the other direction flips it.
		Vote(ctx context.Context, actor core.Actor, targetType TargetType, targetID string, dir Direction) (VoteResult, error)
	}

	Deps struct {
		Repo     Repository
		Courses  course.Service
		Access   AccessChecker
		Tx       core.Transactor
		Notifier notification.Emitter
		Logger   core.Logger
	}

	service struct {
		Deps
	}
)

var _ Service = (*service)(nil)

func NewService(deps Deps) Service {
	return &service{Deps: deps}
}

// isModerator: admins and TAs moderate every course, instructors their own.
func (svc *service) isModerator(ctx context.Context, actor core.Actor, courseID string) (bool, error) {
	if actor.IsAdmin() || actor.IsTA() {
		return true, nil
	}
	if !actor.IsInstructor() {
		return false, nil
	}
	crs, err := svc.Courses.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "loading course")
	}
	return crs.InstructorID == actor.ID, nil
}

// requireAccess lets staff through and checks the enrollment of everybody else.
func (svc *service) requireAccess(ctx context.Context, actor core.Actor, courseID string) error {
	if actor.IsStaff() {
		return nil
	}
	d, err := svc.Access.Check(ctx, actor.ID, courseID)
	if err != nil {
		return err
	}
	if !d.HasAccess {
		return ErrAccessRequired.WithData(map[string]interface{}{"reason": d.Reason})
	}
	return nil
}

// canChange tells whether actor may edit or delete content authored by authorID.
// Authors are locked out once others interacted with it.
func (svc *service) canChange(ctx context.Context, actor core.Actor, courseID, authorID string, interacted func() (bool, error)) error {
	mod, err := svc.isModerator(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if mod {
		return nil
	}
	if actor.ID != authorID {
		return core.ErrPermissionDenied
	}
	locked, err := interacted()
	if err != nil {
		return err
	}
	if locked {
		return ErrContentLocked
	}
	return nil
}

func (svc *service) emit(ctx context.Context, typ notification.Type, recipientID string, actor core.Actor, data map[string]interface{}) {
	svc.Notifier.Emit(ctx, notification.Event{Type: typ, RecipientID: recipientID, ActorID: actor.ID, Data: data})
}

func questionData(q Question, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"question_id":    q.ID,
		"question_title": q.Title,
		"course_id":      q.CourseID,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
