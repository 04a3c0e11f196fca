package qa_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/access"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/qa"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/testutil"
)

type classroom struct {
	s          *testutil.Stack
	course     course.Course
	instructor core.Actor
	author     core.Actor
	peer       core.Actor
	outsider   core.Actor
}

// newClassroom sets up a free course with its instructor and two enrolled students.
func newClassroom(t *testing.T) classroom {
	t.Helper()
	s := testutil.NewStack(t)
	inst := testutil.CreateUser(t, s.UserRepo, "Ada Lovelace", "ada", "ada@example.com", "", []string{user.RoleInstructor}, true)
	crs := testutil.CreateCourse(t, s.Courses, "Intro to Go", 0, true, inst.ID)

	c := classroom{
		s:          s,
		course:     crs,
		instructor: inst.Actor(),
		author:     testutil.CreateStudent(t, s.UserRepo, "jane_doe").Actor(),
		peer:       testutil.CreateStudent(t, s.UserRepo, "john_doe").Actor(),
		outsider:   testutil.CreateStudent(t, s.UserRepo, "mallory").Actor(),
	}
	testutil.Enroll(t, s, c.author, crs.ID)
	testutil.Enroll(t, s, c.peer, crs.ID)
	return c
}

func (c classroom) ask(t *testing.T, title string, tags ...string) qa.Question {
	t.Helper()
	q, err := c.s.QA.CreateQuestion(context.Background(), c.author, qa.NewQuestion{
		CourseID:  c.course.ID,
		Title:     title,
		Body:      "I keep getting a deadlock when I close the channel early.",
		ScopeType: qa.ScopeCourse,
		Tags:      tags,
	})
	require.NoError(t, err)
	return q
}

func (c classroom) answer(t *testing.T, actor core.Actor, questionID string) qa.Answer {
	t.Helper()
	ans, err := c.s.QA.CreateAnswer(context.Background(), actor, questionID, qa.NewAnswer{Body: "Only the sender should close a channel."})
	require.NoError(t, err)
	return ans
}

func (c classroom) notifications(t *testing.T, actor core.Actor, typ notification.Type) []notification.Notification {
	t.Helper()
	c.s.Notifications.Wait()
	res, err := c.s.Notifications.List(context.Background(), actor.ID, notification.QueryFilter{Type: typ}, core.Page{})
	require.NoError(t, err)
	return res.Items
}

func TestAcceptAnswer(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()

	q := c.ask(t, "Why does my channel deadlock?", "Go", "Concurrency")
	assert.Equal(t, qa.StatusNew, q.Status)
	require.Len(t, q.Tags, 2)

	ans := c.answer(t, c.instructor, q.ID)
	detail, err := c.s.QA.GetQuestion(ctx, c.author, q.ID)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusInProgress, detail.Status)
	assert.Equal(t, 1, detail.AnswerCount)
	assert.Equal(t, 1, detail.ViewCount)
	assert.Len(t, c.notifications(t, c.author, notification.TypeQuestionAnswered), 1)

	_, err = c.s.QA.AcceptAnswer(ctx, c.peer, ans.ID)
	assert.ErrorIs(t, err, core.ErrPermissionDenied, "only the author or a moderator rules on answers")

	accepted, err := c.s.QA.AcceptAnswer(ctx, c.author, ans.ID)
	require.NoError(t, err)
	assert.True(t, accepted.IsAccepted)

	detail, err = c.s.QA.GetQuestion(ctx, c.author, q.ID)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusAnswered, detail.Status)

	ntfs := c.notifications(t, c.instructor, notification.TypeAnswerAccepted)
	require.Len(t, ntfs, 1)
	assert.Equal(t, q.ID, ntfs[0].Data["question_id"])
	assert.Equal(t, ans.ID, ntfs[0].Data["answer_id"])

	// accepting twice changes nothing
	_, err = c.s.QA.AcceptAnswer(ctx, c.author, ans.ID)
	require.NoError(t, err)
	assert.Len(t, c.notifications(t, c.instructor, notification.TypeAnswerAccepted), 1)

	// a second accepted answer replaces the first
	other := c.answer(t, c.peer, q.ID)
	_, err = c.s.QA.AcceptAnswer(ctx, c.author, other.ID)
	require.NoError(t, err)
	answers, err := c.s.QA.ListAnswers(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, other.ID, answers[0].ID, "the accepted answer comes first")
	assert.True(t, answers[0].IsAccepted)
	assert.False(t, answers[1].IsAccepted)

	_, err = c.s.QA.UnacceptAnswer(ctx, c.author, other.ID)
	require.NoError(t, err)
	detail, err = c.s.QA.GetQuestion(ctx, c.author, q.ID)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusInProgress, detail.Status)
}

func TestCreateQuestion_RequiresAccess(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	nq := qa.NewQuestion{CourseID: c.course.ID, Title: "Can I ask this?", Body: "I am not enrolled in this course yet."}

	_, err := c.s.QA.CreateQuestion(ctx, c.outsider, nq)
	assert.ErrorIs(t, err, qa.ErrAccessRequired)
	if e, ok := core.AsError(err); assert.True(t, ok) {
		assert.Equal(t, map[string]interface{}{"reason": access.ReasonNotEnrolled}, e.Data)
	}

	// staff bypass the enrollment check
	_, err = c.s.QA.CreateQuestion(ctx, c.instructor, nq)
	assert.NoError(t, err)

	nq.CourseID = "missing"
	_, err = c.s.QA.CreateQuestion(ctx, c.author, nq)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "course_id", ve.Fields[0].Field)
}

func TestVote(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	q := c.ask(t, "Why does my channel deadlock?")

	_, err := c.s.QA.Vote(ctx, c.author, qa.TargetQuestion, q.ID, qa.Up)
	assert.ErrorIs(t, err, qa.ErrSelfVote)
	_, err = c.s.QA.Vote(ctx, c.outsider, qa.TargetQuestion, q.ID, qa.Up)
	assert.ErrorIs(t, err, qa.ErrAccessRequired)

	tests := []struct {
		name      string
		dir       qa.Direction
		wantScore int
		wantVote  *qa.Direction
	}{
		{"first vote", qa.Up, 1, dirPtr(qa.Up)},
		{"same direction removes it", qa.Up, 0, nil},
		{"vote again", qa.Down, -1, dirPtr(qa.Down)},
		{"other direction flips it", qa.Up, 1, dirPtr(qa.Up)},
	}
	for _, tc := range tests {
		res, err := c.s.QA.Vote(ctx, c.peer, qa.TargetQuestion, q.ID, tc.dir)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.wantScore, res.Score, tc.name)
		assert.Equal(t, tc.wantVote, res.UserVote, tc.name)
	}

	res, err := c.s.QA.Vote(ctx, c.instructor, qa.TargetQuestion, q.ID, qa.Up)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)

	detail, err := c.s.QA.GetQuestion(ctx, c.peer, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.VoteScore)
	assert.Equal(t, dirPtr(qa.Up), detail.UserVote)

	// only the first vote of each voter notifies
	assert.Len(t, c.notifications(t, c.author, notification.TypeQuestionVoted), 2)

	ans := c.answer(t, c.instructor, q.ID)
	res, err = c.s.QA.Vote(ctx, c.author, qa.TargetAnswer, ans.ID, qa.Down)
	require.NoError(t, err)
	assert.Equal(t, -1, res.Score)
	assert.Len(t, c.notifications(t, c.instructor, notification.TypeAnswerVoted), 1)

	_, err = c.s.QA.Vote(ctx, c.peer, "comment", q.ID, qa.Up)
	assert.IsType(t, &core.ValidationError{}, err)
}

func dirPtr(d qa.Direction) *qa.Direction { return &d }

func TestContentLock(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	title := "Why does my channel deadlock? (edited)"

	q := c.ask(t, "Why does my channel deadlock?")
	_, err := c.s.QA.UpdateQuestion(ctx, c.peer, q.ID, qa.UpdateQuestion{Title: &title})
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	upd, err := c.s.QA.UpdateQuestion(ctx, c.author, q.ID, qa.UpdateQuestion{Title: &title, Tags: &[]string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, title, upd.Title)
	require.Len(t, upd.Tags, 1)
	assert.Equal(t, "go", upd.Tags[0].Slug)

	ans := c.answer(t, c.peer, q.ID)
	_, err = c.s.QA.UpdateQuestion(ctx, c.author, q.ID, qa.UpdateQuestion{Title: &title})
	assert.ErrorIs(t, err, qa.ErrContentLocked)
	assert.ErrorIs(t, c.s.QA.DeleteQuestion(ctx, c.author, q.ID), qa.ErrContentLocked)

	_, err = c.s.QA.Vote(ctx, c.author, qa.TargetAnswer, ans.ID, qa.Up)
	require.NoError(t, err)
	_, err = c.s.QA.UpdateAnswer(ctx, c.peer, ans.ID, qa.NewAnswer{Body: "Close it from the sender only."})
	assert.ErrorIs(t, err, qa.ErrContentLocked)
	assert.ErrorIs(t, c.s.QA.DeleteAnswer(ctx, c.peer, ans.ID), qa.ErrContentLocked)

	// moderators are never locked out
	require.NoError(t, c.s.QA.DeleteAnswer(ctx, c.instructor, ans.ID))
	detail, err := c.s.QA.GetQuestion(ctx, c.author, q.ID)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusNew, detail.Status)
	assert.Equal(t, 0, detail.AnswerCount)

	require.NoError(t, c.s.QA.DeleteQuestion(ctx, c.author, q.ID))
	_, err = c.s.QA.GetQuestion(ctx, c.author, q.ID)
	assert.ErrorIs(t, err, qa.ErrQuestionNotFound)
}

func TestModerateQuestion(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	q := c.ask(t, "Why does my channel deadlock?")
	c.answer(t, c.peer, q.ID)

	_, err := c.s.QA.ModerateQuestion(ctx, c.author, q.ID, qa.ActionPin)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	otherInst := testutil.CreateUser(t, c.s.UserRepo, "Bob", "bob", "bob@example.com", "", []string{user.RoleInstructor}, true)
	_, err = c.s.QA.ModerateQuestion(ctx, otherInst.Actor(), q.ID, qa.ActionPin)
	assert.ErrorIs(t, err, core.ErrPermissionDenied, "instructors moderate their own courses only")

	ta := testutil.CreateUser(t, c.s.UserRepo, "Tim", "tim", "tim@example.com", "", []string{user.RoleTA}, true)
	pinned, err := c.s.QA.ModerateQuestion(ctx, ta.Actor(), q.ID, qa.ActionPin)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)

	closed, err := c.s.QA.ModerateQuestion(ctx, c.instructor, q.ID, qa.ActionClose)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusClosed, closed.Status)

	_, err = c.s.QA.CreateAnswer(ctx, c.peer, q.ID, qa.NewAnswer{Body: "Too late for this one."})
	assert.ErrorIs(t, err, qa.ErrQuestionClosed)
	_, err = c.s.QA.CreateComment(ctx, c.peer, qa.TargetQuestion, q.ID, qa.NewComment{Body: "Thanks!"})
	assert.NoError(t, err, "closed questions still take comments")

	reopened, err := c.s.QA.ModerateQuestion(ctx, c.instructor, q.ID, qa.ActionReopen)
	require.NoError(t, err)
	assert.Equal(t, qa.StatusInProgress, reopened.Status)
	_, err = c.s.QA.ModerateQuestion(ctx, c.instructor, q.ID, qa.ActionReopen)
	assert.ErrorIs(t, err, qa.ErrInvalidTransition)

	assert.Len(t, c.notifications(t, c.author, notification.TypeQuestionPinned), 1)
	assert.Len(t, c.notifications(t, c.author, notification.TypeQuestionClosed), 1)
}

func TestComments(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	q := c.ask(t, "Why does my channel deadlock?")
	ans := c.answer(t, c.peer, q.ID)

	cmt, err := c.s.QA.CreateComment(ctx, c.author, qa.TargetAnswer, ans.ID, qa.NewComment{Body: "Could you share an example?"})
	require.NoError(t, err)
	assert.Equal(t, q.ID, cmt.QuestionID)

	ntfs := c.notifications(t, c.peer, notification.TypeCommentAdded)
	require.Len(t, ntfs, 1)
	assert.Equal(t, `A comment was added on your answer in "Why does my channel deadlock?".`, ntfs[0].Message)

	_, err = c.s.QA.UpdateComment(ctx, c.peer, cmt.ID, qa.NewComment{Body: "hijacked"})
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
	upd, err := c.s.QA.UpdateComment(ctx, c.author, cmt.ID, qa.NewComment{Body: "Could you share a snippet?"})
	require.NoError(t, err)
	assert.Equal(t, "Could you share a snippet?", upd.Body)

	comments, err := c.s.QA.ListComments(ctx, qa.TargetAnswer, ans.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 1)

	require.NoError(t, c.s.QA.DeleteComment(ctx, c.instructor, cmt.ID))
	comments, err = c.s.QA.ListComments(ctx, qa.TargetAnswer, ans.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)

	_, err = c.s.QA.ListComments(ctx, qa.TargetAnswer, "missing")
	assert.ErrorIs(t, err, qa.ErrAnswerNotFound)
}

func TestListQuestions(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	qa.NowFunc = func() time.Time { return now }
	defer func() { qa.NowFunc = time.Now }()

	c := newClassroom(t)
	ctx := context.Background()

	first := c.ask(t, "How do goroutines get scheduled?", "scheduler")
	now = now.Add(time.Minute)
	second := c.ask(t, "Why does my channel deadlock?", "concurrency")
	now = now.Add(time.Minute)
	third := c.ask(t, "What is a nil interface?")
	now = now.Add(time.Minute)

	c.answer(t, c.peer, first.ID)
	_, err := c.s.QA.Vote(ctx, c.peer, qa.TargetQuestion, second.ID, qa.Up)
	require.NoError(t, err)
	_, err = c.s.QA.ModerateQuestion(ctx, c.instructor, third.ID, qa.ActionPin)
	require.NoError(t, err)

	ids := func(t *testing.T, filter qa.QueryFilter) []string {
		t.Helper()
		res, err := c.s.QA.ListQuestions(ctx, filter, core.Page{})
		require.NoError(t, err)
		out := make([]string, 0, len(res.Items))
		for _, q := range res.Items {
			out = append(out, q.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter qa.QueryFilter
		want   []string
	}{
		{"newest, pinned first", qa.QueryFilter{CourseID: c.course.ID, Sort: qa.SortNewest}, []string{third.ID, second.ID, first.ID}},
		{"votes", qa.QueryFilter{Sort: qa.SortVotes}, []string{third.ID, second.ID, first.ID}},
		{"activity", qa.QueryFilter{Sort: qa.SortActivity}, []string{third.ID, first.ID, second.ID}},
		{"unanswered", qa.QueryFilter{Sort: qa.SortUnanswered}, []string{third.ID, second.ID}},
		{"tag", qa.QueryFilter{Tag: "concurrency"}, []string{second.ID}},
		{"search", qa.QueryFilter{Search: "GOROUTINES"}, []string{first.ID}},
		{"status", qa.QueryFilter{Status: qa.StatusInProgress}, []string{first.ID}},
		{"other course", qa.QueryFilter{CourseID: "missing"}, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(t, tc.filter))
		})
	}
}

// viewCountingRepo counts the views and can fail the question loads.
type viewCountingRepo struct {
	qa.Repository
	views   int
	loadErr error
}

func (r *viewCountingRepo) GetQuestion(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (qa.Question, error) {
	if r.loadErr != nil {
		return qa.Question{}, r.loadErr
	}
	return r.Repository.GetQuestion(ctx, id, forUpdate, exec...)
}

func (r *viewCountingRepo) IncrementViews(ctx context.Context, id string, exec ...core.DBExecutor) error {
	r.views++
	return r.Repository.IncrementViews(ctx, id, exec...)
}

func TestGetQuestion_CountsSuccessfulViews(t *testing.T) {
	c := newClassroom(t)
	ctx := context.Background()
	q := c.ask(t, "Why does my channel deadlock?")

	repo := &viewCountingRepo{Repository: c.s.QARepo}
	deps := c.s.QADeps()
	deps.Repo = repo
	svc := qa.NewService(deps)

	_, err := svc.GetQuestion(ctx, c.peer, "missing")
	assert.ErrorIs(t, err, qa.ErrQuestionNotFound)
	assert.Zero(t, repo.views)

	repo.loadErr = errors.New("connection reset")
	_, err = svc.GetQuestion(ctx, c.peer, q.ID)
	assert.Error(t, err)
	assert.Zero(t, repo.views, "a failed load is not a view")

	repo.loadErr = nil
	for want := 1; want <= 2; want++ {
		detail, err := svc.GetQuestion(ctx, c.peer, q.ID)
		require.NoError(t, err)
		assert.Equal(t, want, detail.ViewCount)
	}
	assert.Equal(t, 2, repo.views)
}

func TestVote_Concurrent(t *testing.T) {
	c := newClassroom(t)
	q := c.ask(t, "Why does my channel deadlock?")

	const voters = 10
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.s.QA.Vote(context.Background(), c.peer, qa.TargetQuestion, q.ID, qa.Up)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	votes, err := c.s.QARepo.CountVotes(context.Background(), qa.TargetQuestion, q.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, votes, 1, "one ledger row per voter")

	detail, err := c.s.QA.GetQuestion(context.Background(), c.peer, q.ID)
	require.NoError(t, err)
	assert.Equal(t, votes, detail.VoteScore)
	assert.LessOrEqual(t, detail.VoteScore, 1)
	assert.GreaterOrEqual(t, detail.VoteScore, -1)
	// an even number of toggles leaves no vote behind
	assert.Zero(t, detail.VoteScore)
	assert.Len(t, c.notifications(t, c.author, notification.TypeQuestionVoted), 1)
}
