package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/access"
	"github.com/trezcool/academia/core/qa"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/testutil"
)

func Test_qaApi_flow(t *testing.T) {
	app := newTestApp(t)

	instructor := testutil.CreateUser(t, app.UserRepo, "Ada", "ada", "ada@test.cd", "", []string{user.RoleInstructor}, true)
	author := testutil.CreateStudent(t, app.UserRepo, "jane")
	peer := testutil.CreateStudent(t, app.UserRepo, "john")
	outsider := testutil.CreateStudent(t, app.UserRepo, "mallory")
	crs := testutil.CreateCourse(t, app.Courses, "Concurrency in Go", 0, true, instructor.ID)
	testutil.Enroll(t, app.Stack, author.Actor(), crs.ID)
	testutil.Enroll(t, app.Stack, peer.Actor(), crs.ID)

	authorToken := app.token(t, author)
	peerToken := app.token(t, peer)
	instructorToken := app.token(t, instructor)

	newQuestion := qa.NewQuestion{
		CourseID: crs.ID,
		Title:    "Why does my channel deadlock?",
		Body:     "I send on an unbuffered channel from main and nothing ever receives it.",
		Tags:     []string{"Channels", "goroutines"},
	}

	// asking
	app.run(t, httpTest{
		method: http.MethodPost, path: "/api/qa/questions", token: authorToken, body: []byte(`{"course_id":"` + crs.ID + `"}`),
		wantCode: http.StatusBadRequest, wantErrors: []string{"title", "body"},
	})
	env := app.run(t, httpTest{
		method: http.MethodPost, path: "/api/qa/questions", token: app.token(t, outsider), body: marshalObj(t, newQuestion),
		wantCode: http.StatusForbidden, wantReason: "course_access_required",
	})
	assert.JSONEq(t, `{"reason":"`+access.ReasonNotEnrolled+`"}`, string(env.Data))

	env = app.run(t, httpTest{method: http.MethodPost, path: "/api/qa/questions", token: authorToken, body: marshalObj(t, newQuestion), wantCode: http.StatusCreated})
	var q qa.Question
	decode(t, env, &q)
	assert.Equal(t, qa.StatusNew, q.Status)
	require.Len(t, q.Tags, 2)
	qPath := "/api/qa/questions/" + q.ID

	app.run(t, httpTest{path: "/api/qa/questions/nope", token: authorToken, wantCode: http.StatusNotFound, wantReason: "question_not_found"})

	// answering & voting
	env = app.run(t, httpTest{
		method: http.MethodPost, path: qPath + "/answers", token: instructorToken,
		body: marshalObj(t, qa.NewAnswer{Body: "Nothing receives, so the send blocks forever."}), wantCode: http.StatusCreated,
	})
	var ans qa.Answer
	decode(t, env, &ans)
	aPath := "/api/qa/answers/" + ans.ID

	app.run(t, httpTest{
		method: http.MethodPost, path: qPath + "/vote", token: authorToken, body: marshalObj(t, qa.VoteRequest{Direction: qa.Up}),
		wantCode: http.StatusForbidden, wantReason: "self_vote",
	})
	app.run(t, httpTest{
		method: http.MethodPost, path: qPath + "/vote", token: peerToken, body: []byte(`{"direction":"sideways"}`),
		wantCode: http.StatusBadRequest, wantErrors: []string{"direction"},
	})
	env = app.run(t, httpTest{method: http.MethodPost, path: qPath + "/vote", token: peerToken, body: marshalObj(t, qa.VoteRequest{Direction: qa.Up})})
	var vote qa.VoteResult
	decode(t, env, &vote)
	assert.Equal(t, 1, vote.Score)
	if assert.NotNil(t, vote.UserVote) {
		assert.Equal(t, qa.Up, *vote.UserVote)
	}

	env = app.run(t, httpTest{path: qPath, token: peerToken})
	var detail qa.QuestionDetail
	decode(t, env, &detail)
	assert.Equal(t, qa.StatusInProgress, detail.Status)
	assert.Equal(t, 1, detail.AnswerCount)
	assert.Equal(t, 1, detail.VoteScore)

	// the question is locked now
	app.run(t, httpTest{
		method: http.MethodPut, path: qPath, token: authorToken, body: []byte(`{"title":"Why does my channel block forever?"}`),
		wantCode: http.StatusForbidden, wantReason: "content_locked",
	})

	// accepting
	app.run(t, httpTest{method: http.MethodPost, path: aPath + "/accept", token: peerToken, wantCode: http.StatusForbidden, wantReason: "permission_denied"})
	env = app.run(t, httpTest{method: http.MethodPost, path: aPath + "/accept", token: authorToken})
	decode(t, env, &ans)
	assert.True(t, ans.IsAccepted)

	env = app.run(t, httpTest{path: "/api/qa/questions?status=answered&course_id=" + crs.ID, token: peerToken})
	var list qa.QuestionList
	decode(t, env, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, q.ID, list.Items[0].ID)
	app.run(t, httpTest{path: "/api/qa/questions?sort=random", token: peerToken, wantCode: http.StatusBadRequest, wantErrors: []string{"sort"}})

	// comments
	env = app.run(t, httpTest{
		method: http.MethodPost, path: aPath + "/comments", token: peerToken,
		body: marshalObj(t, qa.NewComment{Body: "Thanks, that fixed it."}), wantCode: http.StatusCreated,
	})
	var cmt qa.Comment
	decode(t, env, &cmt)

	env = app.run(t, httpTest{path: aPath + "/comments", token: authorToken})
	var cmts []qa.Comment
	decode(t, env, &cmts)
	require.Len(t, cmts, 1)
	assert.Equal(t, cmt.ID, cmts[0].ID)

	app.run(t, httpTest{method: http.MethodDelete, path: "/api/qa/comments/" + cmt.ID, token: authorToken, wantCode: http.StatusForbidden})
	app.run(t, httpTest{method: http.MethodDelete, path: "/api/qa/comments/" + cmt.ID, token: instructorToken, wantCode: http.StatusNoContent})

	// moderation
	app.run(t, httpTest{
		method: http.MethodPost, path: qPath + "/moderate", token: authorToken, body: marshalObj(t, qa.ModerateRequest{Action: qa.ActionClose}),
		wantCode: http.StatusForbidden,
	})
	app.run(t, httpTest{method: http.MethodPost, path: qPath + "/moderate", token: instructorToken, body: marshalObj(t, qa.ModerateRequest{Action: qa.ActionClose})})
	app.run(t, httpTest{
		method: http.MethodPost, path: qPath + "/answers", token: peerToken,
		body: marshalObj(t, qa.NewAnswer{Body: "Use a buffered channel instead."}), wantCode: http.StatusConflict, wantReason: "question_closed",
	})
}
