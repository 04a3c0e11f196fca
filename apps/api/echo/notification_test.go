package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/testutil"
)

func Test_notificationApi(t *testing.T) {
	app := newTestApp(t)
	jane := testutil.CreateStudent(t, app.UserRepo, "jane")
	john := testutil.CreateStudent(t, app.UserRepo, "john")
	token := app.token(t, jane)

	ctx := context.Background()
	data := map[string]interface{}{"question_id": "q1", "question_title": "Why does my channel deadlock?"}
	app.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionAnswered, RecipientID: jane.ID, ActorID: john.ID, Data: data})
	app.Notifications.Emit(ctx, notification.Event{Type: notification.TypeCommentAdded, RecipientID: jane.ID, ActorID: john.ID, Data: data})
	app.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionVoted, RecipientID: john.ID, ActorID: jane.ID, Data: data})

	env := app.run(t, httpTest{path: "/api/notifications", token: token})
	var list notification.ListResult
	decode(t, env, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, 2, list.UnreadCount)

	app.run(t, httpTest{path: "/api/notifications?type=bogus", token: token, wantCode: http.StatusBadRequest, wantErrors: []string{"type"}})
	app.run(t, httpTest{path: "/api/notifications?unread=maybe", token: token, wantCode: http.StatusBadRequest, wantErrors: []string{"unread"}})

	env = app.run(t, httpTest{path: "/api/notifications?type=comment_added", token: token})
	decode(t, env, &list)
	require.Len(t, list.Items, 1)
	commentNtf := list.Items[0]

	// only the recipient can touch a notification
	app.run(t, httpTest{
		method: http.MethodPatch, path: "/api/notifications/" + commentNtf.ID + "/read", token: app.token(t, john),
		wantCode: http.StatusNotFound, wantReason: "notification_not_found",
	})
	env = app.run(t, httpTest{method: http.MethodPatch, path: "/api/notifications/" + commentNtf.ID + "/read", token: token})
	var ntf notification.Notification
	decode(t, env, &ntf)
	assert.True(t, ntf.IsRead)
	assert.NotNil(t, ntf.ReadAt)

	env = app.run(t, httpTest{path: "/api/notifications/stats", token: token})
	var stats notification.Stats
	decode(t, env, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Unread)

	env = app.run(t, httpTest{method: http.MethodPatch, path: "/api/notifications/mark-all-read", token: token})
	assert.JSONEq(t, `{"updated":1}`, string(env.Data))

	env = app.run(t, httpTest{path: "/api/notifications?unread=true", token: token})
	decode(t, env, &list)
	assert.Empty(t, list.Items)

	app.run(t, httpTest{method: http.MethodDelete, path: "/api/notifications/" + commentNtf.ID, token: app.token(t, john), wantCode: http.StatusNotFound})
	app.run(t, httpTest{method: http.MethodDelete, path: "/api/notifications/" + commentNtf.ID, token: token, wantCode: http.StatusNoContent})
}

func Test_notificationApi_preferences(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, testutil.CreateStudent(t, app.UserRepo, "jane"))

	env := app.run(t, httpTest{path: "/api/notifications/preferences", token: token})
	var prefs []notification.Preference
	decode(t, env, &prefs)
	assert.Len(t, prefs, len(notification.Types))

	tests := []httpTest{
		{name: "empty", body: []byte(`{"preferences":[]}`), wantCode: http.StatusBadRequest, wantErrors: []string{"preferences"}},
		{
			name: "unknown type", body: []byte(`{"preferences":[{"type":"spam","email":true}]}`),
			wantCode: http.StatusBadRequest, wantErrors: []string{"preferences[0].type"},
		},
		{name: "updated", body: []byte(`{"preferences":[{"type":"question_voted","in_app":false,"email":true}]}`)},
	}
	for _, tt := range tests {
		tt.method = http.MethodPatch
		tt.path = "/api/notifications/preferences"
		tt.token = token

		t.Run(tt.name, func(t *testing.T) {
			env := app.run(t, tt)
			if tt.wantCode != 0 {
				return
			}
			var prefs []notification.Preference
			decode(t, env, &prefs)
			for _, p := range prefs {
				if p.Type == notification.TypeQuestionVoted {
					assert.False(t, p.InApp)
					assert.True(t, p.Email)
				}
			}
		})
	}
}
