package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/testutil"
)

func boolPtr(b bool) *bool { return &b }

func TestEmit(t *testing.T) {
	s := testutil.NewStack(t)
	usr := testutil.CreateStudent(t, s.UserRepo, "jane_doe")
	ctx := context.Background()

	data := map[string]interface{}{"question_id": "q1", "question_title": "How do channels work?"}
	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionAnswered, RecipientID: usr.ID, ActorID: "someone", Data: data})
	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionAnswered, RecipientID: usr.ID, ActorID: usr.ID, Data: data})
	s.Notifications.Emit(ctx, notification.Event{Type: "bogus", RecipientID: usr.ID})
	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionAnswered})
	s.Notifications.Wait()

	res, err := s.Notifications.List(ctx, usr.ID, notification.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1, "self notifications and unknown types are skipped")
	ntf := res.Items[0]
	assert.Equal(t, notification.TypeQuestionAnswered, ntf.Type)
	assert.Equal(t, "New answer to your question", ntf.Title)
	assert.Equal(t, `Your question "How do channels work?" received a new answer.`, ntf.Message)
	assert.Equal(t, "q1", ntf.Data["question_id"])
	assert.False(t, ntf.IsRead)
	assert.Nil(t, ntf.ExpiresAt)
	assert.Equal(t, 1, res.UnreadCount)

	sent := s.Outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, usr.Email, sent[0].To[0].Address)
	assert.Equal(t, "New answer to your question", sent[0].Subject)
	assert.Contains(t, sent[0].TextContent, "received a new answer")
	assert.Contains(t, sent[0].HTMLContent, "How do channels work?")

	published := s.Publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, ntf.ID, published[0].ID)
}

func TestEmit_Preferences(t *testing.T) {
	s := testutil.NewStack(t)
	usr := testutil.CreateStudent(t, s.UserRepo, "jane_doe")
	ctx := context.Background()

	_, err := s.Notifications.UpdatePreferences(ctx, usr.ID, notification.UpdatePreferences{Preferences: []notification.PreferenceUpdate{
		{Type: notification.TypeQuestionAnswered, InApp: boolPtr(false)},
		{Type: notification.TypeCommentAdded, Email: boolPtr(true)},
	}})
	require.NoError(t, err)

	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionAnswered, RecipientID: usr.ID, ActorID: "a"})
	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeCommentAdded, RecipientID: usr.ID, ActorID: "a"})
	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionPinned, RecipientID: usr.ID, ActorID: "a"})
	s.Notifications.Wait()

	res, err := s.Notifications.List(ctx, usr.ID, notification.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	types := make([]notification.Type, 0, len(res.Items))
	for _, ntf := range res.Items {
		types = append(types, ntf.Type)
	}
	assert.ElementsMatch(t, []notification.Type{notification.TypeCommentAdded, notification.TypeQuestionPinned}, types)

	// question_answered still mails, comment_added now mails too, question_pinned does not by default
	subjects := make([]string, 0, 2)
	for _, msg := range s.Outbox.Sent() {
		subjects = append(subjects, msg.Subject)
	}
	assert.ElementsMatch(t, []string{"New answer to your question", "New comment"}, subjects)
}

func TestEmit_VotesExpire(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	notification.NowFunc = func() time.Time { return now }
	defer func() { notification.NowFunc = time.Now }()

	s := testutil.NewStack(t)
	usr := testutil.CreateStudent(t, s.UserRepo, "jane_doe")
	ctx := context.Background()

	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeQuestionVoted, RecipientID: usr.ID, ActorID: "a", Data: map[string]interface{}{"direction": "up"}})
	s.Notifications.Emit(ctx, notification.Event{Type: notification.TypeAnswerAccepted, RecipientID: usr.ID, ActorID: "a"})
	s.Notifications.Wait()

	res, err := s.Notifications.List(ctx, usr.ID, notification.QueryFilter{Type: notification.TypeQuestionVoted}, core.Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	if assert.NotNil(t, res.Items[0].ExpiresAt) {
		assert.Equal(t, now.Add(s.Conf.Notification.VoteTTL), *res.Items[0].ExpiresAt)
	}

	now = now.Add(s.Conf.Notification.VoteTTL)
	res, err = s.Notifications.List(ctx, usr.ID, notification.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1, "expired notifications are hidden")
	assert.Equal(t, notification.TypeAnswerAccepted, res.Items[0].Type)

	n, err := s.Notifications.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecipientOnlyOperations(t *testing.T) {
	s := testutil.NewStack(t)
	usr := testutil.CreateStudent(t, s.UserRepo, "jane_doe")
	other := testutil.CreateStudent(t, s.UserRepo, "john_doe")
	ctx := context.Background()

	for _, typ := range []notification.Type{notification.TypeCommentAdded, notification.TypeCommentAdded, notification.TypeQuestionPinned} {
		s.Notifications.Emit(ctx, notification.Event{Type: typ, RecipientID: usr.ID, ActorID: other.ID})
	}
	s.Notifications.Wait()

	res, err := s.Notifications.List(ctx, usr.ID, notification.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	id := res.Items[0].ID

	_, err = s.Notifications.MarkRead(ctx, other.ID, id)
	assert.ErrorIs(t, err, notification.ErrNotFound)
	assert.ErrorIs(t, s.Notifications.Delete(ctx, other.ID, id), notification.ErrNotFound)

	ntf, err := s.Notifications.MarkRead(ctx, usr.ID, id)
	require.NoError(t, err)
	assert.True(t, ntf.IsRead)
	assert.NotNil(t, ntf.ReadAt)

	res, err = s.Notifications.List(ctx, usr.ID, notification.QueryFilter{Unread: true}, core.Page{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.UnreadCount)

	stats, err := s.Notifications.Stats(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Unread)
	assert.Equal(t, 2, stats.ByType[notification.TypeCommentAdded])
	assert.Equal(t, 1, stats.ByType[notification.TypeQuestionPinned])

	n, err := s.Notifications.MarkAllRead(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Notifications.Delete(ctx, usr.ID, id))
	res, err = s.Notifications.List(ctx, usr.ID, notification.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 0, res.UnreadCount)

	res, err = s.Notifications.List(ctx, other.ID, notification.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestPreferences(t *testing.T) {
	s := testutil.NewStack(t)
	usr := testutil.CreateStudent(t, s.UserRepo, "jane_doe")
	ctx := context.Background()

	prefs, err := s.Notifications.GetPreferences(ctx, usr.ID)
	require.NoError(t, err)
	require.Len(t, prefs, len(notification.Types))
	for _, p := range prefs {
		assert.True(t, p.InApp, p.Type)
	}
	assert.True(t, prefs[0].Email, "question_answered mails by default")

	_, err = s.Notifications.UpdatePreferences(ctx, usr.ID, notification.UpdatePreferences{Preferences: []notification.PreferenceUpdate{
		{Type: "bogus", InApp: boolPtr(false)},
	}})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "preferences[0].type", ve.Fields[0].Field)

	prefs, err = s.Notifications.UpdatePreferences(ctx, usr.ID, notification.UpdatePreferences{Preferences: []notification.PreferenceUpdate{
		{Type: notification.TypeQuestionAnswered, Email: boolPtr(false)},
	}})
	require.NoError(t, err)
	assert.Equal(t, notification.Preference{UserID: usr.ID, Type: notification.TypeQuestionAnswered, InApp: true, Email: false}, prefs[0])
}
