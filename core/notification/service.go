package notification

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

var NowFunc = time.Now // mockable

type (
	Repository interface {
		CreateNotification(ctx context.Context, ntf Notification, exec ...core.DBExecutor) (Notification, error)
		// QueryNotifications excludes notifications expired at `now` and returns the total count before paging.
		QueryNotifications(ctx context.Context, recipientID string, filter QueryFilter, page core.Page, now time.Time, exec ...core.DBExecutor) ([]Notification, int, error)
		CountUnread(ctx context.Context, recipientID string, now time.Time, exec ...core.DBExecutor) (int, error)
		MarkRead(ctx context.Context, recipientID, id string, at time.Time, exec ...core.DBExecutor) (Notification, error)
		MarkAllRead(ctx context.Context, recipientID string, at time.Time, exec ...core.DBExecutor) (int, error)
		DeleteNotification(ctx context.Context, recipientID, id string, exec ...core.DBExecutor) error
		GetPreferences(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Preference, error)
		UpsertPreference(ctx context.Context, pref Preference, exec ...core.DBExecutor) error
		Stats(ctx context.Context, recipientID string, now time.Time, exec ...core.DBExecutor) (Stats, error)
		PurgeExpired(ctx context.Context, now time.Time, exec ...core.DBExecutor) (int, error)
	}

	// Publisher forwards notifications to the event broker.
	Publisher interface {
		Publish(ctx context.Context, ntf Notification) error
	}

	// Emitter is what domain services use to raise events.
	Emitter interface {
		Emit(ctx context.Context, evt Event)
	}

	Service interface {
		Emitter
		List(ctx context.Context, recipientID string, filter QueryFilter, page core.Page) (ListResult, error)
		MarkRead(ctx context.Context, recipientID, id string) (Notification, error)
		MarkAllRead(ctx context.Context, recipientID string) (int, error)
		Delete(ctx context.Context, recipientID, id string) error
		GetPreferences(ctx context.Context, userID string) ([]Preference, error)
		UpdatePreferences(ctx context.Context, userID string, up UpdatePreferences) ([]Preference, error)
		Stats(ctx context.Context, recipientID string) (Stats, error)
		PurgeExpired(ctx context.Context) (int, error)
		// Wait blocks until external deliveries in flight are done.
		Wait()
	}

	Deps struct {
		Repo      Repository
		UserSvc   user.Service
		MailSvc   core.EmailService
		Publisher Publisher // optional
		Logger    core.Logger
	}

	service struct {
		Deps
		conf     *core.Config
		delivery sync.WaitGroup
	}
)

var _ Service = (*service)(nil)

func NewService(deps Deps, conf *core.Config) Service {
	return &service{Deps: deps, conf: conf}
}

func (svc *service) ttl(typ Type) time.Duration {
	switch typ {
	case TypeQuestionVoted, TypeAnswerVoted:
		return svc.conf.Notification.VoteTTL
	}
	return 0
}

func (svc *service) preference(ctx context.Context, userID string, typ Type) (Preference, error) {
	prefs, err := svc.Repo.GetPreferences(ctx, userID)
	if err != nil {
		return Preference{}, err
	}
	for _, p := range prefs {
		if p.Type == typ {
			return p, nil
		}
	}
	return DefaultPreference(userID, typ), nil
}

// Emit records the in-app notification of evt and hands it to the external channels.
// Failures are logged; the operation that raised evt is never affected.
func (svc *service) Emit(ctx context.Context, evt Event) {
	if evt.RecipientID == "" || evt.RecipientID == evt.ActorID || !evt.Type.Valid() {
		return
	}

	pref, err := svc.preference(ctx, evt.RecipientID, evt.Type)
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("notification.Emit(%s): loading preferences: %v", evt.Type, err), err)
		return
	}
	if !pref.InApp && !pref.Email {
		return
	}

	title, message, err := render(evt.Type, evt.Data)
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("notification.Emit(%s): rendering: %v", evt.Type, err), err)
		return
	}
	now := NowFunc().UTC()
	ntf := Notification{
		RecipientID: evt.RecipientID,
		Type:        evt.Type,
		Title:       title,
		Message:     message,
		Data:        evt.Data,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ntf.Data == nil {
		ntf.Data = map[string]interface{}{}
	}
	if ttl := svc.ttl(evt.Type); ttl > 0 {
		exp := now.Add(ttl)
		ntf.ExpiresAt = &exp
	}

	if pref.InApp {
		if ntf, err = svc.Repo.CreateNotification(ctx, ntf); err != nil {
			svc.Logger.Error(fmt.Sprintf("notification.Emit(%s): saving: %v", evt.Type, err), err)
			return
		}
	}
	svc.deliver(ntf, pref.Email)
}

// deliver runs the external channels in the background, detached from the request context.
func (svc *service) deliver(ntf Notification, email bool) {
	if !email && svc.Publisher == nil {
		return
	}

	svc.delivery.Add(1)
	go func() {
		defer svc.delivery.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var g errgroup.Group
		if email && svc.MailSvc != nil {
			g.Go(func() error { return svc.sendEmail(ctx, ntf) })
		}
		if svc.Publisher != nil {
			g.Go(func() error {
				return errors.Wrap(svc.Publisher.Publish(ctx, ntf), "publishing notification")
			})
		}
		if err := g.Wait(); err != nil {
			svc.Logger.Error(fmt.Sprintf("notification.deliver(%s): %v", ntf.Type, err), err)
		}
	}()
}

func (svc *service) sendEmail(ctx context.Context, ntf Notification) error {
	usr, err := svc.UserSvc.GetByID(ctx, ntf.RecipientID)
	if err != nil {
		return errors.Wrap(err, "loading recipient")
	}
	if usr.Email == "" {
		return nil
	}
	svc.MailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      ntf.Title,
		TemplateName: "notification",
		TemplateData: map[string]interface{}{
			"Title":   ntf.Title,
			"Message": ntf.Message,
			"Type":    string(ntf.Type),
		},
	})
	return nil
}

func (svc *service) Wait() {
	svc.delivery.Wait()
}

func (svc *service) List(ctx context.Context, recipientID string, filter QueryFilter, page core.Page) (ListResult, error) {
	page.Clean()
	now := NowFunc().UTC()
	items, total, err := svc.Repo.QueryNotifications(ctx, recipientID, filter, page, now)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "querying notifications")
	}
	unread, err := svc.Repo.CountUnread(ctx, recipientID, now)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "counting unread notifications")
	}
	if items == nil {
		items = []Notification{}
	}
	return ListResult{Items: items, Pagination: core.NewPagination(page, total), UnreadCount: unread}, nil
}

func (svc *service) MarkRead(ctx context.Context, recipientID, id string) (Notification, error) {
	return svc.Repo.MarkRead(ctx, recipientID, id, NowFunc().UTC())
}

func (svc *service) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	return svc.Repo.MarkAllRead(ctx, recipientID, NowFunc().UTC())
}

func (svc *service) Delete(ctx context.Context, recipientID, id string) error {
	return svc.Repo.DeleteNotification(ctx, recipientID, id)
}

// GetPreferences returns the preference of every type, defaults filled in.
func (svc *service) GetPreferences(ctx context.Context, userID string) ([]Preference, error) {
	saved, err := svc.Repo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "loading preferences")
	}
	byType := make(map[Type]Preference, len(saved))
	for _, p := range saved {
		byType[p.Type] = p
	}
	prefs := make([]Preference, 0, len(Types))
	for _, typ := range Types {
		if p, ok := byType[typ]; ok {
			prefs = append(prefs, p)
		} else {
			prefs = append(prefs, DefaultPreference(userID, typ))
		}
	}
	return prefs, nil
}

func (svc *service) UpdatePreferences(ctx context.Context, userID string, up UpdatePreferences) ([]Preference, error) {
	current, err := svc.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	byType := make(map[Type]Preference, len(current))
	for _, p := range current {
		byType[p.Type] = p
	}

	updated := make([]Preference, 0, len(up.Preferences))
	for i, pu := range up.Preferences {
		pref, ok := byType[pu.Type]
		if !ok {
			return nil, core.NewValidationError(nil, core.FieldError{
				Field: fmt.Sprintf("preferences[%d].type", i),
				Error: fmt.Sprintf("unknown notification type %q", pu.Type),
			})
		}
		if pu.InApp != nil {
			pref.InApp = *pu.InApp
		}
		if pu.Email != nil {
			pref.Email = *pu.Email
		}
		updated = append(updated, pref)
	}
	for _, pref := range updated {
		if err = svc.Repo.UpsertPreference(ctx, pref); err != nil {
			return nil, errors.Wrap(err, "saving preference")
		}
	}
	return svc.GetPreferences(ctx, userID)
}

func (svc *service) Stats(ctx context.Context, recipientID string) (Stats, error) {
	return svc.Repo.Stats(ctx, recipientID, NowFunc().UTC())
}

func (svc *service) PurgeExpired(ctx context.Context) (int, error) {
	return svc.Repo.PurgeExpired(ctx, NowFunc().UTC())
}
