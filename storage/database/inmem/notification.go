package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

type notificationRepository struct {
	db    *table[string, notification.Notification]
	prefs *table[preferenceKey, notification.Preference]
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification, prefs: db.preference}
}

func live(ntf notification.Notification, recipientID string, now time.Time) bool {
	return ntf.RecipientID == recipientID && (ntf.ExpiresAt == nil || ntf.ExpiresAt.After(now))
}

func (repo *notificationRepository) CreateNotification(_ context.Context, ntf notification.Notification, _ ...core.DBExecutor) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ntf.ID = ulid.Make().String()
	repo.db.rows[ntf.ID] = ntf
	return ntf, nil
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, recipientID string, filter notification.QueryFilter, page core.Page, now time.Time, _ ...core.DBExecutor) ([]notification.Notification, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ntfs := []notification.Notification{}
	for _, ntf := range repo.db.rows {
		if !live(ntf, recipientID, now) || (filter.Unread && ntf.IsRead) || (filter.Type != "" && ntf.Type != filter.Type) {
			continue
		}
		ntfs = append(ntfs, ntf)
	}
	sort.Slice(ntfs, func(i, j int) bool {
		if !ntfs[i].CreatedAt.Equal(ntfs[j].CreatedAt) {
			return ntfs[i].CreatedAt.After(ntfs[j].CreatedAt)
		}
		return ntfs[i].ID > ntfs[j].ID
	})
	return paginate(ntfs, page), len(ntfs), nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, recipientID string, now time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, ntf := range repo.db.rows {
		if live(ntf, recipientID, now) && !ntf.IsRead {
			n++
		}
	}
	return n, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, recipientID, id string, at time.Time, _ ...core.DBExecutor) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ntf, ok := repo.db.rows[id]
	if !ok || ntf.RecipientID != recipientID {
		return notification.Notification{}, notification.ErrNotFound
	}
	if ntf.ReadAt == nil {
		ntf.ReadAt = &at
	}
	ntf.IsRead = true
	ntf.UpdatedAt = at
	repo.db.rows[id] = ntf
	return ntf, nil
}

func (repo *notificationRepository) MarkAllRead(_ context.Context, recipientID string, at time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for id, ntf := range repo.db.rows {
		if ntf.RecipientID == recipientID && !ntf.IsRead {
			readAt := at
			ntf.IsRead, ntf.ReadAt, ntf.UpdatedAt = true, &readAt, at
			repo.db.rows[id] = ntf
			n++
		}
	}
	return n, nil
}

func (repo *notificationRepository) DeleteNotification(_ context.Context, recipientID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if ntf, ok := repo.db.rows[id]; !ok || ntf.RecipientID != recipientID {
		return notification.ErrNotFound
	}
	delete(repo.db.rows, id)
	return nil
}

func (repo *notificationRepository) GetPreferences(_ context.Context, userID string, _ ...core.DBExecutor) ([]notification.Preference, error) {
	repo.prefs.RLock()
	defer repo.prefs.RUnlock()

	prefs := []notification.Preference{}
	for k, p := range repo.prefs.rows {
		if k.userID == userID {
			prefs = append(prefs, p)
		}
	}
	return prefs, nil
}

func (repo *notificationRepository) UpsertPreference(_ context.Context, pref notification.Preference, _ ...core.DBExecutor) error {
	repo.prefs.Lock()
	defer repo.prefs.Unlock()

	repo.prefs.rows[preferenceKey{pref.UserID, pref.Type}] = pref
	return nil
}

func (repo *notificationRepository) Stats(_ context.Context, recipientID string, now time.Time, _ ...core.DBExecutor) (notification.Stats, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	stats := notification.Stats{ByType: map[notification.Type]int{}}
	for _, ntf := range repo.db.rows {
		if !live(ntf, recipientID, now) {
			continue
		}
		stats.Total++
		stats.ByType[ntf.Type]++
		if !ntf.IsRead {
			stats.Unread++
		}
	}
	return stats, nil
}

func (repo *notificationRepository) PurgeExpired(_ context.Context, now time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for id, ntf := range repo.db.rows {
		if ntf.ExpiresAt != nil && !ntf.ExpiresAt.After(now) {
			delete(repo.db.rows, id)
			n++
		}
	}
	return n, nil
}
