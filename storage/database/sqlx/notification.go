package sqlxrepos

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

type notificationRow struct {
	ID          string         `db:"id"`
	RecipientID string         `db:"recipient_id"`
	Type        string         `db:"type"`
	Title       string         `db:"title"`
	Message     string         `db:"message"`
	Data        types.JSONText `db:"data"`
	IsRead      bool           `db:"is_read"`
	ReadAt      null.Time      `db:"read_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	ExpiresAt   null.Time      `db:"expires_at"`
}

const notificationColumns = `id, recipient_id, type, title, message, data, is_read, read_at, created_at, updated_at, expires_at`

func (r notificationRow) notification() (notification.Notification, error) {
	ntf := notification.Notification{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Type:        notification.Type(r.Type),
		Title:       r.Title,
		Message:     r.Message,
		Data:        map[string]interface{}{},
		IsRead:      r.IsRead,
		ReadAt:      timePtr(r.ReadAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		ExpiresAt:   timePtr(r.ExpiresAt),
	}
	if len(r.Data) > 0 {
		if err := r.Data.Unmarshal(&ntf.Data); err != nil {
			return notification.Notification{}, errors.Wrap(err, "decoding notification data")
		}
	}
	return ntf, nil
}

// ULIDs sort by creation time, which keeps the listing order stable for equal timestamps.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

type notificationRepository struct {
	baseRepo
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) notification.Repository {
	return &notificationRepository{baseRepo{exec: exec}}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, ntf notification.Notification, exec ...core.DBExecutor) (notification.Notification, error) {
	ntf.ID = newULID(ntf.CreatedAt)
	data, err := json.Marshal(ntf.Data)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "encoding notification data")
	}
	_, err = repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO notification (`+notificationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ntf.ID, ntf.RecipientID, string(ntf.Type), ntf.Title, ntf.Message, types.JSONText(data),
		ntf.IsRead, nullTime(ntf.ReadAt), ntf.CreatedAt.UTC(), ntf.UpdatedAt.UTC(), nullTime(ntf.ExpiresAt))
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return ntf, nil
}

func (repo notificationRepository) scan(rows []notificationRow) ([]notification.Notification, error) {
	ntfs := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		ntf, err := r.notification()
		if err != nil {
			return nil, err
		}
		ntfs = append(ntfs, ntf)
	}
	return ntfs, nil
}

const liveNotification = `recipient_id = $1 AND (expires_at IS NULL OR expires_at > $2)`

func (repo notificationRepository) QueryNotifications(ctx context.Context, recipientID string, filter notification.QueryFilter, page core.Page, now time.Time, exec ...core.DBExecutor) ([]notification.Notification, int, error) {
	exe := repo.getExec(exec)
	where := ` WHERE ` + liveNotification + ` AND (NOT $3 OR NOT is_read) AND ($4::text = '' OR type = $4::text)`
	args := []interface{}{recipientID, now.UTC(), filter.Unread, string(filter.Type)}

	var total int
	if err := exe.GetContext(ctx, &total, `SELECT COUNT(*) FROM notification`+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting notifications")
	}

	var rows []notificationRow
	err := exe.SelectContext(ctx, &rows,
		`SELECT `+notificationColumns+` FROM notification`+where+` ORDER BY created_at DESC, id DESC LIMIT $5 OFFSET $6`,
		append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying notifications")
	}
	ntfs, err := repo.scan(rows)
	return ntfs, total, err
}

func (repo notificationRepository) CountUnread(ctx context.Context, recipientID string, now time.Time, exec ...core.DBExecutor) (int, error) {
	var n int
	err := repo.getExec(exec).GetContext(ctx, &n,
		`SELECT COUNT(*) FROM notification WHERE `+liveNotification+` AND NOT is_read`, recipientID, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return n, nil
}

func (repo notificationRepository) MarkRead(ctx context.Context, recipientID, id string, at time.Time, exec ...core.DBExecutor) (notification.Notification, error) {
	var row notificationRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`UPDATE notification SET is_read = TRUE, read_at = COALESCE(read_at, $3), updated_at = $3
		WHERE recipient_id = $1 AND id = $2
		RETURNING `+notificationColumns,
		recipientID, id, at.UTC())
	if err != nil {
		return notification.Notification{}, trapNoRowsErr(err, notification.ErrNotFound, "marking notification read")
	}
	return row.notification()
}

func (repo notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time, exec ...core.DBExecutor) (int, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE notification SET is_read = TRUE, read_at = $2, updated_at = $2 WHERE recipient_id = $1 AND NOT is_read`,
		recipientID, at.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (repo notificationRepository) DeleteNotification(ctx context.Context, recipientID, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`DELETE FROM notification WHERE recipient_id = $1 AND id = $2`, recipientID, id)
	if err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo notificationRepository) GetPreferences(ctx context.Context, userID string, exec ...core.DBExecutor) ([]notification.Preference, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		Type   string `db:"type"`
		InApp  bool   `db:"in_app"`
		Email  bool   `db:"email"`
	}
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT user_id, type, in_app, email FROM notification_preference WHERE user_id = $1`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying notification preferences")
	}
	prefs := make([]notification.Preference, 0, len(rows))
	for _, r := range rows {
		prefs = append(prefs, notification.Preference{UserID: r.UserID, Type: notification.Type(r.Type), InApp: r.InApp, Email: r.Email})
	}
	return prefs, nil
}

func (repo notificationRepository) UpsertPreference(ctx context.Context, pref notification.Preference, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx,
		`INSERT INTO notification_preference (user_id, type, in_app, email) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, type) DO UPDATE SET in_app = EXCLUDED.in_app, email = EXCLUDED.email`,
		pref.UserID, string(pref.Type), pref.InApp, pref.Email)
	return errors.Wrap(err, "saving notification preference")
}

func (repo notificationRepository) Stats(ctx context.Context, recipientID string, now time.Time, exec ...core.DBExecutor) (notification.Stats, error) {
	var rows []struct {
		Type   string `db:"type"`
		Total  int    `db:"total"`
		Unread int    `db:"unread"`
	}
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT type, COUNT(*) AS total, COUNT(*) FILTER (WHERE NOT is_read) AS unread
		FROM notification WHERE `+liveNotification+` GROUP BY type`,
		recipientID, now.UTC())
	if err != nil {
		return notification.Stats{}, errors.Wrap(err, "computing notification stats")
	}
	stats := notification.Stats{ByType: make(map[notification.Type]int, len(rows))}
	for _, r := range rows {
		stats.Total += r.Total
		stats.Unread += r.Unread
		stats.ByType[notification.Type(r.Type)] = r.Total
	}
	return stats, nil
}

func (repo notificationRepository) PurgeExpired(ctx context.Context, now time.Time, exec ...core.DBExecutor) (int, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`DELETE FROM notification WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging expired notifications")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
