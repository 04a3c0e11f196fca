// Package inmemdb keeps the repositories in memory. It backs the service tests and the no-database dev mode.
package inmemdb

import (
	"context"
	"maps"
	"sync"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/core/qa"
	"github.com/trezcool/academia/core/user"
)

type table[K comparable, V any] struct {
	sync.RWMutex
	rows map[K]V
}

func newTable[K comparable, V any]() *table[K, V] {
	return &table[K, V]{rows: make(map[K]V)}
}

// snapshot returns a func putting the table back the way it is now.
func (t *table[K, V]) snapshot() func() {
	t.RLock()
	saved := maps.Clone(t.rows)
	t.RUnlock()
	return func() {
		t.Lock()
		t.rows = saved
		t.Unlock()
	}
}

type snapshotter interface {
	snapshot() func()
}

type (
	voteKey struct {
		voterID    string
		targetType qa.TargetType
		targetID   string
	}

	preferenceKey struct {
		userID string
		typ    notification.Type
	}
)

type DB struct {
	// txMu serializes transactions, standing in for row locks.
	txMu sync.Mutex

	user         *table[string, user.User]
	course       *table[string, course.Course]
	progress     *table[string, course.Progress]
	coupon       *table[string, coupon.Coupon]
	couponUsage  *table[string, coupon.Usage]
	enrollment   *table[string, enrollment.Enrollment]
	payment      *table[string, payment.Payment]
	question     *table[string, qa.Question]
	answer       *table[string, qa.Answer]
	comment      *table[string, qa.Comment]
	vote         *table[voteKey, qa.Vote]
	voteNotice   *table[voteKey, struct{}]
	tag          *table[string, qa.Tag] // by slug
	questionTag  *table[string, []string]
	notification *table[string, notification.Notification]
	preference   *table[preferenceKey, notification.Preference]
	cart         *table[string, cart.Cart]
	cartItem     *table[string, cart.Item]
}

func Open() *DB {
	return &DB{
		user:         newTable[string, user.User](),
		course:       newTable[string, course.Course](),
		progress:     newTable[string, course.Progress](),
		coupon:       newTable[string, coupon.Coupon](),
		couponUsage:  newTable[string, coupon.Usage](),
		enrollment:   newTable[string, enrollment.Enrollment](),
		payment:      newTable[string, payment.Payment](),
		question:     newTable[string, qa.Question](),
		answer:       newTable[string, qa.Answer](),
		comment:      newTable[string, qa.Comment](),
		vote:         newTable[voteKey, qa.Vote](),
		voteNotice:   newTable[voteKey, struct{}](),
		tag:          newTable[string, qa.Tag](),
		questionTag:  newTable[string, []string](),
		notification: newTable[string, notification.Notification](),
		preference:   newTable[preferenceKey, notification.Preference](),
		cart:         newTable[string, cart.Cart](),
		cartItem:     newTable[string, cart.Item](),
	}
}

func (db *DB) tables() []snapshotter {
	return []snapshotter{
		db.user, db.course, db.progress, db.coupon, db.couponUsage, db.enrollment, db.payment,
		db.question, db.answer, db.comment, db.vote, db.voteNotice, db.tag, db.questionTag, db.notification, db.preference,
		db.cart, db.cartItem,
	}
}

func (db *DB) snapshot() func() {
	tables := db.tables()
	restores := make([]func(), 0, len(tables))
	for _, t := range tables {
		restores = append(restores, t.snapshot())
	}
	return func() {
		for _, restore := range restores {
			restore()
		}
	}
}

var _ core.Transactor = (*DB)(nil) // interface compliance check

// WithinTx runs fn alone and undoes its writes when it fails. Repositories get a nil executor.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	restore := db.snapshot()
	if err := fn(ctx, nil); err != nil {
		restore()
		return err
	}
	return nil
}

func (db *DB) WithinSavepoint(ctx context.Context, _ core.DBExecutor, fn func(ctx context.Context) error) error {
	restore := db.snapshot()
	if err := fn(ctx); err != nil {
		restore()
		return err
	}
	return nil
}
