package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
)

type cartRepository struct {
	carts *table[string, cart.Cart] // without items
	items *table[string, cart.Item]
}

var _ cart.Repository = (*cartRepository)(nil) // interface compliance check

func NewCartRepository(db *DB) cart.Repository {
	return &cartRepository{carts: db.cart, items: db.cartItem}
}

// ownedBy tells whether c is the active cart of owner; guest carts only match sessions.
func ownedBy(c cart.Cart, owner cart.Owner) bool {
	if c.Status != cart.StatusActive {
		return false
	}
	if owner.UserID != "" {
		return c.UserID == owner.UserID
	}
	return c.UserID == "" && c.SessionID == owner.SessionID
}

func (repo *cartRepository) CreateCart(_ context.Context, c cart.Cart, _ ...core.DBExecutor) (cart.Cart, error) {
	repo.carts.Lock()
	defer repo.carts.Unlock()

	owner := cart.Owner{UserID: c.UserID, SessionID: c.SessionID}
	for _, other := range repo.carts.rows {
		if ownedBy(other, owner) {
			return cart.Cart{}, cart.ErrExists
		}
	}
	c.ID = uuid.New().String()
	c.Items = nil
	repo.carts.rows[c.ID] = c
	c.Items = []cart.Item{}
	return c, nil
}

func (repo *cartRepository) GetActiveCart(_ context.Context, owner cart.Owner, _ bool, _ ...core.DBExecutor) (cart.Cart, error) {
	repo.carts.RLock()
	var (
		found cart.Cart
		ok    bool
	)
	for _, c := range repo.carts.rows {
		if ownedBy(c, owner) {
			found, ok = c, true
			break
		}
	}
	repo.carts.RUnlock()
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}

	repo.items.RLock()
	defer repo.items.RUnlock()

	found.Items = []cart.Item{}
	for _, it := range repo.items.rows {
		if it.CartID == found.ID {
			found.Items = append(found.Items, it)
		}
	}
	sort.SliceStable(found.Items, func(i, j int) bool { return found.Items[i].AddedAt.Before(found.Items[j].AddedAt) })
	return found, nil
}

func (repo *cartRepository) UpdateCart(_ context.Context, c cart.Cart, _ ...core.DBExecutor) (cart.Cart, error) {
	repo.carts.Lock()
	defer repo.carts.Unlock()

	if _, ok := repo.carts.rows[c.ID]; !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	if c.Status == cart.StatusActive {
		owner := cart.Owner{UserID: c.UserID, SessionID: c.SessionID}
		for id, other := range repo.carts.rows {
			if id != c.ID && ownedBy(other, owner) {
				return cart.Cart{}, cart.ErrExists
			}
		}
	}
	items := c.Items
	c.Items = nil
	repo.carts.rows[c.ID] = c
	c.Items = items
	return c, nil
}

func (repo *cartRepository) AddItem(_ context.Context, it cart.Item, _ ...core.DBExecutor) (cart.Item, error) {
	repo.items.Lock()
	defer repo.items.Unlock()

	for _, other := range repo.items.rows {
		if other.CartID == it.CartID && other.CourseID == it.CourseID {
			return cart.Item{}, cart.ErrItemExists
		}
	}
	it.ID = uuid.New().String()
	repo.items.rows[it.ID] = it
	return it, nil
}

func (repo *cartRepository) DeleteItem(_ context.Context, cartID, itemID string, _ ...core.DBExecutor) error {
	repo.items.Lock()
	defer repo.items.Unlock()

	if it, ok := repo.items.rows[itemID]; !ok || it.CartID != cartID {
		return cart.ErrItemNotFound
	}
	delete(repo.items.rows, itemID)
	return nil
}

func (repo *cartRepository) DeleteItems(_ context.Context, cartID string, _ ...core.DBExecutor) error {
	repo.items.Lock()
	defer repo.items.Unlock()

	for id, it := range repo.items.rows {
		if it.CartID == cartID {
			delete(repo.items.rows, id)
		}
	}
	return nil
}

func (repo *cartRepository) PurgeCarts(_ context.Context, now, staleBefore time.Time, _ ...core.DBExecutor) (int, error) {
	repo.carts.Lock()
	purged := make(map[string]bool)
	for id, c := range repo.carts.rows {
		if c.ExpiresAt.Before(now) || (c.Status != cart.StatusActive && c.UpdatedAt.Before(staleBefore)) {
			delete(repo.carts.rows, id)
			purged[id] = true
		}
	}
	repo.carts.Unlock()

	repo.items.Lock()
	defer repo.items.Unlock()
	for id, it := range repo.items.rows {
		if purged[it.CartID] {
			delete(repo.items.rows, id)
		}
	}
	return len(purged), nil
}
