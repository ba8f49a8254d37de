// Package fakeapi – demo data
//
// This file seeds two demo accounts and a handful of items. Seeding is
// idempotent.
package fakeapi

import (
	"context"
	"errors"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "lostfound"

var demoUsers = []domain.Registration{
	{Name: "Ana", Surname: "Pop", Email: "ana@campus.test", Password: DemoPassword},
	{Name: "Ben", Surname: "Ionescu", Email: "ben@campus.test", Password: DemoPassword},
}

var demoItems = []struct {
	owner int
	item  domain.NewItem
}{
	{0, domain.NewItem{Title: "Black leather wallet", Type: domain.ItemLost, Category: "personal", RoomLabel: "Library", FloorLabel: "Ground floor", Description: "Black leather wallet with student card"}},
	{1, domain.NewItem{Title: "Wallet found near library", Type: domain.ItemFound, Category: "personal", RoomLabel: "Library", FloorLabel: "Ground floor", Description: "Black wallet, leather, no cash"}},
	{1, domain.NewItem{Title: "Blue umbrella", Type: domain.ItemFound, Category: "personal", RoomLabel: "Hall B", FloorLabel: "1st floor"}},
	{0, domain.NewItem{Title: "Laptop charger", Type: domain.ItemLost, Category: "electronics", RoomLabel: "Lab 3", FloorLabel: "2nd floor", Description: "USB-C charger 65W"}},
}

// Seed creates demo accounts and items. Existing accounts are kept, so Seed
// can run on every start.
func Seed(ctx context.Context, st *store.Store) error {
	ids := make([]int64, len(demoUsers))
	fresh := false
	for i, r := range demoUsers {
		u, err := st.CreateUser(ctx, r)
		switch {
		case err == nil:
			fresh = true
		case errors.Is(err, store.ErrEmailTaken):
			if u, err = st.Authenticate(ctx, r.Email, r.Password); err != nil {
				return err
			}
		default:
			return err
		}
		ids[i] = u.ID
	}
	if !fresh {
		return nil
	}
	for _, d := range demoItems {
		if _, err := st.CreateItem(ctx, ids[d.owner], d.item); err != nil {
			return err
		}
	}
	return nil
}
