package seed

import (
	"context"
	"fmt"
	"log/slog"

	"marketplace/internal/models"

	"gorm.io/gorm"
)

// Counts selects how many random records Seed generates.
type Counts struct {
	Profiles int
	Products int
	Chats    int
}

// Result lists the records a seeding run created.
type Result struct {
	Profiles []*models.Profile
	Products []*models.Product
	Rooms    []*models.ChatRoom
}

// Seed generates random profiles, then products spread over those
// profiles, then chats between random buyers and sellers.
func (f *Factory) Seed(ctx context.Context, counts Counts, log *slog.Logger) (*Result, error) {
	res := &Result{}
	for i := 0; i < counts.Profiles; i++ {
		p, err := f.CreateProfile(ctx, f.RandomProfile())
		if err != nil {
			return res, err
		}
		res.Profiles = append(res.Profiles, p)
	}
	log.InfoContext(ctx, "profiles created", "count", len(res.Profiles))

	if len(res.Profiles) == 0 {
		return res, nil
	}
	for i := 0; i < counts.Products; i++ {
		seller := res.Profiles[f.faker.Number(0, len(res.Profiles)-1)]
		p, err := f.CreateProduct(ctx, seller, f.RandomProduct())
		if err != nil {
			return res, err
		}
		res.Products = append(res.Products, p)
	}
	log.InfoContext(ctx, "products created", "count", len(res.Products))

	if len(res.Products) == 0 || len(res.Profiles) < 2 {
		return res, nil
	}
	for i := 0; i < counts.Chats; i++ {
		product := res.Products[f.faker.Number(0, len(res.Products)-1)]
		buyer := f.pickBuyer(res.Profiles, product.SellerID)
		room, err := f.CreateChat(ctx, buyer, product, f.RandomChat())
		if err != nil {
			return res, err
		}
		res.Rooms = append(res.Rooms, room)
	}
	log.InfoContext(ctx, "chats created", "count", len(res.Rooms))
	return res, nil
}

func (f *Factory) pickBuyer(profiles []*models.Profile, sellerID string) *models.Profile {
	for {
		p := profiles[f.faker.Number(0, len(profiles)-1)]
		if p.UID != sellerID {
			return p
		}
	}
}

// Clean deletes every marketplace record, children first.
func Clean(ctx context.Context, db *gorm.DB) error {
	tables := []interface{}{
		&models.ChatMessage{},
		&models.ChatMember{},
		&models.ChatRoom{},
		&models.Product{},
		&models.Profile{},
		&models.Account{},
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, t := range tables {
			if err := all.Delete(t).Error; err != nil {
				return fmt.Errorf("clear %T: %w", t, err)
			}
		}
		return nil
	})
}
