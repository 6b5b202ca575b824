package repository

import (
	"context"
	"strings"

	"marketplace/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// LatestLimit bounds the unfiltered listing.
	LatestLimit = 20
	// SearchWindow is how many recent products a search scans.
	SearchWindow = 100
)

// ProductRepository defines the interface for product data operations
type ProductRepository interface {
	Create(ctx context.Context, p *models.Product) error
	List(ctx context.Context, category string) ([]*models.Product, error)
	Get(ctx context.Context, id string) (*models.Product, error)
	GetMany(ctx context.Context, ids []string) (map[string]*models.Product, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*models.Product, error)
	IncrementView(ctx context.Context, id string) error
	Search(ctx context.Context, term string) ([]*models.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

// List returns the latest products, or every product of one category
// newest first.
func (r *productRepository) List(ctx context.Context, category string) ([]*models.Product, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if category != "" && category != models.CategoryAll {
		q = q.Where("category = ?", category)
	} else {
		q = q.Limit(LatestLimit)
	}
	var products []*models.Product
	err := q.Find(&products).Error
	return products, err
}

func (r *productRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) GetMany(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	out := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []*models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (r *productRepository) ListBySeller(ctx context.Context, sellerID string) ([]*models.Product, error) {
	var products []*models.Product
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&products).Error
	return products, err
}

func (r *productRepository) IncrementView(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Update("views", gorm.Expr("views + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Product", id)
	}
	return nil
}

// Search scans the most recent products for a case-insensitive match in
// the title or description. A blank term matches everything scanned.
func (r *productRepository) Search(ctx context.Context, term string) ([]*models.Product, error) {
	var recent []*models.Product
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(SearchWindow).
		Find(&recent).Error
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return recent, nil
	}
	matches := make([]*models.Product, 0, len(recent))
	for _, p := range recent {
		if strings.Contains(strings.ToLower(p.Title), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}
