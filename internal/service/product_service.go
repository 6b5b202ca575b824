package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
	"marketplace/internal/storage"
	"marketplace/internal/validation"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ListCacheTTL is how long a category listing is served from Redis.
const ListCacheTTL = 30 * time.Second

// uploadConcurrency bounds parallel image uploads of one listing.
const uploadConcurrency = 4

// ProductService provides product listing business logic.
type ProductService struct {
	productRepo repository.ProductRepository
	profileRepo repository.ProfileRepository
	uploader    storage.Uploader
	views       ViewGuard
	rdb         *redis.Client
	log         *slog.Logger
	now         func() time.Time

	listGroup singleflight.Group
}

// NewProductService returns a new ProductService. rdb may be nil.
func NewProductService(
	productRepo repository.ProductRepository,
	profileRepo repository.ProfileRepository,
	uploader storage.Uploader,
	views ViewGuard,
	rdb *redis.Client,
	log *slog.Logger,
) *ProductService {
	if log == nil {
		log = slog.Default()
	}
	return &ProductService{
		productRepo: productRepo,
		profileRepo: profileRepo,
		uploader:    uploader,
		views:       views,
		rdb:         rdb,
		log:         log,
		now:         time.Now,
	}
}

// Browse lists products. A non-blank term searches, otherwise the category
// listing is returned.
func (s *ProductService) Browse(ctx context.Context, category, term string) ([]*models.Product, error) {
	if strings.TrimSpace(term) != "" {
		return s.productRepo.Search(ctx, term)
	}
	if category == "" {
		category = models.CategoryAll
	}
	if category != models.CategoryAll && !models.IsCategory(category) {
		return nil, models.NewValidationError("Unknown category.")
	}

	key := cache.ProductListKey(category)
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.listGroup.Do(key, func() (any, error) {
		ctx := shared
		var products []*models.Product
		err := cache.CacheAside(ctx, s.rdb, key, &products, ListCacheTTL, func() error {
			var err error
			products, err = s.productRepo.List(ctx, category)
			return err
		})
		return products, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Product), nil
}

// ProductDetail is a product with its seller's public name.
type ProductDetail struct {
	Product        *models.Product `json:"product"`
	SellerNickname string          `json:"seller_nickname"`
}

// Detail returns a product and counts the view once per viewer within the
// guard window. An empty viewer never counts.
func (s *ProductService) Detail(ctx context.Context, viewer, productID string) (*ProductDetail, error) {
	product, err := s.productRepo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, models.NewNotFoundError("Product", productID)
	}

	if viewer != "" && s.views != nil {
		first, err := s.views.FirstView(ctx, viewer, productID)
		if err != nil {
			s.log.WarnContext(ctx, "view guard unavailable", "product_id", productID, "err", err)
		}
		if first {
			if err := s.productRepo.IncrementView(ctx, productID); err != nil {
				s.log.WarnContext(ctx, "failed to count product view", "product_id", productID, "err", err)
			} else {
				product.Views++
				observability.ProductViews.Inc()
			}
		}
	}

	detail := &ProductDetail{Product: product, SellerNickname: UnknownPartner}
	seller, err := s.profileRepo.Get(ctx, product.SellerID)
	if err != nil {
		s.log.WarnContext(ctx, "failed to load seller", "seller_id", product.SellerID, "err", err)
	} else if seller != nil {
		detail.SellerNickname = seller.Nickname
	}
	return detail, nil
}

// ProductInput is a listing as submitted by a seller.
type ProductInput struct {
	Title       string
	Description string
	Price       string
	Category    string
	Images      []storage.File
}

// Create validates the listing, uploads its images concurrently keeping
// their order, and stores the product for the caller.
func (s *ProductService) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	uid, err := callerID(ctx, "list a product")
	if err != nil {
		return nil, err
	}
	form := validation.ProductForm{
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Category:    in.Category,
		ImageCount:  len(in.Images),
	}
	if err := validation.ValidateProductForm(form); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	urls, err := s.uploadAll(ctx, in.Images)
	if err != nil {
		return nil, err
	}

	product := &models.Product{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Price:       validation.ParsePrice(in.Price),
		Category:    in.Category,
		Images:      urls,
		SellerID:    uid,
		CreatedAt:   s.now().UnixMilli(),
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		s.discardUploads(ctx, urls)
		return nil, err
	}

	if err := cache.Invalidate(ctx, s.rdb,
		cache.ProductListKey(models.CategoryAll),
		cache.ProductListKey(product.Category),
	); err != nil {
		s.log.WarnContext(ctx, "failed to invalidate product lists", "err", err)
	}
	s.log.InfoContext(ctx, "product listed", "product_id", product.ID, "images", len(urls))
	return product, nil
}

func (s *ProductService) uploadAll(ctx context.Context, files []storage.File) (models.StringList, error) {
	urls := make(models.StringList, len(files))
	if len(files) == 0 {
		return urls, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			url, err := s.uploader.Upload(gctx, f)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discardUploads(ctx, urls)
		return nil, err
	}
	return urls, nil
}

func (s *ProductService) discardUploads(ctx context.Context, urls []string) {
	remover, ok := s.uploader.(storage.Remover)
	if !ok {
		return
	}
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := remover.Remove(ctx, url); err != nil {
			s.log.WarnContext(ctx, "failed to remove orphaned upload", "url", url, "err", err)
		}
	}
}

// MySales returns the caller's listings, newest first.
func (s *ProductService) MySales(ctx context.Context) ([]*models.Product, error) {
	uid, err := callerID(ctx, "see your listings")
	if err != nil {
		return nil, err
	}
	return s.productRepo.ListBySeller(ctx, uid)
}
