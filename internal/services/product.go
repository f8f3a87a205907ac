package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	productCacheTTL     = 5 * time.Minute
	defaultProductLimit = 12
	maxProductLimit     = 100
	featuredLimit       = 10
)

const productColumns = `id, title, description, price, category, images, seller_id, stock, rating, num_reviews, is_featured, is_active, created_at, updated_at`

// productSorts maps the accepted sort keys to ORDER BY clauses.
var productSorts = map[string]string{
	"-createdAt": "created_at DESC",
	"createdAt":  "created_at ASC",
	"price":      "price ASC",
	"-price":     "price DESC",
	"rating":     "rating ASC",
	"-rating":    "rating DESC",
	"title":      "title ASC",
	"-title":     "title DESC",
}

// ProductCache holds cached products
type ProductCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
	ttl   time.Duration
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

func NewProductCache(ttl time.Duration) *ProductCache {
	return &ProductCache{
		items: make(map[int64]cachedProduct),
		ttl:   ttl,
	}
}

func (c *ProductCache) get(id int64, now time.Time) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.items[id]
	if !ok || !now.Before(cached.expires) {
		return models.Product{}, false
	}
	return cached.product, true
}

func (c *ProductCache) set(p models.Product, now time.Time) {
	c.mu.Lock()
	c.items[p.ID] = cachedProduct{product: p, expires: now.Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops the given products from the cache.
func (c *ProductCache) Invalidate(ids ...int64) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.items, id)
	}
	c.mu.Unlock()
}

// ProductService handles catalog operations
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	logger  *zap.Logger
	cache   *ProductCache
	now     func() time.Time
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics, logger *zap.Logger) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		logger:  logger.Named("products"),
		cache:   NewProductCache(productCacheTTL),
		now:     time.Now,
	}
}

// Invalidate drops cached copies of the given products.
func (s *ProductService) Invalidate(ids ...int64) {
	s.cache.Invalidate(ids...)
}

// ListProducts returns a page of active products matching the filter
func (s *ProductService) ListProducts(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = defaultProductLimit
	}
	if limit > maxProductLimit {
		limit = maxProductLimit
	}
	offset := (page - 1) * limit

	where, args := productWhere(f)

	start := time.Now()
	countQuery := "SELECT COUNT(*) FROM products WHERE " + where
	var total int
	err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", countQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	orderBy, ok := productSorts[f.Sort]
	if !ok {
		orderBy = productSorts["-createdAt"]
	}

	start = time.Now()
	query := fmt.Sprintf("SELECT %s FROM products WHERE %s ORDER BY %s, id DESC LIMIT ? OFFSET ?", productColumns, where, orderBy)
	products, err := s.queryProducts(ctx, query, append(args, limit, offset)...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, err
	}

	return &models.ProductPage{
		Products: products,
		Page:     page,
		Pages:    int(math.Ceil(float64(total) / float64(limit))),
		Total:    total,
		HasMore:  offset+len(products) < total,
	}, nil
}

func productWhere(f models.ProductFilter) (string, []any) {
	conds := []string{"is_active = TRUE"}
	var args []any

	if f.Search != "" {
		like := "%" + likeEscaper.Replace(f.Search) + "%"
		conds = append(conds, "(title LIKE ? OR description LIKE ?)")
		args = append(args, like, like)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.MinRating != nil {
		conds = append(conds, "rating >= ?")
		args = append(args, *f.MinRating)
	}
	if f.Featured {
		conds = append(conds, "is_featured = TRUE")
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GetProduct returns a product and its reviews, served from cache when fresh
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if cached, ok := s.cache.get(id, s.now()); ok {
		s.metrics.CacheHits.Add(ctx, 1, s.metrics.Attrs())
		s.recordView(ctx, &cached)
		return &cached, nil
	}
	s.metrics.CacheMisses.Add(ctx, 1, s.metrics.Attrs())

	p, err := s.loadProduct(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := "SELECT id, product_id, user_id, name, rating, comment, created_at FROM reviews WHERE product_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "SELECT", "reviews", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	p.Reviews = []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.UserID, &r.Name, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		p.Reviews = append(p.Reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reviews: %w", err)
	}

	s.cache.set(*p, s.now())
	s.recordView(ctx, p)
	return p, nil
}

func (s *ProductService) recordView(ctx context.Context, p *models.Product) {
	s.metrics.ProductsViewed.Add(ctx, 1, s.metrics.Attrs(
		attribute.Int64("product_id", p.ID),
		attribute.String("product_category", p.Category),
	))
}

// CreateProduct lists a new product for the seller
func (s *ProductService) CreateProduct(ctx context.Context, seller *models.User, req models.ProductRequest) (*models.Product, error) {
	if req.Title == nil || *req.Title == "" || req.Description == nil || *req.Description == "" ||
		req.Price == nil || req.Category == nil || *req.Category == "" {
		return nil, validationf("Please provide all required fields")
	}

	p := &models.Product{
		Title:       strings.TrimSpace(*req.Title),
		Description: *req.Description,
		Price:       *req.Price,
		Category:    *req.Category,
		Images:      req.Images,
		SellerID:    seller.ID,
		IsActive:    true,
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	images, err := json.Marshal(p.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to encode images: %w", err)
	}

	start := time.Now()
	query := "INSERT INTO products (title, description, price, category, images, seller_id, stock) VALUES (?, ?, ?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, p.Title, p.Description, p.Price, p.Category, string(images), p.SellerID, p.Stock)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	p.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get product ID: %w", err)
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt

	s.logger.Info("product created", zap.Int64("product_id", p.ID), zap.Int64("seller_id", p.SellerID))
	return p, nil
}

// UpdateProduct applies the non-nil fields of req. Only the owning seller or
// an admin may update a product.
func (s *ProductService) UpdateProduct(ctx context.Context, actor *models.User, id int64, req models.ProductRequest) (*models.Product, error) {
	p, err := s.loadProduct(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, p.SellerID) {
		return nil, forbidden("Not authorized to update this product")
	}

	if req.Title != nil && *req.Title != "" {
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil && *req.Description != "" {
		p.Description = *req.Description
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Category != nil && *req.Category != "" {
		p.Category = *req.Category
	}
	if req.Images != nil {
		p.Images = req.Images
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	images, err := json.Marshal(p.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to encode images: %w", err)
	}

	start := time.Now()
	query := "UPDATE products SET title = ?, description = ?, price = ?, category = ?, images = ?, stock = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, p.Title, p.Description, p.Price, p.Category, string(images), p.Stock, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	s.cache.Invalidate(id)

	p.UpdatedAt = s.now()
	return p, nil
}

// DeleteProduct removes a product owned by actor, or any product for admins
func (s *ProductService) DeleteProduct(ctx context.Context, actor *models.User, id int64) error {
	p, err := s.loadProduct(ctx, s.db, id, false)
	if err != nil {
		return err
	}
	if !canManage(actor, p.SellerID) {
		return forbidden("Not authorized to delete this product")
	}
	return s.deleteProduct(ctx, id)
}

func (s *ProductService) deleteProduct(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM products WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	s.cache.Invalidate(id)
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	return nil
}

// ListSellerProducts returns every product the seller listed, active or not
func (s *ProductService) ListSellerProducts(ctx context.Context, sellerID int64) ([]models.Product, error) {
	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE seller_id = ? ORDER BY created_at DESC"
	products, err := s.queryProducts(ctx, query, sellerID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	return products, err
}

// ListAllProducts returns the whole catalog for moderation
func (s *ProductService) ListAllProducts(ctx context.Context) ([]models.Product, error) {
	start := time.Now()
	query := "SELECT " + productColumns + " FROM products ORDER BY created_at DESC"
	products, err := s.queryProducts(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	return products, err
}

// FeaturedProducts returns the top rated featured products
func (s *ProductService) FeaturedProducts(ctx context.Context) ([]models.Product, error) {
	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE is_featured = TRUE AND is_active = TRUE ORDER BY rating DESC LIMIT ?"
	products, err := s.queryProducts(ctx, query, featuredLimit)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	return products, err
}

// ModerateProduct deletes a product or toggles its active/featured flags.
// It returns nil when the product was deleted.
func (s *ProductService) ModerateProduct(ctx context.Context, id int64, req models.ModerateRequest) (*models.Product, error) {
	p, err := s.loadProduct(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}

	if req.Action == "delete" {
		return nil, s.deleteProduct(ctx, id)
	}

	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.IsFeatured != nil {
		p.IsFeatured = *req.IsFeatured
	}

	start := time.Now()
	query := "UPDATE products SET is_active = ?, is_featured = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, p.IsActive, p.IsFeatured, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to moderate product: %w", err)
	}
	s.cache.Invalidate(id)

	s.logger.Info("product moderated",
		zap.Int64("product_id", id),
		zap.Bool("is_active", p.IsActive),
		zap.Bool("is_featured", p.IsFeatured),
	)
	return p, nil
}

// AddReview records the user's review and recomputes the product rating.
// A user may review a product once.
func (s *ProductService) AddReview(ctx context.Context, user *models.User, productID int64, req models.ReviewRequest) error {
	if req.Rating == 0 || strings.TrimSpace(req.Comment) == "" {
		return validationf("Please provide rating and comment")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return validationf("Rating must be between 1 and 5")
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		query := "SELECT id FROM products WHERE id = ? FOR UPDATE"
		var id int64
		err := tx.QueryRowContext(ctx, query, productID).Scan(&id)
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Product", productID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock product: %w", err)
		}

		start = time.Now()
		query = "SELECT COUNT(*) FROM reviews WHERE product_id = ? AND user_id = ?"
		var existing int
		err = tx.QueryRowContext(ctx, query, productID, user.ID).Scan(&existing)
		s.metrics.RecordDBQuery(ctx, "SELECT", "reviews", query, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to check reviews: %w", err)
		}
		if existing > 0 {
			return preconditionf("Product already reviewed")
		}

		start = time.Now()
		query = "INSERT INTO reviews (product_id, user_id, name, rating, comment) VALUES (?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, query, productID, user.ID, user.FullName(), req.Rating, req.Comment)
		s.metrics.RecordDBQuery(ctx, "INSERT", "reviews", query, start, err == nil)
		if isDuplicateEntry(err) {
			return preconditionf("Product already reviewed")
		}
		if err != nil {
			return fmt.Errorf("failed to add review: %w", err)
		}

		start = time.Now()
		query = `UPDATE products SET
			num_reviews = (SELECT COUNT(*) FROM reviews WHERE product_id = ?),
			rating = (SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE product_id = ?)
			WHERE id = ?`
		_, err = tx.ExecContext(ctx, query, productID, productID, productID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to update rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(productID)
	return nil
}

// GetProductInventory returns the stock level for a product
func (s *ProductService) GetProductInventory(ctx context.Context, productID int64) (*models.InventoryLevel, error) {
	start := time.Now()
	query := "SELECT stock FROM products WHERE id = ?"
	inv := models.InventoryLevel{ProductID: productID}
	err := s.db.QueryRowContext(ctx, query, productID).Scan(&inv.Stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Product", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}

	s.metrics.InventoryLevel.Record(ctx, int64(inv.Stock), s.metrics.Attrs(
		attribute.Int64("product_id", productID),
	))
	return &inv, nil
}

func (s *ProductService) loadProduct(ctx context.Context, q querier, id int64, forUpdate bool) (*models.Product, error) {
	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *ProductService) queryProducts(ctx context.Context, query string, args ...any) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	return products, nil
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var images []byte
	if err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Price, &p.Category, &images, &p.SellerID,
		&p.Stock, &p.Rating, &p.NumReviews, &p.IsFeatured, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("invalid images for product %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

func validateProduct(p *models.Product) error {
	if p.Price < 0 {
		return validationf("Price cannot be negative")
	}
	if p.Stock < 0 {
		return validationf("Stock cannot be negative")
	}
	if !slices.Contains(models.Categories, p.Category) {
		return validationf("Invalid category: %s", p.Category)
	}
	return nil
}
