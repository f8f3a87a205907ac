package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService handles cart-related operations. Every mutation recomputes
// and persists the cart total from its lines.
type CartService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(db *db.DB, metrics *metrics.AppMetrics, logger *zap.Logger) *CartService {
	return &CartService{
		db:      db,
		metrics: metrics,
		logger:  logger.Named("cart"),
	}
}

// GetOrCreateCart gets or creates a cart for a user
func (s *CartService) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	start := time.Now()

	query := "SELECT id, user_id, total_price, created_at, updated_at FROM carts WHERE user_id = ?"
	var cart models.Cart
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID, &cart.UserID, &cart.TotalPrice, &cart.CreatedAt, &cart.UpdatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	// A concurrent request may have created the cart; LAST_INSERT_ID(id)
	// makes the insert report the existing row instead of failing.
	start = time.Now()
	insertQuery := "INSERT INTO carts (user_id, total_price) VALUES (?, 0) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)"
	result, err := s.db.ExecContext(ctx, insertQuery, userID)
	s.metrics.RecordDBQuery(ctx, "INSERT", "carts", insertQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get cart ID: %w", err)
	}

	now := time.Now()
	return &models.Cart{ID: id, UserID: userID, Items: []models.CartItem{}, CreatedAt: now, UpdatedAt: now}, nil
}

// GetCart returns the user's cart with its lines, creating an empty cart on
// first access
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart.Items, err = s.loadItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.TotalPrice = cartTotal(cart.Items)
	s.recordItemsCount(ctx, cart)
	return cart, nil
}

// AddToCart adds quantity of a product, merging with an existing line. New
// lines capture the product's current price.
func (s *CartService) AddToCart(ctx context.Context, userID int64, req models.AddToCartRequest) (*models.Cart, error) {
	if req.ProductID == 0 {
		return nil, validationf("Product ID is required")
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity < 1 {
		return nil, validationf("Quantity must be at least 1")
	}

	start := time.Now()
	productQuery := "SELECT title, price, stock FROM products WHERE id = ? AND is_active = TRUE"
	var title string
	var price float64
	var stock int
	err := s.db.QueryRowContext(ctx, productQuery, req.ProductID).Scan(&title, &price, &stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", productQuery, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Product", req.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify product: %w", err)
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	checkQuery := "SELECT id, quantity FROM cart_items WHERE cart_id = ? AND product_id = ?"
	var existingID int64
	var existingQty int
	err = s.db.QueryRowContext(ctx, checkQuery, cart.ID, req.ProductID).Scan(&existingID, &existingQty)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", checkQuery, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check cart item: %w", err)
	}
	exists := err == nil

	if stock < existingQty+quantity {
		return nil, &InsufficientStockError{ProductID: req.ProductID, Title: title, Available: stock, Requested: existingQty + quantity}
	}

	if exists {
		start = time.Now()
		updateQuery := "UPDATE cart_items SET quantity = quantity + ? WHERE id = ?"
		_, err = s.db.ExecContext(ctx, updateQuery, quantity, existingID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_items", updateQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to update cart item: %w", err)
		}
	} else {
		start = time.Now()
		// a concurrent add may have created the line since the check; merge
		// into it and keep its price snapshot
		insertQuery := "INSERT INTO cart_items (cart_id, product_id, quantity, price) VALUES (?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)"
		_, err = s.db.ExecContext(ctx, insertQuery, cart.ID, req.ProductID, quantity, price)
		s.metrics.RecordDBQuery(ctx, "INSERT", "cart_items", insertQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to add item to cart: %w", err)
		}
	}

	return s.refresh(ctx, cart)
}

// UpdateCartItem sets the quantity of a line after re-checking stock
func (s *CartService) UpdateCartItem(ctx context.Context, userID, itemID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, validationf("Valid quantity is required")
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := `SELECT ci.product_id, p.title, p.stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.id = ? AND ci.cart_id = ?`
	var productID int64
	var title string
	var stock int
	err = s.db.QueryRowContext(ctx, query, itemID, cart.ID).Scan(&productID, &title, &stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "CartItem", ID: itemID, Message: "Item not found in cart"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}

	if stock < quantity {
		return nil, &InsufficientStockError{ProductID: productID, Title: title, Available: stock, Requested: quantity}
	}

	start = time.Now()
	updateQuery := "UPDATE cart_items SET quantity = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, updateQuery, quantity, itemID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_items", updateQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.refresh(ctx, cart)
}

// RemoveFromCart removes a line from the cart. Unknown lines are ignored.
func (s *CartService) RemoveFromCart(ctx context.Context, userID, itemID int64) (*models.Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := "DELETE FROM cart_items WHERE id = ? AND cart_id = ?"
	_, err = s.db.ExecContext(ctx, query, itemID, cart.ID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to remove item from cart: %w", err)
	}

	return s.refresh(ctx, cart)
}

// ClearCart removes every line from the cart
func (s *CartService) ClearCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := "DELETE FROM cart_items WHERE cart_id = ?"
	_, err = s.db.ExecContext(ctx, query, cart.ID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	return s.refresh(ctx, cart)
}

// refresh reloads the lines, recomputes the total and persists it.
func (s *CartService) refresh(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	items, err := s.loadItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	total := cartTotal(items)

	start := time.Now()
	query := "UPDATE carts SET total_price = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, total, cart.ID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart total: %w", err)
	}

	cart.Items = items
	cart.TotalPrice = total
	cart.UpdatedAt = time.Now()
	s.recordItemsCount(ctx, cart)
	return cart, nil
}

func (s *CartService) loadItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	start := time.Now()
	query := `SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.price, p.title,
		COALESCE(JSON_UNQUOTE(JSON_EXTRACT(p.images, '$[0]')), '')
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = ?
		ORDER BY ci.id`
	rows, err := s.db.QueryContext(ctx, query, cartID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.Price, &it.ProductTitle, &it.ProductImage); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cart items: %w", err)
	}
	return items, nil
}

func (s *CartService) recordItemsCount(ctx context.Context, cart *models.Cart) {
	var count int64
	for _, it := range cart.Items {
		count += int64(it.Quantity)
	}
	s.metrics.CartItemsCount.Record(ctx, count, s.metrics.Attrs(
		attribute.Int64("user_id", cart.UserID),
	))
}

func cartTotal(items []models.CartItem) float64 {
	return lineTotal(items,
		func(it models.CartItem) int { return it.Quantity },
		func(it models.CartItem) float64 { return it.Price },
	).InexactFloat64()
}
