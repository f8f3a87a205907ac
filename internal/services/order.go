package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/events"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultPaymentMethod = "credit_card"

const orderColumns = `id, user_id, shipping_address, shipping_city, shipping_postal_code, shipping_country,
	payment_method, payment_result_id, payment_result_status, payment_result_update_time, payment_result_email,
	total_price, status, is_paid, paid_at, is_delivered, delivered_at, created_at, updated_at`

// statusRank orders the forward progression of an order.
var statusRank = map[string]int{
	models.StatusPending:    0,
	models.StatusProcessing: 1,
	models.StatusShipped:    2,
	models.StatusDelivered:  3,
}

// canTransition reports whether an order may move from one status to
// another: forward along pending, processing, shipped, delivered, or to
// cancelled from any status that is not final.
func canTransition(from, to string) bool {
	if from == models.StatusDelivered || from == models.StatusCancelled {
		return false
	}
	if to == models.StatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

func validStatus(status string) bool {
	_, ok := statusRank[status]
	return ok || status == models.StatusCancelled
}

// OrderService handles order-related operations
type OrderService struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	catalog  *ProductService
	events   events.Publisher
	notifier OrderNotifier
	now      func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics, logger *zap.Logger, catalog *ProductService, publisher events.Publisher, notifier OrderNotifier) *OrderService {
	return &OrderService{
		db:       db,
		metrics:  metrics,
		logger:   logger.Named("orders"),
		catalog:  catalog,
		events:   publisher,
		notifier: notifier,
		now:      time.Now,
	}
}

type checkoutLine struct {
	productID int64
	quantity  int
	price     float64
	title     string
	category  string
}

// CreateOrder turns the user's cart into a pending order.
//
// Stock for every line is locked, checked and decremented in the same
// transaction that writes the order and empties the cart, so a failure on
// any line leaves stock and cart untouched. Line prices are the snapshots
// taken when the items were added to the cart.
func (s *OrderService) CreateOrder(ctx context.Context, user *models.User, req models.CreateOrderRequest) (*models.Order, error) {
	addr := req.ShippingAddress
	if addr == nil || strings.TrimSpace(addr.Address) == "" || strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.PostalCode) == "" || strings.TrimSpace(addr.Country) == "" {
		return nil, validationf("Please provide complete shipping address")
	}
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = defaultPaymentMethod
	}

	order := &models.Order{
		UserID:          user.ID,
		ShippingAddress: *addr,
		PaymentMethod:   paymentMethod,
		Status:          models.StatusPending,
	}
	var lines []checkoutLine

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		cartQuery := "SELECT id FROM carts WHERE user_id = ? FOR UPDATE"
		var cartID int64
		err := tx.QueryRowContext(ctx, cartQuery, user.ID).Scan(&cartID)
		s.metrics.RecordDBQuery(ctx, "SELECT", "carts", cartQuery, start, err == nil || errors.Is(err, sql.ErrNoRows))
		if errors.Is(err, sql.ErrNoRows) {
			return preconditionf("Cart is empty")
		}
		if err != nil {
			return fmt.Errorf("failed to get cart: %w", err)
		}

		lines, err = s.cartLines(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return preconditionf("Cart is empty")
		}

		for i := range lines {
			if err := s.reserveStock(ctx, tx, &lines[i]); err != nil {
				return err
			}
		}

		total := lineTotal(lines,
			func(l checkoutLine) int { return l.quantity },
			func(l checkoutLine) float64 { return l.price },
		)
		order.TotalPrice = total.InexactFloat64()

		start = time.Now()
		orderQuery := `INSERT INTO orders (user_id, shipping_address, shipping_city, shipping_postal_code, shipping_country,
			payment_method, total_price, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		result, err := tx.ExecContext(ctx, orderQuery, user.ID, addr.Address, addr.City, addr.PostalCode, addr.Country,
			paymentMethod, order.TotalPrice, models.StatusPending)
		s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		order.ID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get order ID: %w", err)
		}

		itemQuery := "INSERT INTO order_items (order_id, product_id, title, quantity, price) VALUES (?, ?, ?, ?, ?)"
		for _, l := range lines {
			start = time.Now()
			result, err := tx.ExecContext(ctx, itemQuery, order.ID, l.productID, l.title, l.quantity, l.price)
			s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
			if err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			itemID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get order item ID: %w", err)
			}
			order.Items = append(order.Items, models.OrderItem{
				ID:        itemID,
				OrderID:   order.ID,
				ProductID: l.productID,
				Title:     l.title,
				Quantity:  l.quantity,
				Price:     l.price,
			})
		}

		start = time.Now()
		clearQuery := "DELETE FROM cart_items WHERE cart_id = ?"
		_, err = tx.ExecContext(ctx, clearQuery, cartID)
		s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", clearQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}

		start = time.Now()
		totalQuery := "UPDATE carts SET total_price = 0 WHERE id = ?"
		_, err = tx.ExecContext(ctx, totalQuery, cartID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", totalQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to reset cart total: %w", err)
		}
		return nil
	})
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			s.metrics.StockRejections.Add(ctx, 1, s.metrics.Attrs(attribute.Int64("product_id", stockErr.ProductID)))
			s.logger.Info("checkout rejected",
				zap.Int64("user_id", user.ID),
				zap.Int64("product_id", stockErr.ProductID),
				zap.Int("available", stockErr.Available),
				zap.Int("requested", stockErr.Requested),
			)
		}
		return nil, err
	}

	now := s.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	productIDs := make([]int64, len(lines))
	for i, l := range lines {
		productIDs[i] = l.productID
	}
	s.catalog.Invalidate(productIDs...)

	s.recordOrderMetrics(ctx, order, lines)
	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", user.ID),
		zap.Float64("total", order.TotalPrice),
		zap.Int("items", len(order.Items)),
	)

	s.events.OrderCreated(ctx, order)
	s.notifier.OrderConfirmation(ctx, user.Email, user.FirstName, order)

	return order, nil
}

func (s *OrderService) cartLines(ctx context.Context, tx *sql.Tx, cartID int64) ([]checkoutLine, error) {
	start := time.Now()
	query := "SELECT product_id, quantity, price FROM cart_items WHERE cart_id = ? ORDER BY id"
	rows, err := tx.QueryContext(ctx, query, cartID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	var lines []checkoutLine
	for rows.Next() {
		var l checkoutLine
		if err := rows.Scan(&l.productID, &l.quantity, &l.price); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cart items: %w", err)
	}
	return lines, nil
}

// reserveStock locks the product row and takes the line's quantity from its
// stock, filling in the product title and category.
func (s *OrderService) reserveStock(ctx context.Context, tx *sql.Tx, l *checkoutLine) error {
	start := time.Now()
	query := "SELECT title, category, stock FROM products WHERE id = ? FOR UPDATE"
	var stock int
	err := tx.QueryRowContext(ctx, query, l.productID).Scan(&l.title, &l.category, &stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Resource: "Product", ID: l.productID, Message: fmt.Sprintf("Product %d not found", l.productID)}
	}
	if err != nil {
		return fmt.Errorf("failed to lock product %d: %w", l.productID, err)
	}

	if stock < l.quantity {
		return &InsufficientStockError{ProductID: l.productID, Title: l.title, Available: stock, Requested: l.quantity}
	}

	start = time.Now()
	update := "UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?"
	result, err := tx.ExecContext(ctx, update, l.quantity, l.productID, l.quantity)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", update, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update stock for product %d: %w", l.productID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &InsufficientStockError{ProductID: l.productID, Title: l.title, Available: stock, Requested: l.quantity}
	}
	return nil
}

// recordOrderMetrics records order count and revenue per product category.
func (s *OrderService) recordOrderMetrics(ctx context.Context, order *models.Order, lines []checkoutLine) {
	revenue := make(map[string]decimal.Decimal)
	for _, l := range lines {
		revenue[l.category] = revenue[l.category].Add(decimal.NewFromFloat(l.price).Mul(decimal.NewFromInt(int64(l.quantity))))
	}

	for category, amount := range revenue {
		attrs := s.metrics.Attrs(
			attribute.String("order_status", order.Status),
			attribute.String("payment_method", order.PaymentMethod),
			attribute.String("product_category", category),
		)
		s.metrics.OrdersCreated.Add(ctx, 1, attrs)
		s.metrics.RevenueTotal.Add(ctx, amount.InexactFloat64(), attrs)
	}
}

// GetOrder returns an order visible to viewer: its owner or an admin
func (s *OrderService) GetOrder(ctx context.Context, viewer *models.User, orderID int64) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.db, orderID, false)
	if err != nil {
		return nil, err
	}
	if !canManage(viewer, order.UserID) {
		return nil, forbidden("Not authorized to view this order")
	}
	if err := s.attachItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListUserOrders returns all orders for a user, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	return s.listOrders(ctx, query, userID)
}

// ListAllOrders returns every order, newest first
func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders ORDER BY created_at DESC, id DESC"
	return s.listOrders(ctx, query)
}

// RecentOrders returns the latest orders across all users
func (s *OrderService) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders ORDER BY created_at DESC, id DESC LIMIT ?"
	return s.listOrders(ctx, query, limit)
}

// UpdateOrderStatus moves an order to a new status. Moving to delivered
// records the delivery time. The owner is emailed in the background.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	if status == "" {
		return nil, validationf("Status is required")
	}
	if !validStatus(status) {
		return nil, validationf("Invalid status")
	}

	var order *models.Order
	var from string
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		from = order.Status
		if from == status {
			return nil
		}
		if !canTransition(from, status) {
			return preconditionf("Cannot change order status from %s to %s", from, status)
		}

		order.Status = status
		if status == models.StatusDelivered {
			now := s.now()
			order.IsDelivered = true
			order.DeliveredAt = &now
		}

		start := time.Now()
		query := "UPDATE orders SET status = ?, is_delivered = ?, delivered_at = ? WHERE id = ?"
		_, err = tx.ExecContext(ctx, query, order.Status, order.IsDelivered, order.DeliveredAt, orderID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	if from == status {
		return order, nil
	}
	order.UpdatedAt = s.now()

	s.metrics.OrderStatusChanges.Add(ctx, 1, s.metrics.Attrs(
		attribute.String("from", from),
		attribute.String("to", status),
	))
	s.logger.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", from),
		zap.String("to", status),
	)
	s.events.OrderStatusChanged(ctx, order, from)
	s.notifyOwner(ctx, order)

	return order, nil
}

// MarkOrderPaid records a simulated payment. Paying an already paid order
// returns it unchanged; a cancelled order cannot be paid. A pending order
// moves to processing.
func (s *OrderService) MarkOrderPaid(ctx context.Context, viewer *models.User, orderID int64, payment models.PaymentResult) (*models.Order, error) {
	var order *models.Order
	var from string
	var paidNow bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if !canManage(viewer, order.UserID) {
			return forbidden("Not authorized to update this order")
		}
		from = order.Status
		if order.IsPaid {
			return nil
		}
		if order.Status == models.StatusCancelled {
			return preconditionf("Cannot pay for a cancelled order")
		}

		now := s.now()
		if payment.ID == "" {
			payment.ID = uuid.NewString()
		}
		if payment.Status == "" {
			payment.Status = "completed"
		}
		if payment.UpdateTime == "" {
			payment.UpdateTime = now.UTC().Format(time.RFC3339)
		}
		if payment.EmailAddress == "" {
			payment.EmailAddress = viewer.Email
		}

		order.IsPaid = true
		order.PaidAt = &now
		order.PaymentResult = &payment
		if order.Status == models.StatusPending {
			order.Status = models.StatusProcessing
		}

		start := time.Now()
		query := `UPDATE orders SET is_paid = TRUE, paid_at = ?, payment_result_id = ?, payment_result_status = ?,
			payment_result_update_time = ?, payment_result_email = ?, status = ? WHERE id = ?`
		_, err = tx.ExecContext(ctx, query, now, payment.ID, payment.Status, payment.UpdateTime, payment.EmailAddress, order.Status, orderID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		paidNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	if !paidNow {
		return order, nil
	}

	if order.Status != from {
		s.metrics.OrderStatusChanges.Add(ctx, 1, s.metrics.Attrs(
			attribute.String("from", from),
			attribute.String("to", order.Status),
		))
		s.events.OrderStatusChanged(ctx, order, from)
	}
	s.logger.Info("order paid", zap.Int64("order_id", orderID), zap.String("payment_id", order.PaymentResult.ID))
	return order, nil
}

// notifyOwner queues the status email. A failed owner lookup only skips the
// email.
func (s *OrderService) notifyOwner(ctx context.Context, order *models.Order) {
	start := time.Now()
	query := "SELECT email, first_name FROM users WHERE id = ?"
	var email, firstName string
	err := s.db.QueryRowContext(ctx, query, order.UserID).Scan(&email, &firstName)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		s.logger.Warn("skipping order status email", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	s.notifier.OrderStatus(ctx, email, firstName, order)
}

func (s *OrderService) loadOrder(ctx context.Context, q querier, orderID int64, forUpdate bool) (*models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (s *OrderService) listOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var ptrs []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}

	if err := s.attachItems(ctx, ptrs); err != nil {
		return nil, err
	}

	orders := make([]models.Order, len(ptrs))
	for i, o := range ptrs {
		orders[i] = *o
	}
	return orders, nil
}

// attachItems loads the items of all given orders with a single query.
func (s *OrderService) attachItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]any, len(orders))
	for i, o := range orders {
		o.Items = []models.OrderItem{}
		byID[o.ID] = o
		ids[i] = o.ID
	}

	start := time.Now()
	query := fmt.Sprintf("SELECT id, order_id, product_id, title, quantity, price FROM order_items WHERE order_id IN (%s) ORDER BY id", placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, ids...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Title, &it.Quantity, &it.Price); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var payID, payStatus, payTime, payEmail sql.NullString
	var paidAt, deliveredAt sql.NullTime
	if err := row.Scan(
		&o.ID, &o.UserID,
		&o.ShippingAddress.Address, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.PaymentMethod, &payID, &payStatus, &payTime, &payEmail,
		&o.TotalPrice, &o.Status, &o.IsPaid, &paidAt, &o.IsDelivered, &deliveredAt,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if payID.Valid {
		o.PaymentResult = &models.PaymentResult{
			ID:           payID.String,
			Status:       payStatus.String,
			UpdateTime:   payTime.String,
			EmailAddress: payEmail.String,
		}
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if deliveredAt.Valid {
		o.DeliveredAt = &deliveredAt.Time
	}
	return &o, nil
}
