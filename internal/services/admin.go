package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"go.uber.org/zap"
)

const (
	recentOrdersLimit = 10
	topProductsLimit  = 10
)

var roles = []string{models.RoleCustomer, models.RoleSeller, models.RoleAdmin}

// salesPeriods maps a period to its grouping expression and look-back window.
var salesPeriods = map[string]struct {
	bucket string
	since  func(time.Time) time.Time
}{
	"week":  {"DAYOFYEAR(created_at)", func(t time.Time) time.Time { return t.AddDate(0, 0, -7) }},
	"month": {"DAYOFMONTH(created_at)", func(t time.Time) time.Time { return t.AddDate(0, -1, 0) }},
	"year":  {"MONTH(created_at)", func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) }},
}

// AdminService handles user management and reporting
type AdminService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	logger  *zap.Logger
	users   *UserService
	orders  *OrderService
	now     func() time.Time
}

// NewAdminService creates a new admin service
func NewAdminService(db *db.DB, metrics *metrics.AppMetrics, logger *zap.Logger, users *UserService, orders *OrderService) *AdminService {
	return &AdminService{
		db:      db,
		metrics: metrics,
		logger:  logger.Named("admin"),
		users:   users,
		orders:  orders,
		now:     time.Now,
	}
}

// ListUsers returns every account
func (s *AdminService) ListUsers(ctx context.Context) ([]models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users ORDER BY created_at DESC, id DESC"
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetUser returns a single account
func (s *AdminService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetUser(ctx, id)
}

// UpdateUser applies the provided fields to an account
func (s *AdminService) UpdateUser(ctx context.Context, id int64, req models.AdminUpdateUserRequest) (*models.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.Email != "" {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if !emailPattern.MatchString(email) {
			return nil, validationf("Please provide a valid email")
		}
		user.Email = email
	}
	if req.MobilePhone != "" {
		user.MobilePhone = req.MobilePhone
	}
	if req.Role != "" {
		if !slices.Contains(roles, req.Role) {
			return nil, validationf("Invalid role: %s", req.Role)
		}
		user.Role = req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	start := time.Now()
	query := "UPDATE users SET first_name = ?, last_name = ?, email = ?, mobile_phone = ?, role = ?, is_active = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, user.FirstName, user.LastName, user.Email, user.MobilePhone, user.Role, user.IsActive, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if isDuplicateEntry(err) {
		return nil, &ConflictError{Message: "User already exists with this email"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	user.UpdatedAt = s.now()
	s.logger.Info("user updated", zap.Int64("user_id", id), zap.String("role", user.Role), zap.Bool("is_active", user.IsActive))
	return user, nil
}

// DeleteUser removes an account. Admins cannot delete themselves. Accounts
// that placed orders or own products are kept; deactivate them instead.
func (s *AdminService) DeleteUser(ctx context.Context, actor *models.User, id int64) error {
	if _, err := s.users.GetUser(ctx, id); err != nil {
		return err
	}
	if actor.ID == id {
		return validationf("Cannot delete your own account")
	}

	start := time.Now()
	query := "DELETE FROM users WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "users", query, start, err == nil || isReferenced(err))
	if isReferenced(err) {
		return preconditionf("User has orders or products and cannot be deleted. Deactivate the account instead.")
	}
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info("user deleted", zap.Int64("user_id", id), zap.Int64("by", actor.ID))
	return nil
}

// Analytics builds the dashboard: totals, orders by status, recent orders and
// best sellers
func (s *AdminService) Analytics(ctx context.Context) (*models.Analytics, error) {
	var a models.Analytics

	start := time.Now()
	query := `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM users WHERE is_active = TRUE),
		(SELECT COUNT(*) FROM products),
		(SELECT COUNT(*) FROM orders),
		(SELECT COALESCE(SUM(total_price), 0) FROM orders WHERE is_paid = TRUE),
		(SELECT COUNT(*) FROM users WHERE role = 'seller'),
		(SELECT COUNT(*) FROM users WHERE role = 'customer')`
	o := &a.Overview
	err := s.db.QueryRowContext(ctx, query).Scan(
		&o.TotalUsers, &o.ActiveUsers, &o.TotalProducts, &o.TotalOrders, &o.TotalRevenue, &o.SellerCount, &o.CustomerCount,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get overview: %w", err)
	}

	a.OrderStats, err = s.orderStats(ctx)
	if err != nil {
		return nil, err
	}

	a.RecentOrders, err = s.orders.RecentOrders(ctx, recentOrdersLimit)
	if err != nil {
		return nil, err
	}

	a.TopProducts, err = s.topProducts(ctx)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AdminService) orderStats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusShipped:    0,
		models.StatusDelivered:  0,
		models.StatusCancelled:  0,
	}

	start := time.Now()
	query := "SELECT status, COUNT(*) FROM orders GROUP BY status"
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan order stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *AdminService) topProducts(ctx context.Context) ([]models.TopProduct, error) {
	start := time.Now()
	query := `SELECT oi.product_id, COALESCE(p.title, MAX(oi.title)), COALESCE(p.price, 0),
		SUM(oi.quantity) AS total_sold, SUM(oi.quantity * oi.price) AS revenue
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		GROUP BY oi.product_id, p.title, p.price
		ORDER BY total_sold DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, topProductsLimit)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query top products: %w", err)
	}
	defer rows.Close()

	top := []models.TopProduct{}
	for rows.Next() {
		var t models.TopProduct
		if err := rows.Scan(&t.ProductID, &t.Title, &t.Price, &t.TotalSold, &t.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan top product: %w", err)
		}
		top = append(top, t)
	}
	return top, rows.Err()
}

// SalesAnalytics groups paid orders over the period: by day of year for a
// week, day of month for a month, month for a year
func (s *AdminService) SalesAnalytics(ctx context.Context, period string) (*models.SalesAnalytics, error) {
	if period == "" {
		period = "month"
	}
	p, ok := salesPeriods[period]
	if !ok {
		return nil, validationf("Invalid period: %s", period)
	}

	start := time.Now()
	query := fmt.Sprintf(`SELECT %s AS bucket, SUM(total_price), COUNT(*)
		FROM orders
		WHERE is_paid = TRUE AND created_at >= ?
		GROUP BY bucket
		ORDER BY bucket`, p.bucket)
	rows, err := s.db.QueryContext(ctx, query, p.since(s.now()))
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	out := &models.SalesAnalytics{Period: period, SalesData: []models.SalesPoint{}}
	for rows.Next() {
		var sp models.SalesPoint
		if err := rows.Scan(&sp.Bucket, &sp.TotalSales, &sp.OrderCount); err != nil {
			return nil, fmt.Errorf("failed to scan sales: %w", err)
		}
		out.SalesData = append(out.SalesData, sp)
	}
	return out, rows.Err()
}
