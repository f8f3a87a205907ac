package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.New(conn, zap.NewNop()), mock
}

type fakeNotifier struct {
	mu            sync.Mutex
	confirmations []*models.Order
	statuses      []*models.Order
	activations   []string
	resets        []string
	activationErr error
	resetErr      error
}

func (f *fakeNotifier) OrderConfirmation(_ context.Context, _, _ string, order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, order)
}

func (f *fakeNotifier) OrderStatus(_ context.Context, _, _ string, order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, order)
}

func (f *fakeNotifier) SendActivation(_ context.Context, _, _, token string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, token)
	return f.activationErr
}

func (f *fakeNotifier) SendPasswordReset(_ context.Context, _, _, token string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, token)
	return f.resetErr
}

type fakePublisher struct {
	created []*models.Order
	changed []string
}

func (f *fakePublisher) OrderCreated(_ context.Context, order *models.Order) {
	f.created = append(f.created, order)
}

func (f *fakePublisher) OrderStatusChanged(_ context.Context, order *models.Order, from string) {
	f.changed = append(f.changed, from+"->"+order.Status)
}

func (f *fakePublisher) Close() error { return nil }

var productCols = []string{
	"id", "title", "description", "price", "category", "images", "seller_id",
	"stock", "rating", "num_reviews", "is_featured", "is_active", "created_at", "updated_at",
}

func productRows(products ...models.Product) *sqlmock.Rows {
	rows := sqlmock.NewRows(productCols)
	for _, p := range products {
		rows.AddRow(p.ID, p.Title, p.Description, p.Price, p.Category, []byte(`["a.jpg"]`), p.SellerID,
			p.Stock, p.Rating, p.NumReviews, p.IsFeatured, p.IsActive, testNow, testNow)
	}
	return rows
}

var orderCols = []string{
	"id", "user_id", "shipping_address", "shipping_city", "shipping_postal_code", "shipping_country",
	"payment_method", "payment_result_id", "payment_result_status", "payment_result_update_time", "payment_result_email",
	"total_price", "status", "is_paid", "paid_at", "is_delivered", "delivered_at", "created_at", "updated_at",
}

func orderRows(orders ...models.Order) *sqlmock.Rows {
	rows := sqlmock.NewRows(orderCols)
	for _, o := range orders {
		var payID any
		var paidAt any
		if o.IsPaid {
			payID = "pay-1"
			paidAt = testNow
		}
		rows.AddRow(o.ID, o.UserID, "1 Main St", "Springfield", "12345", "US",
			"credit_card", payID, nil, nil, nil,
			o.TotalPrice, o.Status, o.IsPaid, paidAt, false, nil, testNow, testNow)
	}
	return rows
}

var userCols = []string{
	"id", "first_name", "last_name", "email", "password_hash", "mobile_phone",
	"profile_picture", "role", "is_active", "created_at", "updated_at",
}

func userRows(users ...models.User) *sqlmock.Rows {
	rows := sqlmock.NewRows(userCols)
	for _, u := range users {
		rows.AddRow(u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, "555-0100",
			nil, u.Role, u.IsActive, testNow, testNow)
	}
	return rows
}

func orderItemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "order_id", "product_id", "title", "quantity", "price"})
}
