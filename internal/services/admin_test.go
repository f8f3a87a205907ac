package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopfront/shopfront-api/internal/auth"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAdminService(t *testing.T) (*AdminService, sqlmock.Sqlmock) {
	t.Helper()
	database, mock := newMockDB(t)
	m := metrics.NewNoop()
	logger := zap.NewNop()
	tokens := auth.NewTokenManager("test-secret", time.Hour, time.Hour, time.Hour)
	users := NewUserService(database, m, logger, tokens, &fakeNotifier{})
	orders := NewOrderService(database, m, logger, NewProductService(database, m, logger), &fakePublisher{}, &fakeNotifier{})
	svc := NewAdminService(database, m, logger, users, orders)
	svc.now = func() time.Time { return testNow }
	return svc, mock
}

func TestDeleteUser(t *testing.T) {
	t.Run("self", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WithArgs(int64(99)).
			WillReturnRows(userRows(models.User{ID: 99, Role: models.RoleAdmin, IsActive: true}))

		err := svc.DeleteUser(context.Background(), admin, 99)
		require.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "Cannot delete your own account", err.Error())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WillReturnRows(sqlmock.NewRows(userCols))

		err := svc.DeleteUser(context.Background(), admin, 5)
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, "User not found", err.Error())
	})

	t.Run("other", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WillReturnRows(userRows(models.User{ID: 5, Role: models.RoleCustomer}))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = ?")).WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.DeleteUser(context.Background(), admin, 5))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("has orders", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WillReturnRows(userRows(models.User{ID: 5, Role: models.RoleCustomer}))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = ?")).WithArgs(int64(5)).
			WillReturnError(&mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"})

		err := svc.DeleteUser(context.Background(), admin, 5)
		require.ErrorIs(t, err, ErrPrecondition)
		assert.Equal(t, "User has orders or products and cannot be deleted. Deactivate the account instead.", err.Error())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateUser(t *testing.T) {
	existing := models.User{ID: 5, FirstName: "Bob", LastName: "Smith", Email: "bob@example.com", Role: models.RoleCustomer, IsActive: true}
	updateSQL := regexp.QuoteMeta("UPDATE users SET first_name = ?, last_name = ?, email = ?, mobile_phone = ?, role = ?, is_active = ? WHERE id = ?")

	t.Run("promotes and deactivates", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WillReturnRows(userRows(existing))
		mock.ExpectExec(updateSQL).
			WithArgs("Bob", "Smith", "bob@example.com", "555-0100", models.RoleSeller, false, int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inactive := false
		user, err := svc.UpdateUser(context.Background(), 5, models.AdminUpdateUserRequest{Role: models.RoleSeller, IsActive: &inactive})
		require.NoError(t, err)
		assert.Equal(t, models.RoleSeller, user.Role)
		assert.False(t, user.IsActive)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid role", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WillReturnRows(userRows(existing))

		_, err := svc.UpdateUser(context.Background(), 5, models.AdminUpdateUserRequest{Role: "owner"})
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("email taken", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(selectByID).WillReturnRows(userRows(existing))
		mock.ExpectExec(updateSQL).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

		_, err := svc.UpdateUser(context.Background(), 5, models.AdminUpdateUserRequest{Email: "ada@example.com"})
		require.ErrorIs(t, err, ErrConflict)
	})
}

func TestAnalytics(t *testing.T) {
	svc, mock := newAdminService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT (SELECT COUNT(*) FROM users),")).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g"}).AddRow(10, 8, 25, 4, 120.5, 2, 7))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM orders GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(models.StatusPending, 3).
			AddRow(models.StatusDelivered, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders ORDER BY created_at DESC, id DESC LIMIT ?")).WithArgs(10).
		WillReturnRows(orderRows(models.Order{ID: 4, UserID: 1, Status: models.StatusPending}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id IN (?)")).WillReturnRows(orderItemRows())
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN products p ON p.id = oi.product_id")).WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "title", "price", "total_sold", "revenue"}).
			AddRow(int64(100), "Widget", 10.0, 6, 60.0))

	a, err := svc.Analytics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, a.Overview.TotalUsers)
	assert.Equal(t, 120.5, a.Overview.TotalRevenue)
	assert.Equal(t, map[string]int{
		models.StatusPending:    3,
		models.StatusProcessing: 0,
		models.StatusShipped:    0,
		models.StatusDelivered:  1,
		models.StatusCancelled:  0,
	}, a.OrderStats)
	require.Len(t, a.RecentOrders, 1)
	require.Len(t, a.TopProducts, 1)
	assert.Equal(t, 6, a.TopProducts[0].TotalSold)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesAnalytics(t *testing.T) {
	t.Run("defaults to month", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT DAYOFMONTH(created_at) AS bucket")).
			WithArgs(testNow.AddDate(0, -1, 0)).
			WillReturnRows(sqlmock.NewRows([]string{"bucket", "total", "count"}).
				AddRow(1, 50.0, 2).
				AddRow(15, 20.0, 1))

		sales, err := svc.SalesAnalytics(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "month", sales.Period)
		require.Len(t, sales.SalesData, 2)
		assert.Equal(t, 15, sales.SalesData[1].Bucket)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("week", func(t *testing.T) {
		svc, mock := newAdminService(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT DAYOFYEAR(created_at) AS bucket")).
			WithArgs(testNow.AddDate(0, 0, -7)).
			WillReturnRows(sqlmock.NewRows([]string{"bucket", "total", "count"}))

		sales, err := svc.SalesAnalytics(context.Background(), "week")
		require.NoError(t, err)
		assert.Empty(t, sales.SalesData)
		assert.NotNil(t, sales.SalesData)
	})

	t.Run("invalid", func(t *testing.T) {
		svc, _ := newAdminService(t)
		_, err := svc.SalesAnalytics(context.Background(), "decade")
		require.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "Invalid period: decade", err.Error())
	})
}
