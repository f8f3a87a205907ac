package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	lockCart      = regexp.QuoteMeta("SELECT id FROM carts WHERE user_id = ? FOR UPDATE")
	selectLines   = regexp.QuoteMeta("SELECT product_id, quantity, price FROM cart_items WHERE cart_id = ?")
	lockProduct   = regexp.QuoteMeta("SELECT title, category, stock FROM products WHERE id = ? FOR UPDATE")
	decrementSQL  = regexp.QuoteMeta("UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?")
	insertOrder   = regexp.QuoteMeta("INSERT INTO orders (user_id,")
	insertItem    = regexp.QuoteMeta("INSERT INTO order_items (order_id, product_id, title, quantity, price)")
	clearLines    = regexp.QuoteMeta("DELETE FROM cart_items WHERE cart_id = ?")
	zeroCartTotal = regexp.QuoteMeta("UPDATE carts SET total_price = 0 WHERE id = ?")
	lockOrder     = regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")
	selectItems   = regexp.QuoteMeta("FROM order_items WHERE order_id IN (?)")
)

type orderFixture struct {
	svc       *OrderService
	mock      sqlmock.Sqlmock
	notifier  *fakeNotifier
	publisher *fakePublisher
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	database, mock := newMockDB(t)
	m := metrics.NewNoop()
	catalog := NewProductService(database, m, zap.NewNop())
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	svc := NewOrderService(database, m, zap.NewNop(), catalog, publisher, notifier)
	svc.now = func() time.Time { return testNow }
	return &orderFixture{svc: svc, mock: mock, notifier: notifier, publisher: publisher}
}

var (
	customer = &models.User{ID: 1, FirstName: "Ada", Email: "ada@example.com", Role: models.RoleCustomer, IsActive: true}
	admin    = &models.User{ID: 99, FirstName: "Root", Email: "root@example.com", Role: models.RoleAdmin, IsActive: true}
	address  = &models.ShippingAddress{Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
)

func TestCreateOrder_DecrementsStockAndEmptiesCart(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockCart).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectQuery(selectLines).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).AddRow(int64(100), 2, 10.0))
	f.mock.ExpectQuery(lockProduct).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"title", "category", "stock"}).AddRow("Widget", "home", 5))
	f.mock.ExpectExec(decrementSQL).WithArgs(2, int64(100), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(insertOrder).
		WithArgs(int64(1), "1 Main St", "Springfield", "12345", "US", "credit_card", 20.0, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(55, 1))
	f.mock.ExpectExec(insertItem).WithArgs(int64(55), int64(100), "Widget", 2, 10.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectExec(clearLines).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(zeroCartTotal).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	order, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
	require.NoError(t, err)

	assert.Equal(t, int64(55), order.ID)
	assert.Equal(t, 20.0, order.TotalPrice)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, "credit_card", order.PaymentMethod)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Widget", order.Items[0].Title)
	assert.Equal(t, 2, order.Items[0].Quantity)

	require.Len(t, f.notifier.confirmations, 1)
	require.Len(t, f.publisher.created, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateOrder_StockEqualToQuantityEmptiesStock(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockCart).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectQuery(selectLines).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).AddRow(int64(100), 3, 4.5))
	f.mock.ExpectQuery(lockProduct).
		WillReturnRows(sqlmock.NewRows([]string{"title", "category", "stock"}).AddRow("Widget", "home", 3))
	f.mock.ExpectExec(decrementSQL).WithArgs(3, int64(100), 3).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(insertOrder).WillReturnResult(sqlmock.NewResult(56, 1))
	f.mock.ExpectExec(insertItem).WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectExec(clearLines).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(zeroCartTotal).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	order, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address, PaymentMethod: "paypal"})
	require.NoError(t, err)
	assert.Equal(t, 13.5, order.TotalPrice)
	assert.Equal(t, "paypal", order.PaymentMethod)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockCart).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectQuery(selectLines).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).
			AddRow(int64(100), 2, 10.0).
			AddRow(int64(200), 5, 3.0))
	f.mock.ExpectQuery(lockProduct).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"title", "category", "stock"}).AddRow("Widget", "home", 5))
	f.mock.ExpectExec(decrementSQL).WithArgs(2, int64(100), 2).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(lockProduct).WithArgs(int64(200)).
		WillReturnRows(sqlmock.NewRows([]string{"title", "category", "stock"}).AddRow("Gadget", "toys", 2))
	f.mock.ExpectRollback()

	order, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
	require.Error(t, err)
	assert.Nil(t, order)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(200), stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, "Insufficient stock for Gadget. Available: 2", err.Error())

	assert.Empty(t, f.notifier.confirmations)
	assert.Empty(t, f.publisher.created)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateOrder_ConcurrentDecrementLosesRace(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockCart).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectQuery(selectLines).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).AddRow(int64(100), 1, 10.0))
	f.mock.ExpectQuery(lockProduct).
		WillReturnRows(sqlmock.NewRows([]string{"title", "category", "stock"}).AddRow("Widget", "home", 1))
	f.mock.ExpectExec(decrementSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	_, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateOrder_MissingProduct(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockCart).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectQuery(selectLines).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).AddRow(int64(100), 1, 10.0))
	f.mock.ExpectQuery(lockProduct).WillReturnRows(sqlmock.NewRows([]string{"title", "category", "stock"}))
	f.mock.ExpectRollback()

	_, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "100")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	t.Run("no lines", func(t *testing.T) {
		f := newOrderFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockCart).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		f.mock.ExpectQuery(selectLines).WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}))
		f.mock.ExpectRollback()

		_, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
		require.ErrorIs(t, err, ErrPrecondition)
		assert.Equal(t, "Cart is empty", err.Error())
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("no cart", func(t *testing.T) {
		f := newOrderFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockCart).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.mock.ExpectRollback()

		_, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
		require.ErrorIs(t, err, ErrPrecondition)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestCreateOrder_IncompleteAddress(t *testing.T) {
	cases := map[string]*models.ShippingAddress{
		"missing":     nil,
		"no city":     {Address: "1 Main St", PostalCode: "12345", Country: "US"},
		"blank field": {Address: "1 Main St", City: "Springfield", PostalCode: "  ", Country: "US"},
	}
	for name, addr := range cases {
		t.Run(name, func(t *testing.T) {
			f := newOrderFixture(t)
			_, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: addr})
			require.ErrorIs(t, err, ErrValidation)
			require.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestCreateOrder_DatabaseErrorIsNotClassified(t *testing.T) {
	f := newOrderFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockCart).WillReturnError(errors.New("connection reset"))
	f.mock.ExpectRollback()

	_, err := f.svc.CreateOrder(context.Background(), customer, models.CreateOrderRequest{ShippingAddress: address})
	require.Error(t, err)
	for _, class := range []error{ErrValidation, ErrNotFound, ErrPrecondition, ErrForbidden, ErrUnauthorized} {
		assert.NotErrorIs(t, err, class)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{models.StatusPending, models.StatusProcessing, true},
		{models.StatusPending, models.StatusDelivered, true},
		{models.StatusProcessing, models.StatusShipped, true},
		{models.StatusShipped, models.StatusDelivered, true},
		{models.StatusShipped, models.StatusCancelled, true},
		{models.StatusShipped, models.StatusPending, false},
		{models.StatusDelivered, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusProcessing, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, canTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestUpdateOrderStatus_DeliveredSetsDeliveryFields(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).WithArgs(int64(9)).
		WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, TotalPrice: 20, Status: models.StatusShipped}))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = ?, is_delivered = ?, delivered_at = ? WHERE id = ?")).
		WithArgs(models.StatusDelivered, true, testNow, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery(selectItems).WithArgs(int64(9)).
		WillReturnRows(orderItemRows().AddRow(int64(1), int64(9), int64(100), "Widget", 2, 10.0))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT email, first_name FROM users WHERE id = ?")).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "first_name"}).AddRow("ada@example.com", "Ada"))

	order, err := f.svc.UpdateOrderStatus(context.Background(), 9, models.StatusDelivered)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDelivered, order.Status)
	assert.True(t, order.IsDelivered)
	require.NotNil(t, order.DeliveredAt)
	assert.Equal(t, testNow, *order.DeliveredAt)
	require.Len(t, order.Items, 1)

	require.Len(t, f.notifier.statuses, 1)
	assert.Equal(t, []string{"shipped->delivered"}, f.publisher.changed)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus_RejectsBackwardTransition(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).
		WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, Status: models.StatusDelivered}))
	f.mock.ExpectRollback()

	_, err := f.svc.UpdateOrderStatus(context.Background(), 9, models.StatusProcessing)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Empty(t, f.notifier.statuses)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus_Validation(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.UpdateOrderStatus(context.Background(), 9, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateOrderStatus(context.Background(), 9, "completed")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Invalid status", err.Error())
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).WillReturnRows(sqlmock.NewRows(orderCols))
	f.mock.ExpectRollback()

	_, err := f.svc.UpdateOrderStatus(context.Background(), 9, models.StatusShipped)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Order not found", err.Error())
}

func TestMarkOrderPaid_MovesPendingToProcessing(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).
		WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, TotalPrice: 20, Status: models.StatusPending}))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET is_paid = TRUE")).
		WithArgs(testNow, sqlmock.AnyArg(), "completed", sqlmock.AnyArg(), "ada@example.com", models.StatusProcessing, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery(selectItems).WillReturnRows(orderItemRows())

	order, err := f.svc.MarkOrderPaid(context.Background(), customer, 9, models.PaymentResult{})
	require.NoError(t, err)

	assert.True(t, order.IsPaid)
	assert.Equal(t, models.StatusProcessing, order.Status)
	require.NotNil(t, order.PaymentResult)
	assert.NotEmpty(t, order.PaymentResult.ID)
	assert.Equal(t, "completed", order.PaymentResult.Status)
	assert.Equal(t, []string{"pending->processing"}, f.publisher.changed)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMarkOrderPaid_AlreadyPaidIsUnchanged(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).
		WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, Status: models.StatusShipped, IsPaid: true}))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery(selectItems).WillReturnRows(orderItemRows())

	order, err := f.svc.MarkOrderPaid(context.Background(), admin, 9, models.PaymentResult{ID: "other"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, order.Status)
	assert.Equal(t, "pay-1", order.PaymentResult.ID)
	assert.Empty(t, f.publisher.changed)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMarkOrderPaid_Forbidden(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).
		WillReturnRows(orderRows(models.Order{ID: 9, UserID: 2, Status: models.StatusPending}))
	f.mock.ExpectRollback()

	_, err := f.svc.MarkOrderPaid(context.Background(), customer, 9, models.PaymentResult{})
	require.ErrorIs(t, err, ErrForbidden)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMarkOrderPaid_CancelledOrder(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockOrder).
		WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, Status: models.StatusCancelled}))
	f.mock.ExpectRollback()

	_, err := f.svc.MarkOrderPaid(context.Background(), customer, 9, models.PaymentResult{})
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestGetOrder_OwnerAdminAndStranger(t *testing.T) {
	f := newOrderFixture(t)
	selectOrder := regexp.QuoteMeta("FROM orders WHERE id = ?")

	f.mock.ExpectQuery(selectOrder).WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, Status: models.StatusPending}))
	f.mock.ExpectQuery(selectItems).WillReturnRows(orderItemRows())
	_, err := f.svc.GetOrder(context.Background(), customer, 9)
	require.NoError(t, err)

	f.mock.ExpectQuery(selectOrder).WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, Status: models.StatusPending}))
	f.mock.ExpectQuery(selectItems).WillReturnRows(orderItemRows())
	_, err = f.svc.GetOrder(context.Background(), admin, 9)
	require.NoError(t, err)

	stranger := &models.User{ID: 5, Role: models.RoleCustomer}
	f.mock.ExpectQuery(selectOrder).WillReturnRows(orderRows(models.Order{ID: 9, UserID: 1, Status: models.StatusPending}))
	_, err = f.svc.GetOrder(context.Background(), stranger, 9)
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestListUserOrders_AttachesItemsInOneQuery(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE user_id = ? ORDER BY created_at DESC")).WithArgs(int64(1)).
		WillReturnRows(orderRows(
			models.Order{ID: 2, UserID: 1, Status: models.StatusPending},
			models.Order{ID: 1, UserID: 1, Status: models.StatusDelivered},
		))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id IN (?,?)")).WithArgs(int64(2), int64(1)).
		WillReturnRows(orderItemRows().
			AddRow(int64(10), int64(1), int64(100), "Widget", 1, 10.0).
			AddRow(int64(11), int64(2), int64(101), "Gadget", 3, 2.5))

	orders, err := f.svc.ListUserOrders(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "Gadget", orders[0].Items[0].Title)
	assert.Equal(t, "Widget", orders[1].Items[0].Title)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
