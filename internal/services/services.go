package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/shopspring/decimal"
)

// querier is satisfied by *db.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// OrderNotifier sends order emails. Implementations must not block the caller
// on delivery.
type OrderNotifier interface {
	OrderConfirmation(ctx context.Context, to, firstName string, order *models.Order)
	OrderStatus(ctx context.Context, to, firstName string, order *models.Order)
}

// AccountNotifier sends account emails and reports delivery failures.
type AccountNotifier interface {
	SendActivation(ctx context.Context, to, firstName, token string, expiry time.Duration) error
	SendPasswordReset(ctx context.Context, to, firstName, token string, expiry time.Duration) error
}

// MySQL error 1062: ER_DUP_ENTRY
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// MySQL error 1451: ER_ROW_IS_REFERENCED_2
func isReferenced(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1451
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// lineTotal returns the exact sum of quantity*price over the lines, rounded
// to cents.
func lineTotal[T any](lines []T, qty func(T) int, price func(T) float64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(decimal.NewFromFloat(price(l)).Mul(decimal.NewFromInt(int64(qty(l)))))
	}
	return total.Round(2)
}

func canManage(actor *models.User, ownerID int64) bool {
	return actor != nil && (actor.ID == ownerID || actor.Role == models.RoleAdmin)
}
