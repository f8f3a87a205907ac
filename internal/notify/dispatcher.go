package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopfront/shopfront-api/internal/logging"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const sendTimeout = 30 * time.Second

// Dispatcher renders and sends the application's emails.
//
// Account emails (activation, password reset) are sent synchronously and
// their errors returned. Order emails are sent in the background: failures
// are logged and counted but never reach the caller, because the order
// change they describe has already been committed.
type Dispatcher struct {
	mailer      Mailer
	frontendURL string
	logger      *zap.Logger
	metrics     *metrics.AppMetrics

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. frontendURL prefixes the links placed in
// account emails.
func NewDispatcher(mailer Mailer, frontendURL string, logger *zap.Logger, m *metrics.AppMetrics) *Dispatcher {
	return &Dispatcher{
		mailer:      mailer,
		frontendURL: frontendURL,
		logger:      logger,
		metrics:     m,
	}
}

type linkData struct {
	FirstName string
	URL       string
	Expiry    string
}

type orderData struct {
	FirstName string
	Order     *models.Order
}

// SendActivation emails the account activation link.
func (d *Dispatcher) SendActivation(ctx context.Context, to, firstName, token string, expiry time.Duration) error {
	html, err := render("activation", linkData{
		FirstName: firstName,
		URL:       d.frontendURL + "/activate/" + token,
		Expiry:    humanDuration(expiry),
	})
	if err != nil {
		return err
	}
	return d.send(ctx, "activation", Message{To: to, Subject: "Account Activation - Shopfront", HTML: html})
}

// SendPasswordReset emails the password reset link.
func (d *Dispatcher) SendPasswordReset(ctx context.Context, to, firstName, token string, expiry time.Duration) error {
	html, err := render("reset", linkData{
		FirstName: firstName,
		URL:       d.frontendURL + "/reset-password/" + token,
		Expiry:    humanDuration(expiry),
	})
	if err != nil {
		return err
	}
	return d.send(ctx, "password_reset", Message{To: to, Subject: "Password Reset - Shopfront", HTML: html})
}

// OrderConfirmation queues the confirmation email for a new order.
func (d *Dispatcher) OrderConfirmation(ctx context.Context, to, firstName string, order *models.Order) {
	d.async(ctx, "order_confirmation", to, "Order Confirmation - Shopfront", orderData{FirstName: firstName, Order: order})
}

// OrderStatus queues the status update email for an order.
func (d *Dispatcher) OrderStatus(ctx context.Context, to, firstName string, order *models.Order) {
	d.async(ctx, "order_status", to, "Order Status Update - Shopfront", orderData{FirstName: firstName, Order: order})
}

// Wait blocks until queued emails have been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) async(ctx context.Context, kind, to, subject string, data orderData) {
	// Copy the order so later mutations by the caller don't race the renderer.
	snapshot := *data.Order
	data.Order = &snapshot

	// Keep request-scoped values for logging, drop the request's cancellation.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		html, err := render(kind, data)
		if err == nil {
			err = d.send(sendCtx, kind, Message{To: to, Subject: subject, HTML: html})
		}
		if err != nil {
			logging.FromContext(ctx, d.logger).Warn("order notification failed",
				zap.String("kind", kind),
				zap.Int64("order_id", data.Order.ID),
				zap.Error(err),
			)
		}
	}()
}

func (d *Dispatcher) send(ctx context.Context, kind string, msg Message) error {
	attrs := d.metrics.Attrs(attribute.String("kind", kind))
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.metrics.NotificationsFailed.Add(ctx, 1, attrs)
		return err
	}
	d.metrics.NotificationsSent.Add(ctx, 1, attrs)
	logging.FromContext(ctx, d.logger).Debug("email sent", zap.String("kind", kind), zap.String("to", msg.To))
	return nil
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
