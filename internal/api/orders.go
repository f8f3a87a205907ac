package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopfront/shopfront-api/internal/models"
)

// CreateOrder handles POST /api/orders
func (a *App) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := a.orders.CreateOrder(r.Context(), currentUser(r), req)
	if err != nil {
		a.respondError(w, r, err, "Server error creating order")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": "Order created successfully", "order": order})
}

// MyOrders handles GET /api/orders/my-orders
func (a *App) MyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.orders.ListUserOrders(r.Context(), currentUser(r).ID)
	if err != nil {
		a.respondError(w, r, err, "Server error fetching orders")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

// ListOrders handles GET /api/orders (admin)
func (a *App) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.orders.ListAllOrders(r.Context())
	if err != nil {
		a.respondError(w, r, err, "Server error fetching orders")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

// GetOrder handles GET /api/orders/{id}
func (a *App) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.GetOrder(r.Context(), currentUser(r), pathID(r, "id"))
	if err != nil {
		a.respondError(w, r, err, "Server error fetching order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// PayOrder handles PUT /api/orders/{id}/pay
func (a *App) PayOrder(w http.ResponseWriter, r *http.Request) {
	var payment models.PaymentResult
	// the body is optional
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil && !errors.Is(err, io.EOF) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := a.orders.MarkOrderPaid(r.Context(), currentUser(r), pathID(r, "id"), payment)
	if err != nil {
		a.respondError(w, r, err, "Server error updating order")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Order marked as paid", "order": order})
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status (admin)
func (a *App) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := a.orders.UpdateOrderStatus(r.Context(), pathID(r, "id"), req.Status)
	if err != nil {
		a.respondError(w, r, err, "Server error updating order status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Order status updated", "order": order})
}
