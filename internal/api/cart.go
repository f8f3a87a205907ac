package api

import (
	"net/http"

	"github.com/shopfront/shopfront-api/internal/models"
)

// GetCart handles GET /api/cart
func (a *App) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.carts.GetCart(r.Context(), currentUser(r).ID)
	if err != nil {
		a.respondError(w, r, err, "Server error fetching cart")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// AddToCart handles POST /api/cart
func (a *App) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req models.AddToCartRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cart, err := a.carts.AddToCart(r.Context(), currentUser(r).ID, req)
	if err != nil {
		a.respondError(w, r, err, "Server error adding to cart")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Item added to cart", "cart": cart})
}

// UpdateCartItem handles PUT /api/cart/{itemId}
func (a *App) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateCartItemRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cart, err := a.carts.UpdateCartItem(r.Context(), currentUser(r).ID, pathID(r, "itemId"), req.Quantity)
	if err != nil {
		a.respondError(w, r, err, "Server error updating cart")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Cart updated", "cart": cart})
}

// RemoveFromCart handles DELETE /api/cart/{itemId}
func (a *App) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.carts.RemoveFromCart(r.Context(), currentUser(r).ID, pathID(r, "itemId"))
	if err != nil {
		a.respondError(w, r, err, "Server error removing from cart")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Item removed from cart", "cart": cart})
}

// ClearCart handles DELETE /api/cart
func (a *App) ClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.carts.ClearCart(r.Context(), currentUser(r).ID)
	if err != nil {
		a.respondError(w, r, err, "Server error clearing cart")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Cart cleared", "cart": cart})
}
