package api

import (
	"net/http"

	"github.com/shopfront/shopfront-api/internal/models"
)

// AdminListUsers handles GET /api/admin/users
func (a *App) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.admin.ListUsers(r.Context())
	if err != nil {
		a.respondError(w, r, err, "Server error fetching users")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// AdminGetUser handles GET /api/admin/users/{id}
func (a *App) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.admin.GetUser(r.Context(), pathID(r, "id"))
	if err != nil {
		a.respondError(w, r, err, "Server error fetching user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// AdminUpdateUser handles PUT /api/admin/users/{id}
func (a *App) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req models.AdminUpdateUserRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.admin.UpdateUser(r.Context(), pathID(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err, "Server error updating user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "User updated successfully", "user": user})
}

// AdminDeleteUser handles DELETE /api/admin/users/{id}
func (a *App) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteUser(r.Context(), currentUser(r), pathID(r, "id")); err != nil {
		a.respondError(w, r, err, "Server error deleting user")
		return
	}
	respondMessage(w, http.StatusOK, "User deleted successfully")
}

// AdminListProducts handles GET /api/admin/products
func (a *App) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.products.ListAllProducts(r.Context())
	if err != nil {
		a.respondError(w, r, err, "Server error fetching products")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

// ModerateProduct handles PUT /api/admin/products/{id}/moderate
func (a *App) ModerateProduct(w http.ResponseWriter, r *http.Request) {
	var req models.ModerateRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	product, err := a.products.ModerateProduct(r.Context(), pathID(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err, "Server error moderating product")
		return
	}
	if product == nil {
		respondMessage(w, http.StatusOK, "Product deleted successfully")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Product moderated successfully", "product": product})
}

// Analytics handles GET /api/admin/analytics
func (a *App) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := a.admin.Analytics(r.Context())
	if err != nil {
		a.respondError(w, r, err, "Server error fetching analytics")
		return
	}
	respondJSON(w, http.StatusOK, analytics)
}

// SalesAnalytics handles GET /api/admin/analytics/sales?period=week|month|year
func (a *App) SalesAnalytics(w http.ResponseWriter, r *http.Request) {
	sales, err := a.admin.SalesAnalytics(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		a.respondError(w, r, err, "Server error fetching sales analytics")
		return
	}
	respondJSON(w, http.StatusOK, sales)
}
