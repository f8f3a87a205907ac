package api

import (
	"net/http"
	"strconv"

	"github.com/shopfront/shopfront-api/internal/models"
)

// ListProducts handles GET /api/products
func (a *App) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ProductFilter{
		Search:    q.Get("search"),
		Category:  q.Get("category"),
		MinPrice:  queryFloat(q.Get("minPrice")),
		MaxPrice:  queryFloat(q.Get("maxPrice")),
		MinRating: queryFloat(q.Get("rating")),
		Featured:  q.Get("featured") == "true",
		Page:      queryInt(q.Get("page")),
		Limit:     queryInt(q.Get("limit")),
		Sort:      q.Get("sort"),
	}

	page, err := a.products.ListProducts(r.Context(), filter)
	if err != nil {
		a.respondError(w, r, err, "Server error fetching products")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func queryFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// GetProduct handles GET /api/products/{id}
func (a *App) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.products.GetProduct(r.Context(), pathID(r, "id"))
	if err != nil {
		a.respondError(w, r, err, "Server error fetching product")
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// GetProductInventory handles GET /api/products/{id}/inventory
func (a *App) GetProductInventory(w http.ResponseWriter, r *http.Request) {
	inventory, err := a.products.GetProductInventory(r.Context(), pathID(r, "id"))
	if err != nil {
		a.respondError(w, r, err, "Server error fetching inventory")
		return
	}
	respondJSON(w, http.StatusOK, inventory)
}

// FeaturedProducts handles GET /api/products/featured/top
func (a *App) FeaturedProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.products.FeaturedProducts(r.Context())
	if err != nil {
		a.respondError(w, r, err, "Server error fetching featured products")
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// SellerProducts handles GET /api/products/seller/my-products
func (a *App) SellerProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.products.ListSellerProducts(r.Context(), currentUser(r).ID)
	if err != nil {
		a.respondError(w, r, err, "Server error fetching seller products")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

// CreateProduct handles POST /api/products
func (a *App) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req models.ProductRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	product, err := a.products.CreateProduct(r.Context(), currentUser(r), req)
	if err != nil {
		a.respondError(w, r, err, "Server error creating product")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": "Product created successfully", "product": product})
}

// UpdateProduct handles PUT /api/products/{id}
func (a *App) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req models.ProductRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	product, err := a.products.UpdateProduct(r.Context(), currentUser(r), pathID(r, "id"), req)
	if err != nil {
		a.respondError(w, r, err, "Server error updating product")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Product updated successfully", "product": product})
}

// DeleteProduct handles DELETE /api/products/{id}
func (a *App) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.products.DeleteProduct(r.Context(), currentUser(r), pathID(r, "id")); err != nil {
		a.respondError(w, r, err, "Server error deleting product")
		return
	}
	respondMessage(w, http.StatusOK, "Product deleted successfully")
}

// AddReview handles POST /api/products/{id}/reviews
func (a *App) AddReview(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := a.products.AddReview(r.Context(), currentUser(r), pathID(r, "id"), req); err != nil {
		a.respondError(w, r, err, "Server error adding review")
		return
	}
	respondMessage(w, http.StatusCreated, "Review added successfully")
}
