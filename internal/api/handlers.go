package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/logging"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/middleware"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/shopfront/shopfront-api/internal/services"
	"github.com/shopfront/shopfront-api/pkg/config"
	"go.uber.org/zap"
)

// App holds application dependencies
type App struct {
	config   *config.Config
	db       *db.DB
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	products *services.ProductService
	carts    *services.CartService
	orders   *services.OrderService
	users    *services.UserService
	admin    *services.AdminService
	limiter  *middleware.RateLimiter
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	logger *zap.Logger,
	ps *services.ProductService,
	cs *services.CartService,
	os *services.OrderService,
	us *services.UserService,
	as *services.AdminService,
) *App {
	return &App{
		config:   cfg,
		db:       database,
		metrics:  m,
		logger:   logger.Named("http"),
		products: ps,
		carts:    cs,
		orders:   os,
		users:    us,
		admin:    as,
		limiter:  middleware.NewRateLimiter(cfg.AuthRateLimitPerSecond, cfg.AuthRateLimitBurst),
	}
}

// Handler returns the router wrapped in CORS handling.
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()
	a.SetupRoutes(r)
	return middleware.CORS(a.config.FrontendURL)(r)
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(a.metrics, a.logger))
	r.Use(middleware.Recover(a.logger))

	protect := middleware.Protect(a.users, a.logger)
	sellerOnly := middleware.RequireRole(models.RoleSeller, models.RoleAdmin)
	adminOnly := middleware.RequireRole(models.RoleAdmin)
	limited := a.limiter.Middleware()

	api := r.PathPrefix("/api").Subrouter()

	// Auth
	auth := api.PathPrefix("/auth").Subrouter()
	auth.Handle("/register", chain(a.Register, limited)).Methods("POST")
	auth.HandleFunc("/activate/{token}", a.Activate).Methods("GET")
	auth.Handle("/login", chain(a.Login, limited)).Methods("POST")
	auth.Handle("/forgot-password", chain(a.ForgotPassword, limited)).Methods("POST")
	auth.HandleFunc("/reset-password/{token}", a.ResetPassword).Methods("POST")
	auth.Handle("/profile", chain(a.GetProfile, protect)).Methods("GET")
	auth.Handle("/profile", chain(a.UpdateProfile, protect)).Methods("PUT")

	// Products; fixed paths before /{id}
	products := api.PathPrefix("/products").Subrouter()
	products.HandleFunc("", a.ListProducts).Methods("GET")
	products.HandleFunc("/featured/top", a.FeaturedProducts).Methods("GET")
	products.Handle("/seller/my-products", chain(a.SellerProducts, protect, sellerOnly)).Methods("GET")
	products.Handle("", chain(a.CreateProduct, protect, sellerOnly)).Methods("POST")
	products.Handle("/{id:[0-9]+}", chain(a.UpdateProduct, protect, sellerOnly)).Methods("PUT")
	products.Handle("/{id:[0-9]+}", chain(a.DeleteProduct, protect, sellerOnly)).Methods("DELETE")
	products.Handle("/{id:[0-9]+}/reviews", chain(a.AddReview, protect)).Methods("POST")
	products.HandleFunc("/{id:[0-9]+}/inventory", a.GetProductInventory).Methods("GET")
	products.HandleFunc("/{id:[0-9]+}", a.GetProduct).Methods("GET")

	// Cart
	cart := api.PathPrefix("/cart").Subrouter()
	cart.Use(protect)
	cart.HandleFunc("", a.GetCart).Methods("GET")
	cart.HandleFunc("", a.AddToCart).Methods("POST")
	cart.HandleFunc("", a.ClearCart).Methods("DELETE")
	cart.HandleFunc("/{itemId:[0-9]+}", a.UpdateCartItem).Methods("PUT")
	cart.HandleFunc("/{itemId:[0-9]+}", a.RemoveFromCart).Methods("DELETE")

	// Orders
	orders := api.PathPrefix("/orders").Subrouter()
	orders.Use(protect)
	orders.HandleFunc("", a.CreateOrder).Methods("POST")
	orders.HandleFunc("/my-orders", a.MyOrders).Methods("GET")
	orders.Handle("", chain(a.ListOrders, adminOnly)).Methods("GET")
	orders.HandleFunc("/{id:[0-9]+}", a.GetOrder).Methods("GET")
	orders.HandleFunc("/{id:[0-9]+}/pay", a.PayOrder).Methods("PUT")
	orders.Handle("/{id:[0-9]+}/status", chain(a.UpdateOrderStatus, adminOnly)).Methods("PUT")

	// Admin
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(protect, adminOnly)
	admin.HandleFunc("/users", a.AdminListUsers).Methods("GET")
	admin.HandleFunc("/users/{id:[0-9]+}", a.AdminGetUser).Methods("GET")
	admin.HandleFunc("/users/{id:[0-9]+}", a.AdminUpdateUser).Methods("PUT")
	admin.HandleFunc("/users/{id:[0-9]+}", a.AdminDeleteUser).Methods("DELETE")
	admin.HandleFunc("/products", a.AdminListProducts).Methods("GET")
	admin.HandleFunc("/products/{id:[0-9]+}/moderate", a.ModerateProduct).Methods("PUT")
	admin.HandleFunc("/analytics", a.Analytics).Methods("GET")
	admin.HandleFunc("/analytics/sales", a.SalesAnalytics).Methods("GET")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// chain applies mw to h, the first middleware outermost.
func chain(h http.HandlerFunc, mw ...mux.MiddlewareFunc) http.Handler {
	var handler http.Handler = h
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// HealthHandler reports whether the database is reachable
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		a.log(r).Warn("health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *App) log(r *http.Request) *zap.Logger {
	return logging.FromContext(r.Context(), a.logger)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondError maps service errors to status codes. Unclassified errors are
// logged and answered with fallback.
func (a *App) respondError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrPrecondition),
		errors.Is(err, services.ErrConflict):
		respondMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		respondMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrForbidden):
		respondMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		respondMessage(w, http.StatusNotFound, err.Error())
	default:
		a.log(r).Error(fallback, zap.String("path", r.URL.Path), zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(r *http.Request, dst any) bool {
	return json.NewDecoder(r.Body).Decode(dst) == nil
}

func pathID(r *http.Request, name string) int64 {
	// routes constrain the variable to digits
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func currentUser(r *http.Request) *models.User {
	user, _ := middleware.UserFromContext(r.Context())
	return user
}
