package models

import "time"

// Roles
const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
)

// Order statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Categories lists the accepted product categories.
var Categories = []string{"electronics", "clothing", "books", "home", "sports", "toys", "other"}

// User represents a user account
type User struct {
	ID             int64     `json:"id" db:"id"`
	FirstName      string    `json:"firstName" db:"first_name"`
	LastName       string    `json:"lastName" db:"last_name"`
	Email          string    `json:"email" db:"email"`
	PasswordHash   string    `json:"-" db:"password_hash"`
	MobilePhone    string    `json:"mobilePhone" db:"mobile_phone"`
	ProfilePicture *string   `json:"profilePicture" db:"profile_picture"`
	Role           string    `json:"role" db:"role"`
	IsActive       bool      `json:"isActive" db:"is_active"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// FullName is used for review bylines and email greetings.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Product represents a product in the catalog
type Product struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Price       float64   `json:"price" db:"price"`
	Category    string    `json:"category" db:"category"`
	Images      []string  `json:"images" db:"images"`
	SellerID    int64     `json:"seller" db:"seller_id"`
	Stock       int       `json:"stock" db:"stock"`
	Rating      float64   `json:"rating" db:"rating"`
	NumReviews  int       `json:"numReviews" db:"num_reviews"`
	IsFeatured  bool      `json:"isFeatured" db:"is_featured"`
	IsActive    bool      `json:"isActive" db:"is_active"`
	Reviews     []Review  `json:"reviews,omitempty"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Review is a single user's rating of a product
type Review struct {
	ID        int64     `json:"id" db:"id"`
	ProductID int64     `json:"product" db:"product_id"`
	UserID    int64     `json:"user" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Rating    int       `json:"rating" db:"rating"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Cart represents a shopping cart
type Cart struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"user" db:"user_id"`
	Items      []CartItem `json:"items"`
	TotalPrice float64    `json:"totalPrice" db:"total_price"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// CartItem represents an item in a cart. Price is the product price when the
// line was added.
type CartItem struct {
	ID           int64   `json:"id" db:"id"`
	CartID       int64   `json:"-" db:"cart_id"`
	ProductID    int64   `json:"product" db:"product_id"`
	Quantity     int     `json:"quantity" db:"quantity"`
	Price        float64 `json:"price" db:"price"`
	ProductTitle string  `json:"title,omitempty"`
	ProductImage string  `json:"image,omitempty"`
}

// ShippingAddress is captured on the order at checkout
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// PaymentResult records the (simulated) payment provider response
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// Order represents an order
type Order struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"user" db:"user_id"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod" db:"payment_method"`
	PaymentResult   *PaymentResult  `json:"paymentResult,omitempty"`
	TotalPrice      float64         `json:"totalPrice" db:"total_price"`
	Status          string          `json:"status" db:"status"`
	IsPaid          bool            `json:"isPaid" db:"is_paid"`
	PaidAt          *time.Time      `json:"paidAt,omitempty" db:"paid_at"`
	IsDelivered     bool            `json:"isDelivered" db:"is_delivered"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty" db:"delivered_at"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// OrderItem is an immutable snapshot of a purchased line
type OrderItem struct {
	ID        int64   `json:"id" db:"id"`
	OrderID   int64   `json:"-" db:"order_id"`
	ProductID int64   `json:"product" db:"product_id"`
	Title     string  `json:"title" db:"title"`
	Quantity  int     `json:"quantity" db:"quantity"`
	Price     float64 `json:"price" db:"price"`
}

// RegisterRequest represents a sign-up request
type RegisterRequest struct {
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword string  `json:"confirmPassword"`
	MobilePhone     string  `json:"mobilePhone"`
	ProfilePicture  *string `json:"profilePicture"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    *User  `json:"user"`
}

// ResetPasswordRequest represents a new password submission
type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// UpdateProfileRequest represents self-service profile changes
type UpdateProfileRequest struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	MobilePhone    string `json:"mobilePhone"`
	ProfilePicture string `json:"profilePicture"`
	Password       string `json:"password"`
}

// AdminUpdateUserRequest represents admin changes to an account
type AdminUpdateUserRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	MobilePhone string `json:"mobilePhone"`
	Role        string `json:"role"`
	IsActive    *bool  `json:"isActive"`
}

// ProductFilter holds catalog query parameters
type ProductFilter struct {
	Search    string
	Category  string
	MinPrice  *float64
	MaxPrice  *float64
	MinRating *float64
	Featured  bool
	Page      int
	Limit     int
	Sort      string
}

// ProductPage is a page of catalog results
type ProductPage struct {
	Products []Product `json:"products"`
	Page     int       `json:"page"`
	Pages    int       `json:"pages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// ProductRequest represents product create/update input. Nil fields are left
// unchanged on update.
type ProductRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Category    *string  `json:"category"`
	Images      []string `json:"images"`
	Stock       *int     `json:"stock"`
}

// ReviewRequest represents a new review
type ReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ModerateRequest represents an admin moderation action
type ModerateRequest struct {
	Action     string `json:"action"`
	IsActive   *bool  `json:"isActive"`
	IsFeatured *bool  `json:"isFeatured"`
}

// AddToCartRequest represents a request to add item to cart
type AddToCartRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  *int  `json:"quantity"`
}

// UpdateCartItemRequest sets a line quantity
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	ShippingAddress *ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string           `json:"paymentMethod"`
}

// InventoryLevel reports current stock for a product
type InventoryLevel struct {
	ProductID int64 `json:"productId"`
	Stock     int   `json:"stock"`
}

// Overview is the admin dashboard summary
type Overview struct {
	TotalUsers    int     `json:"totalUsers"`
	ActiveUsers   int     `json:"activeUsers"`
	TotalProducts int     `json:"totalProducts"`
	TotalOrders   int     `json:"totalOrders"`
	TotalRevenue  float64 `json:"totalRevenue"`
	SellerCount   int     `json:"sellerCount"`
	CustomerCount int     `json:"customerCount"`
}

// TopProduct aggregates sales of one product
type TopProduct struct {
	ProductID int64   `json:"productId"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	TotalSold int     `json:"totalSold"`
	Revenue   float64 `json:"revenue"`
}

// Analytics is the admin dashboard payload
type Analytics struct {
	Overview     Overview       `json:"overview"`
	OrderStats   map[string]int `json:"orderStats"`
	RecentOrders []Order        `json:"recentOrders"`
	TopProducts  []TopProduct   `json:"topProducts"`
}

// SalesPoint is one bucket of the sales chart
type SalesPoint struct {
	Bucket     int     `json:"_id"`
	TotalSales float64 `json:"totalSales"`
	OrderCount int     `json:"orderCount"`
}

// SalesAnalytics groups paid orders over a period
type SalesAnalytics struct {
	Period    string       `json:"period"`
	SalesData []SalesPoint `json:"salesData"`
}
