package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopfront/shopfront-api/internal/auth"
	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	minPasswordLength = 6
	// bcrypt rejects longer input
	maxPasswordBytes = 72
)

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return validationf("Password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return validationf("Password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

const userColumns = `id, first_name, last_name, email, password_hash, mobile_phone, profile_picture, role, is_active, created_at, updated_at`

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// UserService handles accounts and authentication
type UserService struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	tokens   *auth.TokenManager
	notifier AccountNotifier
	now      func() time.Time
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics, logger *zap.Logger, tokens *auth.TokenManager, notifier AccountNotifier) *UserService {
	return &UserService{
		db:       db,
		metrics:  metrics,
		logger:   logger.Named("users"),
		tokens:   tokens,
		notifier: notifier,
		now:      time.Now,
	}
}

// Register creates an inactive customer account and emails an activation
// link. A failed email does not fail the registration.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if req.FirstName == "" || req.LastName == "" || email == "" || req.Password == "" ||
		req.ConfirmPassword == "" || req.MobilePhone == "" {
		return nil, validationf("Please provide all required fields")
	}
	if req.Password != req.ConfirmPassword {
		return nil, validationf("Passwords do not match")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	if !emailPattern.MatchString(email) {
		return nil, validationf("Please provide a valid email")
	}

	start := time.Now()
	existsQuery := "SELECT COUNT(*) FROM users WHERE email = ?"
	var existing int
	err := s.db.QueryRowContext(ctx, existsQuery, email).Scan(&existing)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", existsQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if existing > 0 {
		return nil, &ConflictError{Message: "User already exists with this email"}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.IssueActivation(email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          email,
		PasswordHash:   hash,
		MobilePhone:    req.MobilePhone,
		ProfilePicture: req.ProfilePicture,
		Role:           models.RoleCustomer,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	start = time.Now()
	query := `INSERT INTO users (first_name, last_name, email, password_hash, mobile_phone, profile_picture,
		activation_token, activation_token_expire) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query, user.FirstName, user.LastName, user.Email, hash, user.MobilePhone,
		user.ProfilePicture, token, now.Add(s.tokens.ActivationTTL()))
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if isDuplicateEntry(err) {
		return nil, &ConflictError{Message: "User already exists with this email"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID))

	if err := s.notifier.SendActivation(ctx, user.Email, user.FirstName, token, s.tokens.ActivationTTL()); err != nil {
		s.logger.Warn("failed to send activation email", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// Activate enables the account the activation token was issued for
func (s *UserService) Activate(ctx context.Context, token string) (*models.User, error) {
	invalid := validationf("Invalid or expired activation link")

	email, err := s.tokens.Parse(token, auth.PurposeActivation)
	if err != nil {
		return nil, invalid
	}

	start := time.Now()
	query := "SELECT " + userColumns + " FROM users WHERE email = ? AND activation_token = ? AND activation_token_expire > ?"
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email, token, s.now()))
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	start = time.Now()
	update := "UPDATE users SET is_active = TRUE, activation_token = NULL, activation_token_expire = NULL WHERE id = ?"
	_, err = s.db.ExecContext(ctx, update, user.ID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", update, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to activate user: %w", err)
	}

	user.IsActive = true
	s.logger.Info("user activated", zap.Int64("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues a bearer token. Inactive accounts
// cannot log in.
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, validationf("Please provide email and password")
	}

	user, err := s.getUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.recordLogin(ctx, "invalid_credentials")
		return nil, unauthorized("Invalid email or password")
	}
	if err != nil {
		return nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.recordLogin(ctx, "invalid_credentials")
		return nil, unauthorized("Invalid email or password")
	}
	if !user.IsActive {
		s.recordLogin(ctx, "inactive")
		return nil, unauthorized("Please activate your account. Check your email for activation link.")
	}

	token, err := s.tokens.IssueSession(user.ID)
	if err != nil {
		return nil, err
	}

	s.recordLogin(ctx, "success")
	return &models.LoginResponse{Message: "Login successful", Token: token, User: user}, nil
}

func (s *UserService) recordLogin(ctx context.Context, outcome string) {
	s.metrics.LoginAttempts.Add(ctx, 1, s.metrics.Attrs(attribute.String("outcome", outcome)))
}

// ForgotPassword emails a reset link. Unknown emails succeed silently. When
// the email cannot be sent the reset token is withdrawn and an error
// returned.
func (s *UserService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return validationf("Please provide email address")
	}

	user, err := s.getUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := s.tokens.IssueReset(user.ID)
	if err != nil {
		return err
	}
	if err := s.setResetToken(ctx, user.ID, &token, s.now().Add(s.tokens.ResetTTL())); err != nil {
		return err
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, user.FirstName, token, s.tokens.ResetTTL()); err != nil {
		if clearErr := s.setResetToken(ctx, user.ID, nil, time.Time{}); clearErr != nil {
			s.logger.Error("failed to clear reset token", zap.Int64("user_id", user.ID), zap.Error(clearErr))
		}
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

func (s *UserService) setResetToken(ctx context.Context, userID int64, token *string, expires time.Time) error {
	var expire sql.NullTime
	if token != nil {
		expire = sql.NullTime{Time: expires, Valid: true}
	}

	start := time.Now()
	query := "UPDATE users SET reset_password_token = ?, reset_password_expire = ? WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, token, expire, userID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using a reset token
func (s *UserService) ResetPassword(ctx context.Context, token string, req models.ResetPasswordRequest) error {
	if req.Password == "" || req.ConfirmPassword == "" {
		return validationf("Please provide password and confirmation")
	}
	if req.Password != req.ConfirmPassword {
		return validationf("Passwords do not match")
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}

	invalid := validationf("Invalid or expired reset token")
	userID, err := s.tokens.ParseUserID(token, auth.PurposeReset)
	if err != nil {
		return invalid
	}

	start := time.Now()
	query := "SELECT id FROM users WHERE id = ? AND reset_password_token = ? AND reset_password_expire > ?"
	var id int64
	err = s.db.QueryRowContext(ctx, query, userID, token, s.now()).Scan(&id)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return invalid
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	start = time.Now()
	update := "UPDATE users SET password_hash = ?, reset_password_token = NULL, reset_password_expire = NULL WHERE id = ?"
	_, err = s.db.ExecContext(ctx, update, hash, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", update, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	s.logger.Info("password reset", zap.Int64("user_id", id))
	return nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("User", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Authenticate resolves a bearer token to an active user.
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	id, err := s.tokens.ParseUserID(token, auth.PurposeSession)
	if err != nil {
		return nil, unauthorized("Not authorized, token failed")
	}

	user, err := s.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, unauthorized("User not found")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, unauthorized("Account not activated. Please check your email.")
	}
	return user, nil
}

// UpdateProfile applies the non-empty fields of req to the user's own account
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, req models.UpdateProfileRequest) (*models.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.MobilePhone != "" {
		user.MobilePhone = req.MobilePhone
	}
	if req.ProfilePicture != "" {
		user.ProfilePicture = &req.ProfilePicture
	}
	if req.Password != "" {
		if err := validatePassword(req.Password); err != nil {
			return nil, err
		}
		user.PasswordHash, err = auth.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	query := "UPDATE users SET first_name = ?, last_name = ?, mobile_phone = ?, profile_picture = ?, password_hash = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, user.FirstName, user.LastName, user.MobilePhone, user.ProfilePicture, user.PasswordHash, user.ID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	user.UpdatedAt = s.now()
	return user, nil
}

func (s *UserService) getUserByEmail(ctx context.Context, email string) (*models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users WHERE email = ?"
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("User", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var picture sql.NullString
	if err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.MobilePhone,
		&picture, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if picture.Valid {
		u.ProfilePicture = &picture.String
	}
	return &u, nil
}
