package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/domain/user"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

// Session is returned after a successful sign-in.
type Session struct {
	Token      string                `json:"token"`
	ExpiresAt  time.Time             `json:"expires_at"`
	User       user.User             `json:"user"`
	Restaurant restaurant.Restaurant `json:"restaurant"`
}

// RegisterInput creates a restaurant together with its owner account.
type RegisterInput struct {
	RestaurantName string `json:"restaurant_name"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Currency       string `json:"currency,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// UserInput creates a user inside an existing restaurant.
type UserInput struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     user.Role `json:"role"`
}

// UserUpdate carries optional user changes.
type UserUpdate struct {
	Name   *string    `json:"name,omitempty"`
	Role   *user.Role `json:"role,omitempty"`
	Active *bool      `json:"active,omitempty"`
}

// Service handles registration, sign-in and user administration.
type Service struct {
	restaurants storage.RestaurantStore
	users       storage.UserStore
	tokens      *Tokens
	log         *logger.Logger
	now         func() time.Time
}

// New constructs the auth service.
func New(restaurants storage.RestaurantStore, users storage.UserStore, tokens *Tokens, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Service{
		restaurants: restaurants,
		users:       users,
		tokens:      tokens,
		log:         log,
		now:         time.Now,
	}
}

// Tokens exposes the token issuer used by the HTTP middleware.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Register creates a restaurant and its owner, then signs the owner in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.RestaurantName = strings.TrimSpace(in.RestaurantName)
	in.Name = strings.TrimSpace(in.Name)
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Session{}, err
	}
	if in.RestaurantName == "" {
		return Session{}, apperr.Validation("restaurant_name is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = restaurant.DefaultCurrency
	}
	if !ValidCurrency(currency) {
		return Session{}, apperr.Validation("currency must be a 3-letter ISO code")
	}
	timezone := strings.TrimSpace(in.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return Session{}, apperr.Validation("unknown timezone %q", timezone)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return Session{}, apperr.Conflict("email %s already registered", email)
	} else if !apperr.IsNotFound(err) {
		return Session{}, err
	}

	r, err := s.restaurants.CreateRestaurant(ctx, restaurant.Restaurant{
		Name:     in.RestaurantName,
		Currency: currency,
		Timezone: timezone,
	})
	if err != nil {
		return Session{}, err
	}
	owner, err := s.users.CreateUser(ctx, user.User{
		RestaurantID: r.ID,
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         user.RoleOwner,
		Active:       true,
	})
	if err != nil {
		if derr := s.restaurants.DeleteRestaurant(ctx, r.ID); derr != nil {
			s.log.WithError(derr).WithField("restaurant_id", r.ID).Error("remove restaurant without owner failed")
		}
		return Session{}, err
	}

	s.log.WithField("restaurant_id", r.ID).
		WithField("user_id", owner.ID).
		Info("restaurant registered")
	return s.issue(owner, r)
}

// Login verifies credentials. Unknown emails, wrong passwords and inactive
// accounts all fail with the same message.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return Session{}, apperr.Unauthorized("invalid credentials")
		}
		return Session{}, err
	}
	if !u.Active || !CheckPassword(u.PasswordHash, password) {
		s.log.WithContext(ctx).WithField("user_id", u.ID).Warn("login rejected")
		return Session{}, apperr.Unauthorized("invalid credentials")
	}

	loginAt := s.now().UTC()
	u.LastLoginAt = &loginAt
	u, err = s.users.UpdateUser(ctx, u)
	if err != nil {
		return Session{}, err
	}
	r, err := s.restaurants.GetRestaurant(ctx, u.RestaurantID)
	if err != nil {
		return Session{}, err
	}
	s.log.WithField("user_id", u.ID).Info("user signed in")
	return s.issue(u, r)
}

// Refresh reissues a token for the user behind claims if they are still active.
func (s *Service) Refresh(ctx context.Context, claims *Claims) (Session, error) {
	if claims == nil {
		return Session{}, apperr.Unauthorized("")
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return Session{}, apperr.Unauthorized("account no longer exists")
		}
		return Session{}, err
	}
	if !u.Active {
		return Session{}, apperr.Unauthorized("account is disabled")
	}
	r, err := s.restaurants.GetRestaurant(ctx, u.RestaurantID)
	if err != nil {
		return Session{}, err
	}
	return s.issue(u, r)
}

// Me returns the signed-in user.
func (s *Service) Me(ctx context.Context, userID string) (user.User, error) {
	return s.users.GetUser(ctx, userID)
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(u.PasswordHash, current) {
		return apperr.Unauthorized("current password is incorrect")
	}
	if current == next {
		return apperr.Validation("new password must differ from the current one")
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("password changed")
	return nil
}

// CreateUser adds a user to a restaurant.
func (s *Service) CreateUser(ctx context.Context, restaurantID string, in UserInput) (user.User, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return user.User{}, apperr.Validation("restaurant_id is required")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return user.User{}, err
	}
	if in.Role == "" {
		in.Role = user.RoleStaff
	}
	if !in.Role.Valid() {
		return user.User{}, apperr.Validation("unknown role %q", in.Role)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return user.User{}, err
	}
	if _, err := s.restaurants.GetRestaurant(ctx, restaurantID); err != nil {
		return user.User{}, err
	}

	u, err := s.users.CreateUser(ctx, user.User{
		RestaurantID: restaurantID,
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("restaurant_id", restaurantID).
		WithField("user_id", u.ID).
		WithField("role", u.Role).
		Info("user created")
	return u, nil
}

// ListUsers returns the users of a restaurant.
func (s *Service) ListUsers(ctx context.Context, restaurantID string) ([]user.User, error) {
	return s.users.ListUsers(ctx, restaurantID)
}

// UpdateUser changes name, role or active flag. The last active owner of a
// restaurant can be neither demoted nor deactivated.
func (s *Service) UpdateUser(ctx context.Context, restaurantID, userID string, upd UserUpdate) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if u.RestaurantID != restaurantID {
		return user.User{}, apperr.NotFound("user", userID)
	}

	wasActiveOwner := u.Active && u.Role == user.RoleOwner
	if upd.Name != nil {
		u.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return user.User{}, apperr.Validation("unknown role %q", *upd.Role)
		}
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	losesOwner := wasActiveOwner && !(u.Active && u.Role == user.RoleOwner)

	if losesOwner {
		owners, err := s.activeOwners(ctx, restaurantID)
		if err != nil {
			return user.User{}, err
		}
		if owners <= 1 {
			return user.User{}, apperr.Conflict("restaurant must keep at least one active owner")
		}
	}

	u, err = s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", u.ID).Info("user updated")
	return u, nil
}

func (s *Service) activeOwners(ctx context.Context, restaurantID string) (int, error) {
	users, err := s.users.ListUsers(ctx, restaurantID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, u := range users {
		if u.Active && u.Role == user.RoleOwner {
			count++
		}
	}
	return count, nil
}

func (s *Service) issue(u user.User, r restaurant.Restaurant) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: u, Restaurant: r}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("email %q is not valid", raw)
	}
	return email, nil
}

// ValidCurrency reports whether code looks like an ISO 4217 code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
