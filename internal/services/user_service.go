package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/repositories"
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid user parameters.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserUnavailable indicates user dependencies are currently unavailable.
	ErrUserUnavailable = errors.New("user: unavailable")
)

// UserServiceDeps wires the dependencies required by the user service.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	now    func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewUserService constructs a UserService validating required dependencies.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return "usr_" + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users: deps.Users,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// GetProfile fetches the account by id.
func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	if s == nil || s.users == nil {
		return User{}, ErrUserUnavailable
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrUserInvalidInput
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.translateUserError(err)
	}
	return user, nil
}

// ResolveOrCreateGuest returns the account owning the email, creating a guest
// account when none exists. Guest accounts get an unguessable credential so
// the email can later be claimed through a password reset.
func (s *userService) ResolveOrCreateGuest(ctx context.Context, cmd CreateGuestCommand) (User, error) {
	if s == nil || s.users == nil {
		return User{}, ErrUserUnavailable
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" {
		return User{}, ErrUserInvalidInput
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return User{}, s.translateUserError(err)
	}

	hash, err := randomCredentialHash()
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrUserUnavailable, err)
	}

	now := s.now()
	guest := domain.User{
		ID:           s.newID(),
		Email:        email,
		FirstName:    strings.TrimSpace(cmd.FirstName),
		LastName:     strings.TrimSpace(cmd.LastName),
		Phone:        cmd.Phone,
		Status:       domain.UserStatusActive,
		IsGuest:      true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, guest); err != nil {
		// A concurrent checkout may have synthesized the same guest.
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return s.users.FindByEmail(ctx, email)
		}
		return User{}, s.translateUserError(err)
	}

	s.logger(ctx, "user.guest_created", map[string]any{
		"userId": guest.ID,
		"email":  email,
	})
	return guest, nil
}

// RecordPurchase folds a completed order amount into the user's metrics.
func (s *userService) RecordPurchase(ctx context.Context, userID string, amount float64) (UserMetrics, error) {
	if s == nil || s.users == nil {
		return UserMetrics{}, ErrUserUnavailable
	}
	if strings.TrimSpace(userID) == "" || amount < 0 {
		return UserMetrics{}, ErrUserInvalidInput
	}

	metrics, err := s.users.ApplyOrderMetrics(ctx, userID, amount, s.now())
	if err != nil {
		return UserMetrics{}, s.translateUserError(err)
	}
	return metrics, nil
}

func (s *userService) translateUserError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrUserNotFound
		}
	}
	return fmt.Errorf("%w: %v", ErrUserUnavailable, err)
}

func randomCredentialHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
