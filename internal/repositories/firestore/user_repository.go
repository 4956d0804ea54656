package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/ambercart/api/internal/domain"
	pfirestore "github.com/ambercart/api/internal/platform/firestore"
)

const userCollection = "users"

// UserRepository persists account profiles and the purchase metrics folded in
// after each successful checkout.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{
		base:     base,
		provider: provider,
	}, nil
}

type userDocument struct {
	Email        string              `firestore:"email"`
	FirstName    string              `firestore:"firstName"`
	LastName     string              `firestore:"lastName"`
	Phone        *string             `firestore:"phone,omitempty"`
	Status       string              `firestore:"status"`
	IsGuest      bool                `firestore:"isGuest"`
	PasswordHash string              `firestore:"passwordHash,omitempty"`
	Metrics      userMetricsDocument `firestore:"metrics"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
}

type userMetricsDocument struct {
	TotalOrders       int     `firestore:"totalOrders"`
	TotalSpent        float64 `firestore:"totalSpent"`
	AverageOrderValue float64 `firestore:"averageOrderValue"`
	LifetimeValue     float64 `firestore:"lifetimeValue"`
}

// encodeUser is the single storage mapping for users.
func encodeUser(user domain.User) userDocument {
	return userDocument{
		Email:        strings.ToLower(strings.TrimSpace(user.Email)),
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Phone:        user.Phone,
		Status:       string(user.Status),
		IsGuest:      user.IsGuest,
		PasswordHash: user.PasswordHash,
		Metrics: userMetricsDocument{
			TotalOrders:       user.Metrics.TotalOrders,
			TotalSpent:        user.Metrics.TotalSpent,
			AverageOrderValue: user.Metrics.AverageOrderValue,
			LifetimeValue:     user.Metrics.LifetimeValue,
		},
		CreatedAt: user.CreatedAt.UTC(),
		UpdatedAt: user.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:           id,
		Email:        d.Email,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Phone:        d.Phone,
		Status:       domain.UserStatus(d.Status),
		IsGuest:      d.IsGuest,
		PasswordHash: d.PasswordHash,
		Metrics: domain.UserMetrics{
			TotalOrders:       d.Metrics.TotalOrders,
			TotalSpent:        d.Metrics.TotalSpent,
			AverageOrderValue: d.Metrics.AverageOrderValue,
			LifetimeValue:     d.Metrics.LifetimeValue,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Insert creates the user document, failing on an existing id.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user repository: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(userCollection).Doc(user.ID)
	if _, err := ref.Create(ctx, encodeUser(user)); err != nil {
		return pfirestore.WrapError("users.insert", err)
	}
	return nil
}

// FindByID fetches a user by document id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmail fetches a user by normalised email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return domain.User{}, errors.New("user repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", status.Error(codes.NotFound, "user not found: "+normalized))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ApplyOrderMetrics folds one completed order amount into the user's totals.
// The recomputation runs inside a transaction so concurrent checkouts do not
// lose increments.
func (r *UserRepository) ApplyOrderMetrics(ctx context.Context, userID string, amount float64, updatedAt time.Time) (domain.UserMetrics, error) {
	if r == nil || r.provider == nil {
		return domain.UserMetrics{}, errors.New("user repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.UserMetrics{}, err
	}
	ref := client.Collection(userCollection).Doc(strings.TrimSpace(userID))

	var metrics domain.UserMetrics
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, txErr := tx.Get(ref)
		if txErr != nil {
			return txErr
		}
		var doc userDocument
		if txErr := snap.DataTo(&doc); txErr != nil {
			return txErr
		}

		doc.Metrics.TotalOrders++
		doc.Metrics.TotalSpent += amount
		doc.Metrics.AverageOrderValue = doc.Metrics.TotalSpent / float64(doc.Metrics.TotalOrders)
		doc.Metrics.LifetimeValue = doc.Metrics.TotalSpent

		if txErr := tx.Update(ref, []firestore.Update{
			{Path: "metrics", Value: doc.Metrics},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		}); txErr != nil {
			return txErr
		}
		metrics = domain.UserMetrics{
			TotalOrders:       doc.Metrics.TotalOrders,
			TotalSpent:        doc.Metrics.TotalSpent,
			AverageOrderValue: doc.Metrics.AverageOrderValue,
			LifetimeValue:     doc.Metrics.LifetimeValue,
		}
		return nil
	})
	if err != nil {
		return domain.UserMetrics{}, pfirestore.WrapError("users.applyOrderMetrics", err)
	}
	return metrics, nil
}
