package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/ambercart/api/internal/domain"
	pfirestore "github.com/ambercart/api/internal/platform/firestore"
)

const newsletterCollection = "newsletter_subscribers"

// NewsletterRepository stores marketing subscribers keyed by lowercased email,
// so a repeat subscribe is naturally idempotent.
type NewsletterRepository struct {
	provider *pfirestore.Provider
}

// NewNewsletterRepository constructs a Firestore-backed newsletter repository.
func NewNewsletterRepository(provider *pfirestore.Provider) (*NewsletterRepository, error) {
	if provider == nil {
		return nil, errors.New("newsletter repository requires firestore provider")
	}
	return &NewsletterRepository{provider: provider}, nil
}

type newsletterDocument struct {
	Email        string    `firestore:"email"`
	FirstName    *string   `firestore:"firstName,omitempty"`
	LastName     *string   `firestore:"lastName,omitempty"`
	SubscribedAt time.Time `firestore:"subscribedAt"`
}

// Upsert stores the subscriber and reports whether the email was new.
func (r *NewsletterRepository) Upsert(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("newsletter repository not initialised")
	}
	email := strings.ToLower(strings.TrimSpace(subscriber.Email))
	if email == "" {
		return false, errors.New("newsletter repository: email is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}
	ref := client.Collection(newsletterCollection).Doc(email)

	doc := newsletterDocument{
		Email:        email,
		FirstName:    subscriber.FirstName,
		LastName:     subscriber.LastName,
		SubscribedAt: subscriber.SubscribedAt.UTC(),
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, pfirestore.WrapError("newsletter.upsert", err)
	}
	return true, nil
}
