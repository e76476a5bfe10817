package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"firebase.google.com/go/v4/auth"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const usersCollection = "users"

type userDoc struct {
	DisplayName string `firestore:"displayName"`
	Name        string `firestore:"name"`
	AvatarURL   string `firestore:"avatarUrl"`
}

// UserDirectory reads users/{id} profiles, falling back to the auth record
// when no profile document exists.
type UserDirectory struct {
	client *firestore.Client
	auth   *auth.Client
}

func NewUserDirectory(client *firestore.Client, authClient *auth.Client) *UserDirectory {
	return &UserDirectory{client: client, auth: authClient}
}

func (d *UserDirectory) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	snap, err := d.client.Collection(usersCollection).Doc(id.String()).Get(ctx)
	switch {
	case err == nil:
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return domain.User{}, fmt.Errorf("decode user %s: %w", id, err)
		}
		return domain.User{ID: id, DisplayName: doc.DisplayName, Name: doc.Name, AvatarURL: doc.AvatarURL}, nil
	case status.Code(err) == codes.NotFound:
		return d.fromAuth(ctx, id)
	default:
		return domain.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
}

func (d *UserDirectory) fromAuth(ctx context.Context, id domain.UserID) (domain.User, error) {
	if d.auth == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	rec, err := d.auth.GetUser(ctx, id.String())
	if auth.IsUserNotFound(err) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get auth user %s: %w", id, err)
	}
	return domain.User{ID: id, DisplayName: rec.DisplayName, AvatarURL: rec.PhotoURL}, nil
}
