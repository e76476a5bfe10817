package firebaseapp

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Clients bundles the Firebase products the call client uses.
type Clients struct {
	App       *firebase.App
	Firestore *firestore.Client
	Auth      *auth.Client
}

// New initializes the Admin SDK. Without a credentials path it falls back to
// application default credentials.
func New(ctx context.Context, projectID, credentialsPath string) (*Clients, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		creds, err := os.ReadFile(credentialsPath)
		if err != nil {
			return nil, fmt.Errorf("read firebase credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}

	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firestore client: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		// directory lookups still work from firestore profiles alone
		log.Warn().Err(err).Msg("Firebase auth client unavailable")
		authClient = nil
	}

	log.Info().Str("project_id", projectID).Msg("Firebase initialized")
	return &Clients{App: app, Firestore: fs, Auth: authClient}, nil
}

func (c *Clients) Close() error {
	if c == nil || c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}
