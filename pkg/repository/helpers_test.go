package repository_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/repository/firestore"
	"github.com/secmon-lab/icsrlink/pkg/repository/memory"
	"github.com/secmon-lab/icsrlink/pkg/repository/postgres"
)

type repoFactory func(t *testing.T) interfaces.Repository

func newMemoryRepo(t *testing.T) interfaces.Repository {
	return memory.New()
}

// firestoreFactory isolates every repository in its own collection prefix
func firestoreFactory(t *testing.T) repoFactory {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	return func(t *testing.T) interfaces.Repository {
		prefix := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		repo, err := firestore.New(context.Background(), projectID,
			firestore.WithDatabaseID(databaseID),
			firestore.WithCollectionPrefix(prefix),
		)
		gt.NoError(t, err).Required()
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	}
}

// postgresFactory isolates every repository in its own table prefix
func postgresFactory(t *testing.T) repoFactory {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	return func(t *testing.T) interfaces.Repository {
		prefix := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10] + "_"
		ctx := context.Background()
		repo, err := postgres.New(ctx, dsn, postgres.WithTablePrefix(prefix))
		gt.NoError(t, err).Required()
		gt.NoError(t, repo.Migrate(ctx)).Required()
		t.Cleanup(func() {
			_ = repo.DropAll(context.Background())
			_ = repo.Close()
		})
		return repo
	}
}

func runOnAllBackends(t *testing.T, suite func(t *testing.T, newRepo repoFactory)) {
	t.Run("Memory", func(t *testing.T) {
		suite(t, newMemoryRepo)
	})
	t.Run("Firestore", func(t *testing.T) {
		suite(t, firestoreFactory(t))
	})
	t.Run("Postgres", func(t *testing.T) {
		suite(t, postgresFactory(t))
	})
}
