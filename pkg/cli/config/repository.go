package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/repository/firestore"
	"github.com/secmon-lab/icsrlink/pkg/repository/memory"
	"github.com/secmon-lab/icsrlink/pkg/repository/postgres"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/secmon-lab/icsrlink/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Repository holds CLI flags for repository backend configuration
type Repository struct {
	backend          string
	projectID        string
	databaseID       string
	collectionPrefix string
	postgresDSN      string
	tablePrefix      string
	sqlLog           bool
}

// Flags returns CLI flags for repository configuration
func (r *Repository) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository-backend",
			Usage:       "Repository backend type (firestore, postgres or memory)",
			Category:    "Repository",
			Value:       BackendFirestore,
			Sources:     cli.EnvVars("ICSRLINK_REPOSITORY_BACKEND"),
			Destination: &r.backend,
		},
		&cli.StringFlag{
			Name:        "firestore-project-id",
			Usage:       "Firestore Project ID (required when using firestore backend)",
			Category:    "Repository",
			Sources:     cli.EnvVars("ICSRLINK_FIRESTORE_PROJECT_ID"),
			Destination: &r.projectID,
		},
		&cli.StringFlag{
			Name:        "firestore-database-id",
			Usage:       "Firestore Database ID",
			Category:    "Repository",
			Sources:     cli.EnvVars("ICSRLINK_FIRESTORE_DATABASE_ID"),
			Destination: &r.databaseID,
		},
		&cli.StringFlag{
			Name:        "firestore-collection-prefix",
			Usage:       "Prefix for Firestore collection names",
			Category:    "Repository",
			Sources:     cli.EnvVars("ICSRLINK_FIRESTORE_COLLECTION_PREFIX"),
			Destination: &r.collectionPrefix,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL DSN (required when using postgres backend)",
			Category:    "Repository",
			Sources:     cli.EnvVars("ICSRLINK_POSTGRES_DSN"),
			Destination: &r.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "postgres-table-prefix",
			Usage:       "Prefix for PostgreSQL table names",
			Category:    "Repository",
			Sources:     cli.EnvVars("ICSRLINK_POSTGRES_TABLE_PREFIX"),
			Destination: &r.tablePrefix,
		},
		&cli.BoolFlag{
			Name:        "postgres-sql-log",
			Usage:       "Log every SQL statement",
			Category:    "Repository",
			Sources:     cli.EnvVars("ICSRLINK_POSTGRES_SQL_LOG"),
			Destination: &r.sqlLog,
		},
	}
}

func (r Repository) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", r.backend),
		slog.String("firestore-project-id", r.projectID),
		slog.String("firestore-database-id", r.databaseID),
		slog.Int("postgres-dsn.len", len(r.postgresDSN)),
	)
}

// Backend returns the configured backend type
func (r *Repository) Backend() string {
	return r.backend
}

// ProjectID returns the Firestore project ID
func (r *Repository) ProjectID() string {
	return r.projectID
}

// DatabaseID returns the Firestore database ID
func (r *Repository) DatabaseID() string {
	return r.databaseID
}

// CollectionPrefix returns the Firestore collection prefix
func (r *Repository) CollectionPrefix() string {
	return r.collectionPrefix
}

// Configure initializes and returns a repository based on the configured backend.
// The caller is responsible for calling the returned closer.
func (r *Repository) Configure(ctx context.Context) (interfaces.Repository, func(), error) {
	switch r.backend {
	case BackendFirestore:
		if r.projectID == "" {
			return nil, nil, goerr.Wrap(ErrMissingSetting, "firestore-project-id is required when using firestore backend",
				goerr.V(FlagKey, "firestore-project-id"))
		}
		var opts []firestore.Option
		if r.databaseID != "" {
			opts = append(opts, firestore.WithDatabaseID(r.databaseID))
		}
		if r.collectionPrefix != "" {
			opts = append(opts, firestore.WithCollectionPrefix(r.collectionPrefix))
		}
		repo, err := firestore.New(ctx, r.projectID, opts...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to initialize firestore repository")
		}
		logging.Default().Info("Using Firestore repository",
			"project_id", r.projectID,
			"database_id", r.databaseID,
		)
		return repo, closeWith("firestore repository", repo.Close), nil

	case BackendPostgres:
		repo, err := r.openPostgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		logging.Default().Info("Using PostgreSQL repository", "table_prefix", r.tablePrefix)
		return repo, closeWith("postgres repository", repo.Close), nil

	case BackendMemory:
		logging.Default().Info("Using in-memory repository (development mode)")
		return memory.New(), func() {}, nil

	default:
		return nil, nil, goerr.Wrap(ErrInvalidBackend, "unknown repository backend", goerr.V(BackendKey, r.backend))
	}
}

// OpenPostgres connects to PostgreSQL for schema migration
func (r *Repository) OpenPostgres(ctx context.Context) (*postgres.Postgres, error) {
	return r.openPostgres(ctx)
}

func (r *Repository) openPostgres(ctx context.Context) (*postgres.Postgres, error) {
	if r.postgresDSN == "" {
		return nil, goerr.Wrap(ErrMissingSetting, "postgres-dsn is required when using postgres backend",
			goerr.V(FlagKey, "postgres-dsn"))
	}
	var opts []postgres.Option
	if r.tablePrefix != "" {
		opts = append(opts, postgres.WithTablePrefix(r.tablePrefix))
	}
	if r.sqlLog {
		opts = append(opts, postgres.WithSQLLog())
	}
	repo, err := postgres.New(ctx, r.postgresDSN, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize postgres repository")
	}
	return repo, nil
}

// closeWith turns a Close method into a closer that logs instead of returning the error
func closeWith(name string, fn func() error) func() {
	return func() {
		safe.CloseFunc(context.Background(), name, fn)
	}
}
