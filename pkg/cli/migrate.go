package cli

import (
	"context"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/cli/config"
	"github.com/secmon-lab/icsrlink/pkg/repository/firestore"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var repoCfg config.Repository
	var dryRun bool

	flags := repoCfg.Flags()
	flags = append(flags, &cli.BoolFlag{
		Name:        "dry-run",
		Usage:       "Preview changes without applying (firestore only)",
		Destination: &dryRun,
	})

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate Firestore indexes or the PostgreSQL schema",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			switch repoCfg.Backend() {
			case config.BackendFirestore:
				return migrateFirestore(ctx, &repoCfg, dryRun)
			case config.BackendPostgres:
				return migratePostgres(ctx, &repoCfg)
			default:
				logging.Default().Info("Nothing to migrate", "backend", repoCfg.Backend())
				return nil
			}
		},
	}
}

func migrateFirestore(ctx context.Context, repoCfg *config.Repository, dryRun bool) error {
	logger := logging.Default()
	prefix := repoCfg.CollectionPrefix()

	if repoCfg.ProjectID() == "" {
		return goerr.Wrap(config.ErrMissingSetting, "firestore-project-id is required",
			goerr.V(config.FlagKey, "firestore-project-id"))
	}

	logger.Info("Migrate configuration",
		"projectID", repoCfg.ProjectID(),
		"databaseID", repoCfg.DatabaseID(),
		"prefix", prefix,
		"dryRun", dryRun)

	indexConfig := getIndexConfig(prefix)

	client, err := fireconf.NewClient(ctx, repoCfg.ProjectID(), repoCfg.DatabaseID())
	if err != nil {
		return goerr.Wrap(err, "failed to create fireconf client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close fireconf client", "error", err.Error())
		}
	}()

	if dryRun {
		logger.Info("Dry run mode - previewing changes")
		plan, err := client.GetMigrationPlan(ctx, indexConfig)
		if err != nil {
			return goerr.Wrap(err, "failed to create migration plan")
		}

		if len(plan.Steps) == 0 {
			logger.Info("No changes required")
			return nil
		}

		for _, step := range plan.Steps {
			logger.Info("Migration step",
				"collection", step.Collection,
				"operation", step.Operation,
				"description", step.Description,
				"destructive", step.Destructive)
		}
		return nil
	}

	logger.Info("Applying migrations")
	if err := client.Migrate(ctx, indexConfig); err != nil {
		return goerr.Wrap(err, "failed to apply migrations")
	}
	logger.Info("Migrations applied successfully")
	return nil
}

func migratePostgres(ctx context.Context, repoCfg *config.Repository) error {
	repo, err := repoCfg.OpenPostgres(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logging.Default().Error("failed to close postgres repository", "error", err.Error())
		}
	}()

	if err := repo.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to migrate postgres schema")
	}
	logging.Default().Info("PostgreSQL schema migrated")
	return nil
}

func ascending(paths ...string) []fireconf.IndexField {
	fields := make([]fireconf.IndexField, len(paths))
	for i, p := range paths {
		fields[i] = fireconf.IndexField{Path: p, Order: fireconf.OrderAscending}
	}
	return fields
}

// getIndexConfig returns the composite indexes required by the Firestore repository queries
func getIndexConfig(prefix string) *fireconf.Config {
	name := func(base string) string {
		if prefix != "" {
			return prefix + "_" + base
		}
		return base
	}

	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: name(firestore.CollectionCases),
				Indexes: []fireconf.Index{
					// List with status filter
					{Fields: ascending("Status", "CreatedAt")},
					// Follow-up chain
					{Fields: ascending("ParentCaseID", "CreatedAt")},
				},
			},
			{
				Name: name(firestore.CollectionBatches),
				Indexes: []fireconf.Index{
					{Fields: ascending("Status", "CreatedAt")},
				},
			},
			{
				Name: name(firestore.CollectionBatchCase),
				Indexes: []fireconf.Index{
					{Fields: ascending("BatchID", "AddedAt")},
				},
			},
			{
				Name: name(firestore.CollectionAttempts),
				Indexes: []fireconf.Index{
					// Case attempts: CaseID ==, BatchID == "", ordered by number
					{Fields: ascending("CaseID", "BatchID", "AttemptNumber")},
					{Fields: ascending("BatchID", "AttemptNumber")},
				},
			},
			{
				Name: name(firestore.CollectionHistory),
				Indexes: []fireconf.Index{
					{Fields: ascending("CaseID", "CreatedAt")},
					{Fields: ascending("BatchID", "CreatedAt")},
				},
			},
		},
	}
}
