package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Postgres is the relational repository backend. Child records of a case live in their own
// tables and are replaced as a whole when the case is updated.
type Postgres struct {
	db       *gorm.DB
	caseRepo *caseRepository
	batch    *batchRepository
	attempt  *attemptRepository
	history  *historyRepository
	sequence *sequenceRepository
}

var _ interfaces.Repository = (*Postgres)(nil)

type options struct {
	tablePrefix string
	logLevel    logger.LogLevel
}

// Option configures the Postgres repository
type Option func(*options)

// WithTablePrefix prepends prefix to every table name
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		o.tablePrefix = prefix
	}
}

// WithSQLLog enables gorm statement logging
func WithSQLLog() Option {
	return func(o *options) {
		o.logLevel = logger.Info
	}
}

// New connects to PostgreSQL using dsn. The schema is not touched; call Migrate to create it.
func New(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	o := &options{logLevel: logger.Silent}
	for _, opt := range opts {
		opt(o)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: o.tablePrefix},
		Logger:         logger.Default.LogMode(o.logLevel),
		TranslateError: true,
		NowFunc:        now,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sql.DB")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to ping postgres")
	}

	return &Postgres{
		db:       db,
		caseRepo: &caseRepository{db: db},
		batch:    &batchRepository{db: db},
		attempt:  &attemptRepository{db: db},
		history:  &historyRepository{db: db},
		sequence: &sequenceRepository{db: db},
	}, nil
}

func allModels() []any {
	return []any{
		&Case{}, &Reporter{}, &Reaction{}, &Drug{}, &DrugSubstance{}, &DrugDosage{},
		&SubmissionBatch{}, &BatchCase{},
		&SubmissionAttempt{},
		&SubmissionHistoryEntry{},
		&Sequence{},
	}
}

// Migrate creates or updates every table and index
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return goerr.Wrap(err, "failed to migrate postgres schema")
	}
	return nil
}

// DropAll removes every table owned by the repository
func (p *Postgres) DropAll(ctx context.Context) error {
	models := allModels()
	// children first
	for i := len(models) - 1; i >= 0; i-- {
		if err := p.db.WithContext(ctx).Migrator().DropTable(models[i]); err != nil {
			return goerr.Wrap(err, "failed to drop table")
		}
	}
	return nil
}

// Close releases the connection pool
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return goerr.Wrap(err, "failed to get sql.DB")
	}
	return sqlDB.Close()
}

func (p *Postgres) Case() interfaces.CaseRepository         { return p.caseRepo }
func (p *Postgres) Batch() interfaces.BatchRepository       { return p.batch }
func (p *Postgres) Attempt() interfaces.AttemptRepository   { return p.attempt }
func (p *Postgres) History() interfaces.HistoryRepository   { return p.history }
func (p *Postgres) Sequence() interfaces.SequenceRepository { return p.sequence }

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func forUpdate() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isDuplicated(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// advisoryLock serializes transactions that share key until the transaction ends
func advisoryLock(tx *gorm.DB, key string) error {
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return goerr.Wrap(err, "failed to acquire advisory lock", goerr.V("key", key))
	}
	return nil
}

// nextSequence increments the counter of scope inside tx
func nextSequence(tx *gorm.DB, scope string) (int64, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Sequence{Scope: scope}).Error; err != nil {
		return 0, goerr.Wrap(err, "failed to initialize sequence", goerr.V("scope", scope))
	}

	var seq Sequence
	if err := tx.Clauses(forUpdate()).Where("scope = ?", scope).First(&seq).Error; err != nil {
		return 0, goerr.Wrap(err, "failed to lock sequence", goerr.V("scope", scope))
	}

	seq.Value++
	if err := tx.Model(&Sequence{}).Where("scope = ?", scope).Update("value", seq.Value).Error; err != nil {
		return 0, goerr.Wrap(err, "failed to update sequence", goerr.V("scope", scope))
	}
	return seq.Value, nil
}

type sequenceRepository struct {
	db *gorm.DB
}

func (r *sequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := nextSequence(tx, scope)
		next = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
