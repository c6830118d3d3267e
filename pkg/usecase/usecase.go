package usecase

import (
	"time"

	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/gateway"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
	"github.com/secmon-lab/icsrlink/pkg/service/validator"
)

// DefaultAckTimeout is how long a submission may wait for an acknowledgment before it is
// flagged for attention
const DefaultAckTimeout = 48 * time.Hour

type UseCases struct {
	repo        interfaces.Repository
	gateway     gateway.Client
	exporter    interfaces.ExportStore
	publisher   interfaces.EventPublisher
	notifier    interfaces.Notifier
	validator   *validator.Validator
	codec       icsr.Options
	backoff     gateway.Backoff
	environment types.Environment
	ackTimeout  time.Duration
	validations int
	now         func() time.Time

	Case           *CaseUseCase
	Batch          *BatchUseCase
	Version        *VersionUseCase
	Submission     *SubmissionUseCase
	Acknowledgment *AcknowledgmentUseCase
}

type Option func(*UseCases)

// WithGateway sets the intake service client used for submission and acknowledgment
func WithGateway(client gateway.Client) Option {
	return func(uc *UseCases) {
		uc.gateway = client
	}
}

func WithExportStore(store interfaces.ExportStore) Option {
	return func(uc *UseCases) {
		uc.exporter = store
	}
}

func WithEventPublisher(publisher interfaces.EventPublisher) Option {
	return func(uc *UseCases) {
		uc.publisher = publisher
	}
}

func WithNotifier(notifier interfaces.Notifier) Option {
	return func(uc *UseCases) {
		uc.notifier = notifier
	}
}

// WithCodecOptions sets the message header options of generated documents
func WithCodecOptions(opts icsr.Options) Option {
	return func(uc *UseCases) {
		uc.codec = opts
	}
}

func WithBackoff(b gateway.Backoff) Option {
	return func(uc *UseCases) {
		uc.backoff = b
	}
}

// WithEnvironment sets the intake environment recorded on attempts
func WithEnvironment(env types.Environment) Option {
	return func(uc *UseCases) {
		uc.environment = env
	}
}

func WithAckTimeout(d time.Duration) Option {
	return func(uc *UseCases) {
		uc.ackTimeout = d
	}
}

// WithValidationConcurrency bounds how many member cases are validated at once
func WithValidationConcurrency(n int) Option {
	return func(uc *UseCases) {
		uc.validations = n
	}
}

// WithClock replaces the clock used for timestamps, batch numbers and timeouts
func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
		uc.validator = validator.New(validator.WithNow(now))
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:        repo,
		validator:   validator.New(),
		backoff:     gateway.DefaultBackoff(),
		environment: types.EnvironmentTest,
		ackTimeout:  DefaultAckTimeout,
		validations: 8,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.codec.Now == nil {
		uc.codec.Now = uc.now
	}

	uc.Case = &CaseUseCase{uc: uc}
	uc.Batch = &BatchUseCase{uc: uc}
	uc.Version = &VersionUseCase{uc: uc}
	uc.Submission = newSubmissionUseCase(uc)
	uc.Acknowledgment = &AcknowledgmentUseCase{uc: uc}

	return uc
}

func (uc *UseCases) timestamp() time.Time {
	return uc.now().UTC().Truncate(time.Microsecond)
}
