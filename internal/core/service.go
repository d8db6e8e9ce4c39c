package core

import (
	"context"
	"errors"
	"time"

	"dynastycore/internal/infra/persistence/memory"
	"dynastycore/pkg/domain"

	"github.com/cenkalti/backoff/v5"
)

// DefaultInvitationTTL is how long a new invitation stays acceptable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// RetryPolicy bounds how often an operation is re-run after a ConflictError.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 250 * time.Millisecond}
}

type serviceOptions struct {
	clock         Clock
	logger        Logger
	audit         AuditRecorder
	metrics       MetricsRecorder
	tracer        Tracer
	media         MediaResolver
	validator     *Validator
	invitationTTL time.Duration
	retry         RetryPolicy
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:         systemClock{},
		logger:        noopLogger{},
		audit:         noopAuditRecorder{},
		metrics:       noopMetricsRecorder{},
		tracer:        noopTracer{},
		validator:     NewValidator(),
		invitationTTL: DefaultInvitationTTL,
		retry:         DefaultRetryPolicy(),
	}
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit recorder for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMediaResolver resolves profile image references in projections.
func WithMediaResolver(resolver MediaResolver) ServiceOption {
	return func(o *serviceOptions) { o.media = resolver }
}

// WithInvitationTTL sets the lifetime of new invitations.
func WithInvitationTTL(ttl time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if ttl > 0 {
			o.invitationTTL = ttl
		}
	}
}

// WithRetryPolicy sets the conflict retry policy.
func WithRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(o *serviceOptions) {
		if policy.MaxAttempts > 0 {
			o.retry = policy
		}
	}
}

// Service runs the family graph operations. Every mutating operation executes
// as one store transaction and is re-run from a fresh snapshot when the store
// reports a conflicting concurrent write.
type Service struct {
	store         domain.PersistentStore
	clock         Clock
	logger        Logger
	audit         AuditRecorder
	metrics       MetricsRecorder
	tracer        Tracer
	media         MediaResolver
	validator     *Validator
	invitationTTL time.Duration
	retry         RetryPolicy
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:         store,
		clock:         o.clock,
		logger:        o.logger,
		audit:         o.audit,
		metrics:       o.metrics,
		tracer:        o.tracer,
		media:         o.media,
		validator:     o.validator,
		invitationTTL: o.invitationTTL,
		retry:         o.retry,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default rules.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	clock := o.clock
	store := memory.NewStore(engine, memory.WithClock(func() time.Time { return clock.Now() }))
	return NewService(store, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// scope identifies who an operation runs for, for logs and audit entries.
type scope struct {
	treeID   string
	callerID string
}

// run executes fn in a store transaction, retrying conflicts per the retry
// policy, and reports the outcome to the logger, metrics, tracer and audit log.
// fn returns the id of the primary record it touched.
func (s *Service) run(ctx context.Context, op string, sc scope, fn func(tx domain.Transaction) (string, error)) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	s.logger.Debug("operation started", "op", op, "tree_id", sc.treeID, "caller_id", sc.callerID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	policy.Reset()
	maxTries := s.retry.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	var (
		attempts int
		entityID string
	)
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempts++
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			id, err := fn(tx)
			entityID = id
			return err
		})
		if err == nil {
			return res, nil
		}
		if domain.IsRetryable(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("operation conflicted, retrying", "op", op, "attempt", attempts, "backoff", next, "error", err)
			if r, ok := s.metrics.(RetryObserver); ok {
				r.ObserveRetry(ctx, op)
			}
		}),
	)
	err = classifyError(op, err)

	duration := s.clock.Now().Sub(started)
	s.metrics.Observe(ctx, op, err == nil, duration)
	span.End(err)
	entry := AuditEntry{
		Operation: op,
		Status:    AuditStatusSuccess,
		TreeID:    sc.treeID,
		CallerID:  sc.callerID,
		EntityID:  entityID,
		Attempts:  attempts,
		Duration:  duration,
		At:        started,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "op", op, "kind", domain.KindOf(err), "attempts", attempts, "error", err)
	} else {
		s.logger.Info("operation committed", "op", op, "entity_id", entityID, "attempts", attempts)
	}
	s.audit.Record(ctx, entry)
	return res, err
}

// read runs fn against committed state with tracing and metrics.
func (s *Service) read(ctx context.Context, op string, fn func(view domain.TransactionView) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	err := ctx.Err()
	if err == nil {
		err = s.store.View(ctx, fn)
	}
	err = classifyError(op, err)
	s.metrics.Observe(ctx, op, err == nil, s.clock.Now().Sub(started))
	span.End(err)
	if err != nil {
		s.logger.Debug("read failed", "op", op, "error", err)
	}
	return err
}

// classifyError maps any failure onto the service error kinds. Rule engine
// blocks become validation errors and unknown failures become storage errors.
// The retry loop may hand back a permanent-error wrapper, which is stripped.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	var rule domain.RuleViolationError
	if errors.As(err, &rule) {
		return domain.ValidationError{Violations: rule.Result.Blocking()}
	}
	var storage domain.StorageError
	if errors.As(err, &storage) {
		return err
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindNotFound, domain.KindPermission, domain.KindConflict:
		return err
	default:
		return domain.StorageError{Op: op, Err: err}
	}
}

func requireAdmin(view domain.TransactionView, treeID, callerID, action string) (FamilyTree, error) {
	tree, ok := view.FindTree(treeID)
	if !ok {
		return FamilyTree{}, domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
	}
	if !tree.IsAdmin(callerID) {
		return FamilyTree{}, domain.PermissionError{CallerID: callerID, TreeID: treeID, Action: action}
	}
	return tree, nil
}

func memberInTree(view domain.TransactionView, treeID, id string) (Member, error) {
	m, ok := view.FindMember(id)
	if !ok || m.TreeID != treeID {
		return Member{}, domain.NotFoundError{Entity: domain.EntityMember, ID: id}
	}
	return m, nil
}

func rejection(rule, entityID, message string) domain.ValidationError {
	return domain.ValidationError{Violations: []Violation{{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityMember,
		EntityID: entityID,
	}}}
}
