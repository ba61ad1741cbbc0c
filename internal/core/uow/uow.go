// Package uow coordinates a unit of work: it owns the identity map and change tracker,
// turns pending changes into one atomic backend batch and enforces the transaction
// state machine Idle -> Active -> {Committed, RolledBack}.
//
// A UnitOfWork is not safe for concurrent use. Several units of work may share one
// backend; isolation between them is the backend's job.
package uow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"unitwork/internal/core/apperror"
	appctx "unitwork/internal/core/context"
	"unitwork/internal/core/id"
	"unitwork/internal/core/journal"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tracking"
	"unitwork/internal/core/tx"
	"unitwork/internal/metrics"
	"unitwork/pkg/logger"
)

var tracer = otel.Tracer("unitwork/uow")

// Config is passed explicitly to New; there is no package-level state.
type Config struct {
	// DefaultIsolation is used by SaveChanges and by reads outside a transaction.
	DefaultIsolation tx.IsolationLevel

	// CommandTimeout bounds every backend statement. Zero means no limit.
	CommandTimeout time.Duration

	// Journal, when set, records every committed change in the same batch.
	Journal *journal.Journal

	Logger  *logger.Logger
	Metrics metrics.Recorder

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// UnitOfWork tracks entities and commits their changes.
type UnitOfWork struct {
	id      id.ID
	backend tx.Backend
	mapper  *schema.Mapper
	idmap   *tracking.IdentityMap
	tracker *tracking.ChangeTracker
	cfg     Config
	log     *logger.Logger

	current *Transaction
}

var _ tx.Manager = (*UnitOfWork)(nil)

// New creates a unit of work over backend.
func New(backend tx.Backend, mapper *schema.Mapper, cfg Config) *UnitOfWork {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	idmap := tracking.NewIdentityMap(mapper)
	return &UnitOfWork{
		id:      id.New(),
		backend: backend,
		mapper:  mapper,
		idmap:   idmap,
		tracker: tracking.NewChangeTracker(idmap),
		cfg:     cfg,
		log:     cfg.Logger.WithComponent("uow"),
	}
}

// ID identifies the unit of work in logs and journal entries.
func (u *UnitOfWork) ID() id.ID { return u.id }

// Mapper returns the schema mapper.
func (u *UnitOfWork) Mapper() *schema.Mapper { return u.mapper }

// IdentityMap exposes the identity map.
func (u *UnitOfWork) IdentityMap() *tracking.IdentityMap { return u.idmap }

// Tracker exposes the change tracker.
func (u *UnitOfWork) Tracker() *tracking.ChangeTracker { return u.tracker }

// Attach tracks an entity that already exists in storage, as Unchanged.
func (u *UnitOfWork) Attach(entity any) error {
	_, err := u.idmap.Attach(entity, nil)
	return err
}

// Update tracks an entity that came from outside the unit of work (a request body, a
// cache) as Modified: every column is written, predicated on the token the entity
// carries. Use it when no row was read in this unit of work.
func (u *UnitOfWork) Update(entity any) error {
	et, err := u.mapper.Describe(entity)
	if err != nil {
		return err
	}
	origin := schema.Values{}
	if tf, ok := et.Token(); ok {
		token, err := et.TokenOf(entity)
		if err != nil {
			return err
		}
		origin[tf.Column] = token
	}
	_, err = u.idmap.Attach(entity, origin)
	return err
}

// Add tracks entity for insertion.
func (u *UnitOfWork) Add(entity any) error {
	return u.tracker.MarkAdded(entity)
}

// Remove marks a tracked entity for deletion.
func (u *UnitOfWork) Remove(entity any) error {
	return u.tracker.MarkDeleted(entity)
}

// Detach stops tracking entity. Untracked entities are ignored.
func (u *UnitOfWork) Detach(entity any) {
	if entry, ok := u.idmap.Entry(entity); ok {
		u.idmap.Detach(entry.Identity())
	}
}

// StateOf reports the tracking state of entity.
func (u *UnitOfWork) StateOf(entity any) tracking.State {
	return u.tracker.StateOf(entity)
}

// SetOriginalToken makes the next write of entity conditional on token instead of the
// token read from storage.
func (u *UnitOfWork) SetOriginalToken(entity, token any) error {
	entry, err := u.entry(entity)
	if err != nil {
		return err
	}
	entry.SetOriginalToken(token)
	return nil
}

// Original returns the snapshot entity is diffed against.
func (u *UnitOfWork) Original(entity any) (schema.Values, error) {
	entry, err := u.entry(entity)
	if err != nil {
		return nil, err
	}
	return entry.Original(), nil
}

// TrackedEntry describes one tracked entity.
type TrackedEntry struct {
	Identity tracking.Identity
	State    tracking.State
	Entity   any
}

// Entries lists tracked entities in attach order with their current state.
func (u *UnitOfWork) Entries() []TrackedEntry {
	entries := u.idmap.Entries()
	out := make([]TrackedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TrackedEntry{
			Identity: e.Identity(),
			State:    u.tracker.StateOfEntry(e),
			Entity:   e.Entity(),
		})
	}
	return out
}

// HasChanges reports whether a commit would write anything.
func (u *UnitOfWork) HasChanges() bool {
	return u.tracker.HasChanges()
}

// Clear detaches every entity. It does not touch an active transaction.
func (u *UnitOfWork) Clear() {
	u.idmap.Clear()
}

func (u *UnitOfWork) entry(entity any) (*tracking.Entry, error) {
	entry, ok := u.idmap.Entry(entity)
	if ok {
		return entry, nil
	}
	ident, _, err := u.idmap.IdentityOf(entity)
	if err != nil {
		return nil, err
	}
	return nil, apperror.NewNotAttached(ident.Type, ident.Key)
}

// scope enriches ctx for logging with the unit and transaction ids.
func (u *UnitOfWork) scope(ctx context.Context) context.Context {
	sc := &appctx.UnitScope{UnitID: id.Short(u.id)}
	if t := u.current; t != nil {
		sc.TransactionID = id.Short(t.id)
		sc.Isolation = t.level.String()
	}
	return appctx.WithUnitScope(ctx, sc)
}

func (u *UnitOfWork) logger(ctx context.Context) *logger.Logger {
	return u.log.WithContext(u.scope(ctx))
}
