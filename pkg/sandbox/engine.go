// Package sandbox runs SQL scripts inside disposable database instances.
//
// A Manager owns one Engine (SQLite, PostgreSQL or MySQL). Each Load call
// allocates a fresh, isolated instance and replays a dump into it; Execute
// runs a script under a wall clock budget; Snapshot captures schema and rows.
// Instances are never shared and must be closed by their owner.
package sandbox

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/sqlclassroom-api/pkg/retry"
)

// Dialect names a SQL engine family.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Engine allocates isolated database instances.
type Engine interface {
	Dialect() Dialect
	// Open creates an empty instance. id is unique per instance.
	Open(ctx context.Context, id string) (Backend, error)
	// Classify maps a driver error onto an error kind.
	Classify(err error) ErrorKind
	Close() error
}

// Backend is a single live instance.
type Backend interface {
	// LoadScript replays a trusted multi statement script.
	LoadScript(ctx context.Context, script string) error
	// Exec runs one statement. At most maxRows rows are kept when maxRows > 0.
	Exec(ctx context.Context, stmt Statement, maxRows int) (*StatementResult, error)
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	Rows(ctx context.Context, table string, columns []Column) ([][]Value, error)
	// Restrict toggles engine level enforcement for untrusted statements.
	Restrict(on bool)
	Close(ctx context.Context) error
}

// StatementResult is the outcome of a single statement.
type StatementResult struct {
	Columns      []string
	Rows         [][]Value
	HasResultSet bool
	RowsAffected int64
	Truncated    bool
}

// Observer receives sandbox lifecycle events. It is satisfied by the metrics
// service.
type Observer interface {
	SandboxInstances(active int64)
	SandboxFailure(kind string)
}

type nopObserver struct{}

func (nopObserver) SandboxInstances(int64) {}
func (nopObserver) SandboxFailure(string)  {}

// Options tune a Manager.
type Options struct {
	// Timeout bounds each untrusted Execute call.
	Timeout time.Duration
	// LoadTimeout bounds dump loading and trusted scripts.
	LoadTimeout time.Duration
	// SnapshotTimeout bounds schema and row capture.
	SnapshotTimeout time.Duration
	MaxStatements   int
	MaxScriptBytes  int
	MaxResultRows   int
	// MaxInstances caps live instances; Load blocks while the cap is reached.
	MaxInstances int64
	Alloc        retry.Settings
	Logger       *zap.Logger
	Observer     Observer
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.SnapshotTimeout <= 0 {
		o.SnapshotTimeout = 30 * time.Second
	}
	if o.MaxInstances <= 0 {
		o.MaxInstances = 32
	}
	if o.Alloc.Verify() != nil {
		o.Alloc = retry.DefaultSettings()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// ExecOptions qualify a single Execute call.
type ExecOptions struct {
	// Trusted scripts (etalon solutions) bypass the guard, engine restrictions
	// and the untrusted timeout.
	Trusted bool
	// Restrictions are task specific forbidden keywords.
	Restrictions []string
}

// ExecutionResult is the outcome of a script. Columns and Rows come from the
// last statement that produced a result set.
type ExecutionResult struct {
	Columns      []string      `json:"columns"`
	Rows         []Row         `json:"rows"`
	HasResultSet bool          `json:"-"`
	RowsAffected int64         `json:"rows_affected"`
	Statements   int           `json:"statements"`
	Truncated    bool          `json:"truncated"`
	Duration     time.Duration `json:"-"`
}

// Manager allocates instances from an Engine and runs scripts in them.
type Manager struct {
	engine Engine
	opts   Options
	logger *zap.Logger

	slots  *semaphore.Weighted
	active atomic.Int64
}

func NewManager(engine Engine, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		engine: engine,
		opts:   opts,
		logger: opts.Logger.With(zap.String("dialect", string(engine.Dialect()))),
		slots:  semaphore.NewWeighted(opts.MaxInstances),
	}
}

func (m *Manager) Dialect() Dialect { return m.engine.Dialect() }

// Active returns the number of instances not yet torn down.
func (m *Manager) Active() int64 { return m.active.Load() }

// Close releases the engine. Instances must be closed beforehand.
func (m *Manager) Close() error {
	if n := m.Active(); n > 0 {
		m.logger.Warn("closing sandbox manager with live instances", zap.Int64("active", n))
	}
	return m.engine.Close()
}

// Instance is one isolated database. It is owned by a single evaluation and is
// safe to Close more than once.
type Instance struct {
	ID string

	backend   Backend
	manager   *Manager
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Close tears the instance down and frees its slot.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		i.closeErr = i.backend.Close(ctx)
		if i.closeErr != nil {
			i.manager.logger.Warn("sandbox teardown failed", zap.String("instance", i.ID), zap.Error(i.closeErr))
		}
		i.manager.slots.Release(1)
		i.manager.opts.Observer.SandboxInstances(i.manager.active.Add(-1))
	})
	return i.closeErr
}

// Closed reports whether the instance has been torn down.
func (i *Instance) Closed() bool { return i.closed.Load() }

// Load allocates a fresh instance and replays dump into it. A failed load
// tears the partial instance down before returning.
func (m *Manager) Load(ctx context.Context, dump []byte) (*Instance, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "wait for sandbox slot")
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	var backend Backend
	err := retry.Do(ctx, m.opts.Alloc, func(ctx context.Context, attempt int) error {
		b, err := m.engine.Open(ctx, id)
		if err != nil {
			m.logger.Warn("sandbox allocation failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		backend = b
		return nil
	})
	if err != nil {
		m.slots.Release(1)
		m.opts.Observer.SandboxFailure(string(ErrorKindDumpLoad))
		return nil, newError(ErrorKindDumpLoad, -1, "could not allocate sandbox instance", errors.Mark(err, ErrAllocation))
	}

	inst := &Instance{ID: id, backend: backend, manager: m}
	m.opts.Observer.SandboxInstances(m.active.Add(1))

	loadCtx, cancel := context.WithTimeout(ctx, m.opts.LoadTimeout)
	defer cancel()
	if err := backend.LoadScript(loadCtx, string(dump)); err != nil {
		_ = inst.Close()
		m.opts.Observer.SandboxFailure(string(ErrorKindDumpLoad))
		return nil, newError(ErrorKindDumpLoad, -1, "dump failed to load: "+firstLine(err.Error()), err)
	}
	m.logger.Debug("sandbox instance loaded", zap.String("instance", id), zap.Int("dump_bytes", len(dump)))
	return inst, nil
}

// Execute runs script inside inst. Statements run in order and the first
// failure aborts the script. When the time budget is exceeded the instance is
// torn down and an execution_timeout error is returned.
func (m *Manager) Execute(ctx context.Context, inst *Instance, script string, eo ExecOptions) (*ExecutionResult, error) {
	if inst.Closed() {
		return nil, ErrInstanceClosed
	}
	if !eo.Trusted && m.opts.MaxScriptBytes > 0 && len(script) > m.opts.MaxScriptBytes {
		return nil, m.fail(newError(ErrorKindForbidden, -1, "script exceeds the maximum allowed size", nil))
	}

	stmts := Split(m.engine.Dialect(), script)
	if !eo.Trusted {
		if m.opts.MaxStatements > 0 && len(stmts) > m.opts.MaxStatements {
			return nil, m.fail(newError(ErrorKindForbidden, -1, "script has too many statements", nil))
		}
		if err := Guard(m.engine.Dialect(), stmts, eo.Restrictions); err != nil {
			return nil, m.fail(err)
		}
	}

	budget := m.opts.Timeout
	if eo.Trusted {
		budget = m.opts.LoadTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	inst.backend.Restrict(!eo.Trusted)
	defer inst.backend.Restrict(false)

	result := &ExecutionResult{Statements: len(stmts), Rows: []Row{}, Columns: []string{}}
	start := time.Now()
	for _, stmt := range stmts {
		res, err := inst.backend.Exec(execCtx, stmt, m.opts.MaxResultRows)
		if err == nil && execCtx.Err() == nil {
			result.RowsAffected += res.RowsAffected
			if res.HasResultSet {
				result.HasResultSet = true
				result.Truncated = res.Truncated
				result.Columns, result.Rows = toRows(res.Columns, res.Rows)
			}
			continue
		}

		if ctxErr := execCtx.Err(); ctxErr != nil {
			_ = inst.Close()
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "execution abandoned")
			}
			m.logger.Info("sandbox execution timed out", zap.String("instance", inst.ID), zap.Int("statement", stmt.Index), zap.Duration("budget", budget))
			return nil, m.fail(newError(ErrorKindTimeout, stmt.Index, "execution exceeded the time limit", ctxErr))
		}
		kind := m.engine.Classify(err)
		return nil, m.fail(newError(kind, stmt.Index, firstLine(err.Error()), err))
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (m *Manager) fail(err error) error {
	if kind, ok := KindOf(err); ok {
		m.opts.Observer.SandboxFailure(string(kind))
	}
	return err
}

// toRows keys positional values by column name. Repeated names get a numeric
// suffix so no value is lost.
func toRows(columns []string, values [][]Value) ([]string, []Row) {
	names := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		name := c
		for n := 2; ; n++ {
			if _, taken := seen[name]; !taken {
				break
			}
			name = c + "_" + strconv.Itoa(n)
		}
		seen[name] = struct{}{}
		names[i] = name
	}

	rows := make([]Row, 0, len(values))
	for _, vals := range values {
		row := make(Row, len(names))
		for i, name := range names {
			if i < len(vals) {
				row[name] = vals[i]
			}
		}
		rows = append(rows, row)
	}
	return names, rows
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
