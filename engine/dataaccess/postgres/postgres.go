package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/powelleric/cromwell/engine/core"
	"github.com/powelleric/cromwell/engine/dataaccess"
	"github.com/powelleric/cromwell/engine/execkey"
	"github.com/powelleric/cromwell/engine/execstore"
	"github.com/powelleric/cromwell/engine/symbol"
	"github.com/powelleric/cromwell/engine/wfdesc"
)

// DB is the minimal pgx-compatible surface Store depends on, satisfied by
// *pgxpool.Pool in production and by a pgxmock/fake in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements dataaccess.DataAccess against Postgres.
type Store struct {
	db DB
}

// New builds a Store over an already-connected pool.
func New(db DB) *Store {
	return &Store{db: db}
}

var _ dataaccess.DataAccess = (*Store)(nil)

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	err = fn(tx)
	return err
}

func (s *Store) CreateWorkflow(
	ctx context.Context,
	descriptor *wfdesc.WorkflowDescriptor,
	symbols []*symbol.Symbol,
	calls []execkey.ExecutionKey,
	backendName string,
) error {
	optionsJSON, err := json.Marshal(descriptor.Options)
	if err != nil {
		return fmt.Errorf("marshaling workflow options: %w", err)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		insertWF := squirrel.Insert("workflows").
			Columns("workflow_id", "state", "backend_name", "options").
			Values(descriptor.ID.String(), "Submitted", backendName, optionsJSON).
			PlaceholderFormat(squirrel.Dollar)
		if err := exec(ctx, tx, insertWF); err != nil {
			return fmt.Errorf("inserting workflow: %w", err)
		}
		if err := insertCallRows(ctx, tx, descriptor.ID, calls, backendName); err != nil {
			return err
		}
		return insertSymbolRows(ctx, tx, descriptor.ID, symbols)
	})
}

func insertCallRows(ctx context.Context, tx pgx.Tx, workflowID core.ID, calls []execkey.ExecutionKey, _ string) error {
	for _, key := range calls {
		ib := squirrel.Insert("execution_status").
			Columns("workflow_id", "key_unique", "fqn", "kind", "shard_index", "status").
			Values(workflowID.String(), key.Unique(), key.Scope.FullyQualifiedName, string(key.Kind), key.Index, string(execstore.NotStarted)).
			PlaceholderFormat(squirrel.Dollar)
		if err := exec(ctx, tx, ib); err != nil {
			return fmt.Errorf("inserting execution status for %s: %w", key.String(), err)
		}
	}
	return nil
}

func insertSymbolRows(ctx context.Context, tx pgx.Tx, workflowID core.ID, symbols []*symbol.Symbol) error {
	for _, sym := range symbols {
		if err := upsertSymbol(ctx, tx, workflowID, sym); err != nil {
			return err
		}
	}
	return nil
}

func upsertSymbol(ctx context.Context, tx pgx.Tx, workflowID core.ID, sym *symbol.Symbol) error {
	valueJSON, err := encodeValue(sym.Value)
	if err != nil {
		return fmt.Errorf("encoding symbol %s.%s: %w", sym.Scope, sym.Name, err)
	}
	ib := squirrel.Insert("symbols").
		Columns("workflow_id", "scope", "name", "shard_index", "is_input", "value_type", "value_json", "expression").
		Values(workflowID.String(), sym.Scope, sym.Name, sym.Index, sym.IsInput, string(sym.Type), valueJSON, sym.Expression).
		PlaceholderFormat(squirrel.Dollar)
	if err := exec(ctx, tx, ib); err != nil {
		return fmt.Errorf("inserting symbol %s.%s: %w", sym.Scope, sym.Name, err)
	}
	return nil
}

type statusRow struct {
	KeyUnique  string `db:"key_unique"`
	FQN        string `db:"fqn"`
	Kind       string `db:"kind"`
	ShardIndex *int   `db:"shard_index"`
	Status     string `db:"status"`
	ReturnCode *int   `db:"return_code"`
}

func (r statusRow) toStoredStatus() dataaccess.StoredStatus {
	return dataaccess.StoredStatus{
		Key: execkey.ExecutionKey{
			Kind:  execkey.Kind(r.Kind),
			Scope: execkey.NewScope(nil, r.FQN, false),
			Index: r.ShardIndex,
		},
		Status: execstore.CallStatus{Status: execstore.Status(r.Status), ReturnCode: r.ReturnCode},
	}
}

func (s *Store) GetExecutionStatuses(
	ctx context.Context,
	workflowID core.ID,
) (map[string]dataaccess.StoredStatus, error) {
	sb := squirrel.Select("key_unique", "fqn", "kind", "shard_index", "status", "return_code").
		From("execution_status").
		Where(squirrel.Eq{"workflow_id": workflowID.String()}).
		PlaceholderFormat(squirrel.Dollar)
	sqlStr, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building execution status query: %w", err)
	}
	var rows []statusRow
	if err := pgxscan.Select(ctx, s.db, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("scanning execution statuses: %w", err)
	}
	out := make(map[string]dataaccess.StoredStatus, len(rows))
	for _, r := range rows {
		out[r.KeyUnique] = r.toStoredStatus()
	}
	return out, nil
}

func (s *Store) SetStatus(
	ctx context.Context,
	workflowID core.ID,
	keys []execkey.ExecutionKey,
	status execstore.CallStatus,
) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, key := range keys {
			ub := squirrel.Update("execution_status").
				Set("status", string(status.Status)).
				Set("return_code", status.ReturnCode).
				Set("updated_at", squirrel.Expr("now()")).
				Where(squirrel.Eq{"workflow_id": workflowID.String(), "key_unique": key.Unique()}).
				PlaceholderFormat(squirrel.Dollar)
			if err := exec(ctx, tx, ub); err != nil {
				return fmt.Errorf("updating status for %s: %w", key.String(), err)
			}
		}
		return nil
	})
}

func (s *Store) SetOutputs(
	ctx context.Context,
	workflowID core.ID,
	key execkey.ExecutionKey,
	outputs []*symbol.Symbol,
) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, out := range outputs {
			if out.Index == nil {
				out.Index = key.Index
			}
			if err := upsertSymbol(ctx, tx, workflowID, out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) InsertCalls(
	ctx context.Context,
	workflowID core.ID,
	keys []execkey.ExecutionKey,
	backendName string,
) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return insertCallRows(ctx, tx, workflowID, keys, backendName)
	})
}

func (s *Store) UpdateWorkflowState(ctx context.Context, workflowID core.ID, state string) error {
	ub := squirrel.Update("workflows").
		Set("state", state).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"workflow_id": workflowID.String()}).
		PlaceholderFormat(squirrel.Dollar)
	return exec(ctx, s.db, ub)
}

type symbolRow struct {
	Scope      string `db:"scope"`
	Name       string `db:"name"`
	ShardIndex *int   `db:"shard_index"`
	IsInput    bool   `db:"is_input"`
	ValueType  string `db:"value_type"`
	ValueJSON  []byte `db:"value_json"`
	Expression string `db:"expression"`
}

func (r symbolRow) toSymbol() (*symbol.Symbol, error) {
	value, err := decodeValue(r.ValueJSON)
	if err != nil {
		return nil, err
	}
	return &symbol.Symbol{
		Scope:      r.Scope,
		Name:       r.Name,
		Index:      r.ShardIndex,
		IsInput:    r.IsInput,
		Type:       core.Type(r.ValueType),
		Expression: r.Expression,
		Value:      value,
	}, nil
}

func (s *Store) GetInputs(
	ctx context.Context,
	workflowID core.ID,
	call execkey.ExecutionKey,
) ([]*symbol.Symbol, error) {
	sb := squirrel.Select("scope", "name", "shard_index", "is_input", "value_type", "value_json", "expression").
		From("symbols").
		Where(squirrel.Eq{
			"workflow_id": workflowID.String(),
			"scope":       call.Scope.FullyQualifiedName,
			"is_input":    true,
		}).
		PlaceholderFormat(squirrel.Dollar)
	return s.scanSymbols(ctx, sb)
}

func (s *Store) GetOutputs(
	ctx context.Context,
	workflowID core.ID,
	key execkey.ExecutionKey,
) ([]*symbol.Symbol, error) {
	sb := squirrel.Select("scope", "name", "shard_index", "is_input", "value_type", "value_json", "expression").
		From("symbols").
		Where(squirrel.Eq{
			"workflow_id": workflowID.String(),
			"scope":       key.Scope.FullyQualifiedName,
			"shard_index": key.Index,
			"is_input":    false,
		}).
		PlaceholderFormat(squirrel.Dollar)
	return s.scanSymbols(ctx, sb)
}

func (s *Store) GetFullyQualifiedName(
	ctx context.Context,
	workflowID core.ID,
	fqn string,
) ([]*symbol.Symbol, error) {
	sb := squirrel.Select("scope", "name", "shard_index", "is_input", "value_type", "value_json", "expression").
		From("symbols").
		Where(squirrel.Eq{"workflow_id": workflowID.String()}).
		Where("scope || '.' || name = ?", fqn).
		PlaceholderFormat(squirrel.Dollar)
	return s.scanSymbols(ctx, sb)
}

func (s *Store) scanSymbols(ctx context.Context, sb squirrel.SelectBuilder) ([]*symbol.Symbol, error) {
	sqlStr, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building symbol query: %w", err)
	}
	var rows []symbolRow
	if err := pgxscan.Select(ctx, s.db, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("scanning symbols: %w", err)
	}
	out := make([]*symbol.Symbol, 0, len(rows))
	for _, r := range rows {
		sym, err := r.toSymbol()
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

func (s *Store) UpdateWorkflowOptions(ctx context.Context, workflowID core.ID, options wfdesc.Options) error {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshaling workflow options: %w", err)
	}
	ub := squirrel.Update("workflows").
		Set("options", optionsJSON).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"workflow_id": workflowID.String()}).
		PlaceholderFormat(squirrel.Dollar)
	return exec(ctx, s.db, ub)
}

// execer is the subset of DB/pgx.Tx that squirrel builders need to run
// against directly.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func exec(ctx context.Context, runner execer, b squirrel.Sqlizer) error {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building statement: %w", err)
	}
	_, err = runner.Exec(ctx, sqlStr, args...)
	return err
}
