package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens dsn and runs migrations. ":memory:" is supported;
// the pool is limited to one connection so every query sees the same
// database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePlan stores plan and its resource rows in one transaction.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *domain.Plan) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.SavePlan(ctx, plan)
	})
}

func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return getPlan(ctx, s.db, id)
}

func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	return deletePlan(ctx, s.db, id)
}

func (s *SQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]PlanSummary, error) {
	return listPlans(ctx, s.db, opts)
}

func (s *SQLiteStore) ListPlanResources(ctx context.Context, planID string) ([]ResourceSummary, error) {
	return listPlanResources(ctx, s.db, planID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) SavePlan(ctx context.Context, plan *domain.Plan) error {
	return savePlan(ctx, s.tx, plan)
}

func (s *txSQLiteStore) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return getPlan(ctx, s.tx, id)
}

func (s *txSQLiteStore) DeletePlan(ctx context.Context, id string) error {
	return deletePlan(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]PlanSummary, error) {
	return listPlans(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListPlanResources(ctx context.Context, planID string) ([]ResourceSummary, error) {
	return listPlanResources(ctx, s.tx, planID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}

// =============================================================================
// Plan Operations
// =============================================================================

type planRow struct {
	ID            string `db:"id"`
	Project       string `db:"project"`
	Mode          string `db:"mode"`
	Flags         string `db:"flags"`
	ResourceCount int    `db:"resource_count"`
	Document      string `db:"document"`
	CreatedAt     string `db:"created_at"`
}

type resourceRow struct {
	PlanID   string `db:"plan_id"`
	Name     string `db:"name"`
	Position int    `db:"position"`
	Kind     string `db:"kind"`
	State    string `db:"state"`
	Image    string `db:"image"`
}

func savePlan(ctx context.Context, exec executor, plan *domain.Plan) error {
	if plan == nil || plan.ID == "" {
		return NewStoreError("SavePlan", "plan", "", "plan has no ID", ErrInvalidData)
	}
	document, err := json.Marshal(plan)
	if err != nil {
		return NewStoreError("SavePlan", "plan", plan.ID, "failed to serialize plan", ErrInvalidData)
	}

	query := `
		INSERT INTO plans (id, project, mode, flags, resource_count, document, created_at)
		VALUES (:id, :project, :mode, :flags, :resource_count, :document, :created_at)`

	row := planRow{
		ID:            plan.ID,
		Project:       plan.Project,
		Mode:          string(plan.Mode),
		Flags:         plan.Flags,
		ResourceCount: len(plan.Resources),
		Document:      string(document),
		CreatedAt:     plan.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: plans.id") {
			return NewStoreError("SavePlan", "plan", plan.ID, "plan with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SavePlan", "plan", plan.ID, err.Error(), err)
	}

	position := make(map[string]int, len(plan.Order))
	for i, name := range plan.Order {
		position[name] = i
	}
	resQuery := `
		INSERT INTO plan_resources (plan_id, name, position, kind, state, image)
		VALUES (:plan_id, :name, :position, :kind, :state, :image)`
	for _, r := range plan.Resources {
		pos, ok := position[r.Name]
		if !ok {
			pos = -1
		}
		res := resourceRow{
			PlanID:   plan.ID,
			Name:     r.Name,
			Position: pos,
			Kind:     string(r.Kind),
			State:    string(r.State),
			Image:    r.Image,
		}
		if _, err := exec.NamedExecContext(ctx, resQuery, res); err != nil {
			return NewStoreError("SavePlan", "plan", plan.ID, fmt.Sprintf("resource %s: %v", r.Name, err), err)
		}
	}
	return nil
}

func getPlan(ctx context.Context, exec executor, id string) (*domain.Plan, error) {
	row, err := getPlanRow(ctx, exec, "GetPlan", id)
	if err != nil {
		return nil, err
	}

	var plan domain.Plan
	if err := json.Unmarshal([]byte(row.Document), &plan); err != nil {
		return nil, NewStoreError("GetPlan", "plan", id, "failed to deserialize plan", ErrInvalidData)
	}
	return &plan, nil
}

func deletePlan(ctx context.Context, exec executor, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeletePlan", "plan", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeletePlan", "plan", id, "plan not found", ErrNotFound)
	}
	return nil
}

func listPlans(ctx context.Context, exec executor, opts ListOptions) ([]PlanSummary, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM plans ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	var rows []planRow
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListPlans", "plan", "", err.Error(), err)
	}

	plans := make([]PlanSummary, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return nil, NewStoreError("ListPlans", "plan", row.ID, "invalid created_at", ErrInvalidData)
		}
		plans = append(plans, PlanSummary{
			ID:        row.ID,
			Project:   row.Project,
			Mode:      domain.Mode(row.Mode),
			Flags:     row.Flags,
			Resources: row.ResourceCount,
			CreatedAt: createdAt,
		})
	}
	return plans, nil
}

func listPlanResources(ctx context.Context, exec executor, planID string) ([]ResourceSummary, error) {
	if _, err := getPlanRow(ctx, exec, "ListPlanResources", planID); err != nil {
		return nil, err
	}
	var rows []resourceRow
	query := `SELECT * FROM plan_resources WHERE plan_id = ? ORDER BY position, name`
	if err := exec.SelectContext(ctx, &rows, query, planID); err != nil {
		return nil, NewStoreError("ListPlanResources", "plan", planID, err.Error(), err)
	}

	out := make([]ResourceSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, ResourceSummary{
			Name:     row.Name,
			Position: row.Position,
			Kind:     domain.Kind(row.Kind),
			State:    domain.State(row.State),
			Image:    row.Image,
		})
	}
	return out, nil
}

func getPlanRow(ctx context.Context, exec executor, op, id string) (*planRow, error) {
	var row planRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM plans WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError(op, "plan", id, "plan not found", ErrNotFound)
		}
		return nil, NewStoreError(op, "plan", id, err.Error(), err)
	}
	return &row, nil
}
