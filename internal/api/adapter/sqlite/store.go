package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"posapi/internal/domain"
	"posapi/internal/platform/telemetry"
)

// Timestamps are stored as fixed-width UTC text so that string comparison
// orders them chronologically.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// Store persists expenses and expense categories in SQLite.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Open creates (or opens) the database at path and applies the schema.
// Parent directories are created if needed. The metrics parameter is
// optional; pass nil to skip metric recording.
func Open(path string, m *telemetry.Metrics) (*Store, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY and
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger, metrics: m}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS expense_categories (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE (store_id, name_key)
		);

		CREATE INDEX IF NOT EXISTS idx_expense_categories_store
			ON expense_categories(store_id);

		CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			category_id TEXT REFERENCES expense_categories(id) ON DELETE SET NULL,
			description TEXT NOT NULL,
			amount REAL NOT NULL,
			payment_method TEXT NOT NULL,
			expense_date TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_expenses_store_date
			ON expenses(store_id, expense_date);

		CREATE INDEX IF NOT EXISTS idx_expenses_category
			ON expenses(category_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateExpense inserts e. ID and timestamps must already be set.
func (s *Store) CreateExpense(ctx context.Context, e *domain.Expense) (err error) {
	defer s.observe(ctx, "create_expense", time.Now(), &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, store_id, category_id, description, amount, payment_method,
			expense_date, notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StoreID, nullString(e.CategoryID), e.Description, e.Amount, string(e.PaymentMethod),
		formatTS(e.Date), e.Notes, e.CreatedBy, formatTS(e.CreatedAt), formatTS(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting expense: %w", mapErr(err))
	}
	return nil
}

// GetExpense returns the expense with id, or domain.ErrNotFound.
func (s *Store) GetExpense(ctx context.Context, id string) (e domain.Expense, err error) {
	defer s.observe(ctx, "get_expense", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err = scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Expense{}, fmt.Errorf("expense %q: %w", id, domain.ErrNotFound)
	}
	return e, err
}

// UpdateExpense applies patch to the expense with id and returns the result.
func (s *Store) UpdateExpense(ctx context.Context, id string, patch domain.ExpensePatch, updatedAt time.Time) (e domain.Expense, err error) {
	defer s.observe(ctx, "update_expense", time.Now(), &err)

	sets := []string{"updated_at = ?"}
	args := []any{formatTS(updatedAt)}
	if patch.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, nullString(*patch.CategoryID))
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Amount != nil {
		sets = append(sets, "amount = ?")
		args = append(args, *patch.Amount)
	}
	if patch.PaymentMethod != nil {
		sets = append(sets, "payment_method = ?")
		args = append(args, string(*patch.PaymentMethod))
	}
	if patch.Date != nil {
		sets = append(sets, "expense_date = ?")
		args = append(args, formatTS(*patch.Date))
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	args = append(args, id)

	row := s.db.QueryRowContext(ctx,
		`UPDATE expenses SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING `+expenseColumns,
		args...,
	)
	e, err = scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Expense{}, fmt.Errorf("expense %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Expense{}, mapErr(err)
	}
	return e, nil
}

// DeleteExpense removes the expense with id.
func (s *Store) DeleteExpense(ctx context.Context, id string) (err error) {
	defer s.observe(ctx, "delete_expense", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListExpenses returns expenses matching f, newest first. A zero Limit
// returns every match.
func (s *Store) ListExpenses(ctx context.Context, f domain.ExpenseFilter) (out []domain.Expense, err error) {
	defer s.observe(ctx, "list_expenses", time.Now(), &err)

	where, args, ok := storeClause(f.StoreIDs, f.AllStores)
	if !ok {
		return []domain.Expense{}, nil
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.From != nil {
		where = append(where, "expense_date >= ?")
		args = append(args, formatTS(*f.From))
	}
	if f.To != nil {
		where = append(where, "expense_date < ?")
		args = append(args, formatTS(*f.To))
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY expense_date DESC, created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	out = []domain.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expenses: %w", err)
	}
	return out, nil
}

// CreateCategory inserts c. Names are unique per store, ignoring case.
func (s *Store) CreateCategory(ctx context.Context, c *domain.ExpenseCategory) (err error) {
	defer s.observe(ctx, "create_category", time.Now(), &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expense_categories (id, store_id, name, name_key, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.StoreID, c.Name, strings.ToLower(c.Name), c.Description, formatTS(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting category: %w", mapErr(err))
	}
	return nil
}

// GetCategory returns the category with id, or domain.ErrNotFound.
func (s *Store) GetCategory(ctx context.Context, id string) (c domain.ExpenseCategory, err error) {
	defer s.observe(ctx, "get_category", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM expense_categories WHERE id = ?`, id)
	c, err = scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExpenseCategory{}, fmt.Errorf("category %q: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// ListCategories returns categories matching f ordered by name.
func (s *Store) ListCategories(ctx context.Context, f domain.CategoryFilter) (out []domain.ExpenseCategory, err error) {
	defer s.observe(ctx, "list_categories", time.Now(), &err)

	where, args, ok := storeClause(f.StoreIDs, f.AllStores)
	if !ok {
		return []domain.ExpenseCategory{}, nil
	}
	query := `SELECT ` + categoryColumns + ` FROM expense_categories`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name_key, store_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	out = []domain.ExpenseCategory{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating categories: %w", err)
	}
	return out, nil
}

func (s *Store) observe(ctx context.Context, op string, start time.Time, errp *error) {
	result := "success"
	if *errp != nil {
		result = "error"
		if errors.Is(*errp, domain.ErrNotFound) {
			result = "not_found"
		}
	}
	s.metrics.RecordStoreOperation(ctx, op, result, time.Since(start).Seconds())
}

// storeClause restricts a query to storeIDs. ok is false when the filter
// can match nothing.
func storeClause(storeIDs []string, all bool) (where []string, args []any, ok bool) {
	if all {
		return nil, nil, true
	}
	if len(storeIDs) == 0 {
		return nil, nil, false
	}
	placeholders := make([]string, len(storeIDs))
	args = make([]any, len(storeIDs))
	for i, id := range storeIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	return []string{"store_id IN (" + strings.Join(placeholders, ", ") + ")"}, args, true
}

const expenseColumns = `id, store_id, category_id, description, amount, payment_method,
	expense_date, notes, created_by, created_at, updated_at`

const categoryColumns = `id, store_id, name, description, created_at`

func scanExpense(scanner interface{ Scan(dest ...any) error }) (domain.Expense, error) {
	var e domain.Expense
	var categoryID sql.NullString
	var method, date, created, updated string

	if err := scanner.Scan(
		&e.ID, &e.StoreID, &categoryID, &e.Description, &e.Amount, &method,
		&date, &e.Notes, &e.CreatedBy, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scanning expense: %w", err)
	}

	e.CategoryID = categoryID.String
	e.PaymentMethod = domain.PaymentMethod(method)
	var err error
	if e.Date, err = parseTS(date); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTS(created); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTS(updated); err != nil {
		return e, err
	}
	return e, nil
}

func scanCategory(scanner interface{ Scan(dest ...any) error }) (domain.ExpenseCategory, error) {
	var c domain.ExpenseCategory
	var created string
	if err := scanner.Scan(&c.ID, &c.StoreID, &c.Name, &c.Description, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scanning category: %w", err)
	}
	var err error
	c.CreatedAt, err = parseTS(created)
	return c, err
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapErr turns constraint violations into domain errors.
func mapErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", domain.ErrConflict, "already exists")
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", domain.ErrValidation, "referenced record does not exist")
	default:
		return err
	}
}
