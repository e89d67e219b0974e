// Package expense implements expense and expense-category business rules on
// top of a Store. Callers pass a Scope describing which stores the request
// may see; the service never widens it.
package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"posapi/internal/domain"
)

// Store is the persistence the service needs.
type Store interface {
	CreateExpense(ctx context.Context, e *domain.Expense) error
	GetExpense(ctx context.Context, id string) (domain.Expense, error)
	UpdateExpense(ctx context.Context, id string, patch domain.ExpensePatch, updatedAt time.Time) (domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	ListExpenses(ctx context.Context, f domain.ExpenseFilter) ([]domain.Expense, error)
	CreateCategory(ctx context.Context, c *domain.ExpenseCategory) error
	GetCategory(ctx context.Context, id string) (domain.ExpenseCategory, error)
	ListCategories(ctx context.Context, f domain.CategoryFilter) ([]domain.ExpenseCategory, error)
}

// Scope is the set of stores a caller may read or modify.
type Scope struct {
	StoreIDs []string
	All      bool
}

// Allows reports whether storeID is inside the scope.
func (s Scope) Allows(storeID string) bool {
	return s.All || slices.Contains(s.StoreIDs, storeID)
}

// NewExpense is the input to Create.
type NewExpense struct {
	StoreID       string
	CategoryID    string
	Description   string
	Amount        float64
	PaymentMethod domain.PaymentMethod
	Date          time.Time
	Notes         string
	CreatedBy     string
}

// NewCategory is the input to CreateCategory.
type NewCategory struct {
	StoreID     string
	Name        string
	Description string
}

// ListQuery narrows a List call within a scope.
type ListQuery struct {
	CategoryID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const uncategorizedName = "Uncategorized"

// Service holds the expense rules.
type Service struct {
	store  Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewService creates a service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "expense"),
	}
}

// Create records a new expense. A category, if given, must belong to the
// same store.
func (s *Service) Create(ctx context.Context, in NewExpense) (domain.Expense, error) {
	if err := validateAmount(in.Amount); err != nil {
		return domain.Expense{}, err
	}
	if err := validateMethod(in.PaymentMethod); err != nil {
		return domain.Expense{}, err
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return domain.Expense{}, fmt.Errorf("%w: description is required", domain.ErrValidation)
	}
	if in.CategoryID != "" {
		if err := s.checkCategory(ctx, in.CategoryID, in.StoreID); err != nil {
			return domain.Expense{}, err
		}
	}

	now := s.now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	e := domain.Expense{
		ID:            s.newID(),
		StoreID:       in.StoreID,
		CategoryID:    in.CategoryID,
		Description:   desc,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		Date:          date.UTC(),
		Notes:         strings.TrimSpace(in.Notes),
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateExpense(ctx, &e); err != nil {
		return domain.Expense{}, fmt.Errorf("creating expense: %w", err)
	}

	s.logger.Info("expense created",
		"expense_id", e.ID,
		"store_id", e.StoreID,
		"created_by", e.CreatedBy,
	)
	return e, nil
}

// List returns the expenses visible in scope.
func (s *Service) List(ctx context.Context, scope Scope, q ListQuery) ([]domain.Expense, error) {
	return s.store.ListExpenses(ctx, domain.ExpenseFilter{
		StoreIDs:   scope.StoreIDs,
		AllStores:  scope.All,
		CategoryID: q.CategoryID,
		From:       q.From,
		To:         q.To,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
}

// Update applies patch to an expense inside scope. Expenses outside scope
// are reported as not found.
func (s *Service) Update(ctx context.Context, scope Scope, id string, patch domain.ExpensePatch) (domain.Expense, error) {
	current, err := s.scopedExpense(ctx, scope, id)
	if err != nil {
		return domain.Expense{}, err
	}

	if patch.Amount != nil {
		if err := validateAmount(*patch.Amount); err != nil {
			return domain.Expense{}, err
		}
	}
	if patch.PaymentMethod != nil {
		if err := validateMethod(*patch.PaymentMethod); err != nil {
			return domain.Expense{}, err
		}
	}
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		if d == "" {
			return domain.Expense{}, fmt.Errorf("%w: description cannot be empty", domain.ErrValidation)
		}
		patch.Description = &d
	}
	if patch.CategoryID != nil && *patch.CategoryID != "" {
		if err := s.checkCategory(ctx, *patch.CategoryID, current.StoreID); err != nil {
			return domain.Expense{}, err
		}
	}
	if patch.Date != nil {
		d := patch.Date.UTC()
		patch.Date = &d
	}

	updated, err := s.store.UpdateExpense(ctx, id, patch, s.now())
	if err != nil {
		return domain.Expense{}, fmt.Errorf("updating expense: %w", err)
	}
	return updated, nil
}

// Delete removes an expense inside scope.
func (s *Service) Delete(ctx context.Context, scope Scope, id string) error {
	e, err := s.scopedExpense(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	s.logger.Info("expense deleted", "expense_id", id, "store_id", e.StoreID)
	return nil
}

// ListCategories returns the categories visible in scope.
func (s *Service) ListCategories(ctx context.Context, scope Scope) ([]domain.ExpenseCategory, error) {
	return s.store.ListCategories(ctx, domain.CategoryFilter{
		StoreIDs:  scope.StoreIDs,
		AllStores: scope.All,
	})
}

// CreateCategory adds a category to a store.
func (s *Service) CreateCategory(ctx context.Context, in NewCategory) (domain.ExpenseCategory, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.ExpenseCategory{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	c := domain.ExpenseCategory{
		ID:          s.newID(),
		StoreID:     in.StoreID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateCategory(ctx, &c); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ExpenseCategory{}, fmt.Errorf("%w: category %q already exists", domain.ErrConflict, name)
		}
		return domain.ExpenseCategory{}, fmt.Errorf("creating category: %w", err)
	}
	return c, nil
}

// Report aggregates a store's expenses over period.
func (s *Service) Report(ctx context.Context, storeID string, period domain.Period) (domain.ExpenseReport, error) {
	if !period.End.After(period.Start) {
		return domain.ExpenseReport{}, fmt.Errorf("%w: period end must be after start", domain.ErrBadRequest)
	}

	expenses, err := s.store.ListExpenses(ctx, domain.ExpenseFilter{
		StoreIDs: []string{storeID},
		From:     &period.Start,
		To:       &period.End,
	})
	if err != nil {
		return domain.ExpenseReport{}, fmt.Errorf("loading expenses: %w", err)
	}
	categories, err := s.store.ListCategories(ctx, domain.CategoryFilter{StoreIDs: []string{storeID}})
	if err != nil {
		return domain.ExpenseReport{}, fmt.Errorf("loading categories: %w", err)
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	return buildReport(storeID, period, expenses, names), nil
}

// Compare builds reports for two periods and the change between them.
func (s *Service) Compare(ctx context.Context, storeID string, current, previous domain.Period) (domain.PeriodComparison, error) {
	cur, err := s.Report(ctx, storeID, current)
	if err != nil {
		return domain.PeriodComparison{}, err
	}
	prev, err := s.Report(ctx, storeID, previous)
	if err != nil {
		return domain.PeriodComparison{}, err
	}

	cmp := domain.PeriodComparison{
		StoreID:    storeID,
		Current:    cur,
		Previous:   prev,
		Difference: round2(cur.Total - prev.Total),
	}
	if prev.Total != 0 {
		pct := round2((cur.Total - prev.Total) / prev.Total * 100)
		cmp.PercentChange = &pct
	}
	return cmp, nil
}

func (s *Service) scopedExpense(ctx context.Context, scope Scope, id string) (domain.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Expense{}, fmt.Errorf("%w: expense not found", domain.ErrNotFound)
		}
		return domain.Expense{}, fmt.Errorf("loading expense: %w", err)
	}
	if !scope.Allows(e.StoreID) {
		return domain.Expense{}, fmt.Errorf("%w: expense not found", domain.ErrNotFound)
	}
	return e, nil
}

func (s *Service) checkCategory(ctx context.Context, categoryID, storeID string) error {
	c, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: category not found", domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("loading category: %w", err)
	}
	if c.StoreID != storeID {
		return fmt.Errorf("%w: category belongs to another store", domain.ErrValidation)
	}
	return nil
}

func validateAmount(a float64) error {
	if a <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrValidation)
	}
	return nil
}

func validateMethod(m domain.PaymentMethod) error {
	switch m {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentOther:
		return nil
	}
	return fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, m)
}
