package domain

import "time"

// PaymentMethod is how an expense was paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentOther    PaymentMethod = "other"
)

// Expense is a single outgoing payment recorded against a store.
type Expense struct {
	ID            string        `json:"id"`
	StoreID       string        `json:"storeId"`
	CategoryID    string        `json:"categoryId,omitempty"`
	Description   string        `json:"description"`
	Amount        float64       `json:"amount"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Date          time.Time     `json:"date"`
	Notes         string        `json:"notes,omitempty"`
	CreatedBy     string        `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// ExpensePatch holds the fields of a partial update. Nil fields are left unchanged.
type ExpensePatch struct {
	CategoryID    *string
	Description   *string
	Amount        *float64
	PaymentMethod *PaymentMethod
	Date          *time.Time
	Notes         *string
}

// ExpenseFilter selects expenses. An empty StoreIDs with AllStores unset matches nothing.
type ExpenseFilter struct {
	StoreIDs   []string
	AllStores  bool
	CategoryID string
	From       *time.Time // inclusive
	To         *time.Time // exclusive
	Limit      int
	Offset     int
}

// ExpenseCategory groups expenses within a store.
type ExpenseCategory struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"storeId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CategoryFilter selects categories, with the same store semantics as ExpenseFilter.
type CategoryFilter struct {
	StoreIDs  []string
	AllStores bool
}

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ExpenseReport aggregates a store's expenses over a period.
type ExpenseReport struct {
	StoreID         string               `json:"storeId"`
	Period          Period               `json:"period"`
	Total           float64              `json:"total"`
	Count           int                  `json:"count"`
	Average         float64              `json:"average"`
	ByCategory      []CategoryTotal      `json:"byCategory"`
	ByPaymentMethod []PaymentMethodTotal `json:"byPaymentMethod"`
}

// CategoryTotal is one row of the per-category breakdown.
type CategoryTotal struct {
	CategoryID string  `json:"categoryId"`
	Name       string  `json:"name"`
	Total      float64 `json:"total"`
	Count      int     `json:"count"`
}

// PaymentMethodTotal is one row of the per-payment-method breakdown.
type PaymentMethodTotal struct {
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Total         float64       `json:"total"`
	Count         int           `json:"count"`
}

// PeriodComparison compares two reports for the same store.
type PeriodComparison struct {
	StoreID       string        `json:"storeId"`
	Current       ExpenseReport `json:"current"`
	Previous      ExpenseReport `json:"previous"`
	Difference    float64       `json:"difference"`
	PercentChange *float64      `json:"percentChange"`
}
