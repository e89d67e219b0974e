package routes

import (
	"net/http"

	"posapi/internal/api/handler"
	"posapi/internal/api/middleware"
)

// ExpenseTable is the /api/expenses resource. Report and write routes need a
// store; list, update and delete fall back to the principal's stores.
func ExpenseTable(h *handler.ExpenseHandler) Table {
	return Table{
		Prefix: "/api/expenses",
		Routes: []Route{
			{Method: http.MethodGet, Pattern: "/reports", Gate: middleware.GateRequired, Name: "getExpenseReport", Handler: h.Report},
			{Method: http.MethodGet, Pattern: "/reports/compare", Gate: middleware.GateRequired, Name: "compareExpensePeriods", Handler: h.Compare},
			{Method: http.MethodGet, Pattern: "/categories", Gate: middleware.GateOptional, Name: "getExpenseCategories", Handler: h.ListCategories},
			{Method: http.MethodPost, Pattern: "/categories", Gate: middleware.GateRequired, Name: "createExpenseCategory", Handler: h.CreateCategory},
			{Method: http.MethodGet, Pattern: "/", Gate: middleware.GateOptional, Name: "getExpenses", Handler: h.List},
			{Method: http.MethodPost, Pattern: "/", Gate: middleware.GateRequired, Name: "createExpense", Handler: h.Create},
			{Method: http.MethodPatch, Pattern: "/{id}", Gate: middleware.GateOptional, Name: "updateExpense", Handler: h.Update},
			{Method: http.MethodDelete, Pattern: "/{id}", Gate: middleware.GateOptional, Name: "deleteExpense", Handler: h.Delete},
		},
	}
}
