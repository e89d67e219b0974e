package middleware_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"posapi/internal/api"
	"posapi/internal/api/middleware"
	"posapi/internal/domain"
)

var (
	cashierA  = domain.Principal{ID: "cashier-1", Role: domain.RoleCashier, StoreIDs: []string{"A"}}
	managerAB = domain.Principal{ID: "manager-1", Role: domain.RoleManager, StoreIDs: []string{"A", "B"}}
	owner     = domain.Principal{ID: "owner-1", Role: domain.RoleOwner}
	superUser = domain.Principal{ID: "root", Role: domain.RoleSuperAdmin}
)

// gateResult is what the handler behind the gate observed.
type gateResult struct {
	called bool
	scope  api.StoreScope
	body   string
	status int
	code   string
}

// runGate serves a request through a chi router whose routes carry the gate
// in the given mode, with principal (if non-nil) already authenticated.
func runGate(t *testing.T, gate *middleware.Gate, mode middleware.GateMode, principal *domain.Principal, req *http.Request) gateResult {
	t.Helper()
	var res gateResult

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.called = true
		res.scope, _ = api.StoreScopeFromContext(r.Context())
		b, _ := io.ReadAll(r.Body)
		res.body = string(b)
		w.WriteHeader(http.StatusOK)
	})

	withPrincipal := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if principal != nil {
				r = r.WithContext(api.ContextWithPrincipal(r.Context(), *principal))
			}
			next.ServeHTTP(w, r)
		})
	}

	r := chi.NewRouter()
	pipeline := middleware.Chain(h, withPrincipal, gate.Middleware(mode))
	r.Handle("/api/expenses", pipeline)
	r.Handle("/api/expenses/{id}", pipeline)
	r.Handle("/api/stores/{storeId}/expenses", pipeline)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	res.status = rec.Code
	if rec.Code != http.StatusOK {
		var errResp domain.ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
			t.Fatalf("decoding error response: %v", err)
		}
		res.code = errResp.Error
	}
	return res
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func defaultGate() *middleware.Gate {
	return middleware.NewGate(middleware.DefaultStorePolicy(), nil)
}

func TestGateMandatoryMode(t *testing.T) {
	gate := defaultGate()

	tests := []struct {
		name       string
		principal  domain.Principal
		req        *http.Request
		wantStatus int
		wantCode   string
		wantStore  string
	}{
		{
			name:       "no store anywhere",
			principal:  cashierA,
			req:        httptest.NewRequest(http.MethodGet, "/api/expenses", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
		{
			name:       "empty query value counts as absent",
			principal:  cashierA,
			req:        httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
		{
			name:       "store not permitted",
			principal:  cashierA,
			req:        httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=B", nil),
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
		{
			name:       "store permitted via query",
			principal:  cashierA,
			req:        httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=A", nil),
			wantStatus: http.StatusOK,
			wantStore:  "A",
		},
		{
			name:       "store permitted via path",
			principal:  managerAB,
			req:        httptest.NewRequest(http.MethodGet, "/api/stores/B/expenses", nil),
			wantStatus: http.StatusOK,
			wantStore:  "B",
		},
		{
			name:       "store permitted via body",
			principal:  cashierA,
			req:        jsonRequest(http.MethodPost, "/api/expenses", `{"storeId":"A","amount":50}`),
			wantStatus: http.StatusOK,
			wantStore:  "A",
		},
		{
			name:       "principal with no stores",
			principal:  domain.Principal{ID: "u", Role: domain.RoleCashier},
			req:        httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=A", nil),
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runGate(t, gate, middleware.GateRequired, &tt.principal, tt.req)
			if res.status != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, res.status)
			}
			if res.code != tt.wantCode {
				t.Errorf("expected error code %q, got %q", tt.wantCode, res.code)
			}
			if tt.wantStatus != http.StatusOK {
				if res.called {
					t.Error("handler must not run when the gate rejects")
				}
				return
			}
			if !res.scope.Resolved || res.scope.StoreID != tt.wantStore {
				t.Errorf("expected resolved store %q, got %+v", tt.wantStore, res.scope)
			}
		})
	}
}

func TestGateOptionalMode(t *testing.T) {
	gate := defaultGate()

	t.Run("no store continues unscoped", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateOptional, &managerAB, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
		if res.status != http.StatusOK || !res.called {
			t.Fatalf("expected handler to run, got %d", res.status)
		}
		if res.scope.Resolved || res.scope.StoreID != "" {
			t.Errorf("expected unresolved scope, got %+v", res.scope)
		}
		if len(res.scope.Permitted) != 2 {
			t.Errorf("expected permitted stores to be passed along, got %v", res.scope.Permitted)
		}
	})

	t.Run("membership still enforced", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateOptional, &cashierA, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=B", nil))
		if res.status != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", res.status)
		}
	})

	t.Run("permitted store resolves", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateOptional, &cashierA, httptest.NewRequest(http.MethodPatch, "/api/expenses/exp-1?storeId=A", nil))
		if res.status != http.StatusOK || res.scope.StoreID != "A" {
			t.Fatalf("expected store A, got %d %+v", res.status, res.scope)
		}
	})

	t.Run("resource id is not a store reference", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateOptional, &cashierA, httptest.NewRequest(http.MethodDelete, "/api/expenses/B", nil))
		if res.status != http.StatusOK || res.scope.Resolved {
			t.Fatalf("expected unscoped pass-through, got %d %+v", res.status, res.scope)
		}
	})

	t.Run("invalid store still rejected", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateOptional, &cashierA, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=../etc", nil))
		if res.status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", res.status)
		}
	})
}

func TestGateBypassRoles(t *testing.T) {
	gate := defaultGate()

	for _, p := range []domain.Principal{owner, superUser} {
		t.Run(string(p.Role), func(t *testing.T) {
			res := runGate(t, gate, middleware.GateRequired, &p, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=Z", nil))
			if res.status != http.StatusOK {
				t.Fatalf("expected bypass to allow any valid store, got %d", res.status)
			}
			if res.scope.StoreID != "Z" || !res.scope.Unrestricted {
				t.Errorf("expected unrestricted scope on Z, got %+v", res.scope)
			}

			res = runGate(t, gate, middleware.GateOptional, &p, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
			if res.status != http.StatusOK || res.scope.Resolved {
				t.Errorf("expected unscoped pass-through in optional mode, got %d %+v", res.status, res.scope)
			}

			res = runGate(t, gate, middleware.GateRequired, &p, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
			if res.status != http.StatusBadRequest {
				t.Errorf("bypass does not lift the presence rule, got %d", res.status)
			}

			res = runGate(t, gate, middleware.GateRequired, &p, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=bad%20id", nil))
			if res.status != http.StatusBadRequest {
				t.Errorf("bypass does not lift syntax validation, got %d", res.status)
			}
		})
	}
}

func TestGateExtractionPrecedence(t *testing.T) {
	gate := defaultGate()

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantStore  string
	}{
		{
			name:       "path wins over query",
			req:        httptest.NewRequest(http.MethodGet, "/api/stores/A/expenses?storeId=B", nil),
			wantStatus: http.StatusOK,
			wantStore:  "A",
		},
		{
			name:       "path wins even when query is permitted and path is not",
			req:        httptest.NewRequest(http.MethodGet, "/api/stores/C/expenses?storeId=A", nil),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "query wins over body",
			req:        jsonRequest(http.MethodPost, "/api/expenses?storeId=A", `{"storeId":"B"}`),
			wantStatus: http.StatusOK,
			wantStore:  "A",
		},
		{
			name:       "empty query falls through to body",
			req:        jsonRequest(http.MethodPost, "/api/expenses?storeId=", `{"storeId":"A"}`),
			wantStatus: http.StatusOK,
			wantStore:  "A",
		},
		{
			name:       "invalid query fails fast without consulting body",
			req:        jsonRequest(http.MethodPost, "/api/expenses?storeId=no%20spaces", `{"storeId":"A"}`),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runGate(t, gate, middleware.GateRequired, &cashierA, tt.req)
			if res.status != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, res.status)
			}
			if tt.wantStore != "" && res.scope.StoreID != tt.wantStore {
				t.Errorf("expected store %q, got %q", tt.wantStore, res.scope.StoreID)
			}
		})
	}
}

func TestGateBodyExtraction(t *testing.T) {
	gate := defaultGate()

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{"non-string store id", "application/json", `{"storeId":123}`, http.StatusBadRequest},
		{"object store id", "application/json", `{"storeId":{"id":"A"}}`, http.StatusBadRequest},
		{"null store id is absent", "application/json", `{"storeId":null}`, http.StatusBadRequest},
		{"malformed json", "application/json", `{"storeId":`, http.StatusBadRequest},
		{"nested field is ignored", "application/json", `{"expense":{"storeId":"A"}}`, http.StatusBadRequest},
		{"json with charset", "application/json; charset=utf-8", `{"storeId":"A"}`, http.StatusOK},
		{"vendor json type", "application/vnd.pos+json", `{"storeId":"A"}`, http.StatusOK},
		{"form body is not read", "application/x-www-form-urlencoded", `storeId=A`, http.StatusBadRequest},
		{"whitespace is trimmed", "application/json", `{"storeId":"  A  "}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			res := runGate(t, gate, middleware.GateRequired, &cashierA, req)
			if res.status != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, res.status)
			}
		})
	}
}

func TestGateBodyIsRestoredForHandler(t *testing.T) {
	body := `{"storeId":"A","amount":50,"description":"mop"}`
	res := runGate(t, defaultGate(), middleware.GateRequired, &cashierA, jsonRequest(http.MethodPost, "/api/expenses", body))

	if res.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.status)
	}
	if res.body != body {
		t.Errorf("handler should see the original body, got %q", res.body)
	}
}

func TestGateBodyTooLarge(t *testing.T) {
	policy, err := middleware.NewStorePolicy("", nil, "", 16)
	if err != nil {
		t.Fatal(err)
	}
	gate := middleware.NewGate(policy, nil)

	res := runGate(t, gate, middleware.GateRequired, &cashierA,
		jsonRequest(http.MethodPost, "/api/expenses", `{"storeId":"A","notes":"`+strings.Repeat("x", 64)+`"}`))
	if res.status != http.StatusBadRequest {
		t.Errorf("expected 400 for an oversized body, got %d", res.status)
	}
}

func TestGateWithoutPrincipal(t *testing.T) {
	res := runGate(t, defaultGate(), middleware.GateRequired, nil, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=A", nil))
	if res.status != http.StatusUnauthorized {
		t.Errorf("expected 401 when no principal is attached, got %d", res.status)
	}
}

func TestGateNoneIsPassThrough(t *testing.T) {
	res := runGate(t, defaultGate(), middleware.GateNone, nil, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
	if res.status != http.StatusOK || !res.called {
		t.Errorf("expected pass-through, got %d", res.status)
	}
}

func TestGateDecide(t *testing.T) {
	gate := defaultGate()

	d, err := gate.Decide(httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=A", nil), cashierA, middleware.GateRequired)
	if err != nil {
		t.Fatal(err)
	}
	if d.StoreID != "A" || !d.Resolved || d.Source != "query" || d.Bypass {
		t.Errorf("unexpected decision %+v", d)
	}

	_, err = gate.Decide(httptest.NewRequest(http.MethodGet, "/api/expenses", nil), cashierA, middleware.GateRequired)
	if !errors.Is(err, domain.ErrMissingStore) || !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("expected ErrMissingStore wrapping ErrBadRequest, got %v", err)
	}

	d, err = gate.Decide(jsonRequest(http.MethodPost, "/api/expenses", `{"storeId":"B"}`), cashierA, middleware.GateRequired)
	if !errors.Is(err, domain.ErrStoreAccessDenied) || !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrStoreAccessDenied wrapping ErrForbidden, got %v", err)
	}
	if d.Source != "body" {
		t.Errorf("expected body source, got %q", d.Source)
	}

	_, err = gate.Decide(jsonRequest(http.MethodPost, "/api/expenses", `{"storeId":true}`), cashierA, middleware.GateRequired)
	if !errors.Is(err, domain.ErrInvalidStore) {
		t.Errorf("expected ErrInvalidStore, got %v", err)
	}

	d, err = gate.Decide(httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=Q", nil), owner, middleware.GateRequired)
	if err != nil || !d.Bypass {
		t.Errorf("expected bypass decision, got %+v %v", d, err)
	}
}

func TestGateErrorMessages(t *testing.T) {
	gate := defaultGate()

	tests := []struct {
		name    string
		req     *http.Request
		wantMsg string
	}{
		{"missing", httptest.NewRequest(http.MethodGet, "/api/expenses", nil), "missing store identifier"},
		{"invalid", httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=%3Cscript%3E", nil), "invalid store identifier"},
		{"denied", httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=B", nil), "store access denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.Chain(http.NotFoundHandler(), func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					next.ServeHTTP(w, r.WithContext(api.ContextWithPrincipal(r.Context(), cashierA)))
				})
			}, gate.StoreRequired())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)

			var errResp domain.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
				t.Fatal(err)
			}
			if errResp.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, errResp.Message)
			}
		})
	}
}

func TestStorePolicyConfiguration(t *testing.T) {
	t.Run("custom field name", func(t *testing.T) {
		policy, err := middleware.NewStorePolicy("shopId", nil, "", 0)
		if err != nil {
			t.Fatal(err)
		}
		gate := middleware.NewGate(policy, nil)

		res := runGate(t, gate, middleware.GateRequired, &cashierA, httptest.NewRequest(http.MethodGet, "/api/expenses?shopId=A", nil))
		if res.status != http.StatusOK {
			t.Errorf("expected custom field to be read, got %d", res.status)
		}
		res = runGate(t, gate, middleware.GateRequired, &cashierA, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=A", nil))
		if res.status != http.StatusBadRequest {
			t.Errorf("expected default field to be ignored, got %d", res.status)
		}
	})

	t.Run("empty bypass list disables bypass", func(t *testing.T) {
		policy, err := middleware.NewStorePolicy("", []string{}, "", 0)
		if err != nil {
			t.Fatal(err)
		}
		res := runGate(t, middleware.NewGate(policy, nil), middleware.GateRequired, &owner, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=Z", nil))
		if res.status != http.StatusForbidden {
			t.Errorf("expected owner to be checked like anyone else, got %d", res.status)
		}
	})

	t.Run("custom bypass role", func(t *testing.T) {
		policy, err := middleware.NewStorePolicy("", []string{" Auditor "}, "", 0)
		if err != nil {
			t.Fatal(err)
		}
		auditor := domain.Principal{ID: "a", Role: "auditor"}
		res := runGate(t, middleware.NewGate(policy, nil), middleware.GateRequired, &auditor, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=Z", nil))
		if res.status != http.StatusOK {
			t.Errorf("expected auditor bypass, got %d", res.status)
		}
	})

	t.Run("custom id pattern", func(t *testing.T) {
		policy, err := middleware.NewStorePolicy("", nil, `^[0-9a-f]{8}$`, 0)
		if err != nil {
			t.Fatal(err)
		}
		gate := middleware.NewGate(policy, nil)
		p := domain.Principal{ID: "u", Role: domain.RoleCashier, StoreIDs: []string{"deadbeef"}}

		res := runGate(t, gate, middleware.GateRequired, &p, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=deadbeef", nil))
		if res.status != http.StatusOK {
			t.Errorf("expected match, got %d", res.status)
		}
		res = runGate(t, gate, middleware.GateRequired, &p, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=A", nil))
		if res.status != http.StatusBadRequest {
			t.Errorf("expected pattern mismatch to be invalid, got %d", res.status)
		}
	})

	t.Run("rejects bad settings", func(t *testing.T) {
		if _, err := middleware.NewStorePolicy("store id", nil, "", 0); err == nil {
			t.Error("expected error for invalid field name")
		}
		if _, err := middleware.NewStorePolicy("", nil, "([", 0); err == nil {
			t.Error("expected error for invalid pattern")
		}
	})
}

func TestGateModeString(t *testing.T) {
	for mode, want := range map[middleware.GateMode]string{
		middleware.GateNone:     "none",
		middleware.GateRequired: "required",
		middleware.GateOptional: "optional",
	} {
		if got := mode.String(); got != want {
			t.Errorf("%d: expected %q, got %q", mode, want, got)
		}
	}
}

// End-to-end gate outcomes for the common POS flows, with the
// principal already attached as Auth would leave it.
func TestGateScenarios(t *testing.T) {
	gate := defaultGate()

	t.Run("cashier posting to a foreign store", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateRequired, &cashierA, jsonRequest(http.MethodPost, "/api/expenses", `{"storeId":"B","amount":50}`))
		if res.status != http.StatusForbidden {
			t.Errorf("expected 403, got %d", res.status)
		}
	})

	t.Run("cashier posting to own store", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateRequired, &cashierA, jsonRequest(http.MethodPost, "/api/expenses", `{"storeId":"A","amount":50}`))
		if res.status != http.StatusOK || res.scope.StoreID != "A" {
			t.Errorf("expected handler with store A, got %d %+v", res.status, res.scope)
		}
	})

	t.Run("manager listing without a store", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateOptional, &managerAB, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
		if res.status != http.StatusOK || res.scope.Resolved {
			t.Errorf("expected unscoped handler call, got %d %+v", res.status, res.scope)
		}
	})

	t.Run("owner reporting on an unknown store", func(t *testing.T) {
		res := runGate(t, gate, middleware.GateRequired, &owner, httptest.NewRequest(http.MethodGet, "/api/expenses?storeId=Z", nil))
		if res.status != http.StatusOK || res.scope.StoreID != "Z" {
			t.Errorf("expected handler with store Z, got %d %+v", res.status, res.scope)
		}
	})
}
