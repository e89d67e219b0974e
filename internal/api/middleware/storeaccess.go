package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"posapi/internal/api"
	"posapi/internal/domain"
	"posapi/internal/platform/telemetry"
)

// GateMode selects whether a route requires a store reference.
type GateMode int

const (
	// GateNone skips the store access gate. Only valid on public routes.
	GateNone GateMode = iota
	// GateRequired rejects requests that carry no store reference.
	GateRequired
	// GateOptional lets requests without a store reference through unscoped.
	GateOptional
)

func (m GateMode) String() string {
	switch m {
	case GateRequired:
		return "required"
	case GateOptional:
		return "optional"
	default:
		return "none"
	}
}

// Default store access policy values.
const (
	DefaultStoreField      = "storeId"
	DefaultStoreIDPattern  = `^[A-Za-z0-9_-]{1,64}$`
	DefaultGateMaxBodySize = 1 << 20 // 1MB
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StorePolicy configures the store access gate.
type StorePolicy struct {
	// Field is the store identifier key used in path, query and body alike.
	Field string
	// BypassRoles may act on any store without a membership check.
	BypassRoles []domain.Role
	// IDPattern decides whether an extracted value is a syntactically valid store id.
	IDPattern *regexp.Regexp
	// MaxBodyBytes bounds how much of a JSON body the gate buffers.
	MaxBodyBytes int64
}

// DefaultStorePolicy returns the policy used when nothing is configured.
func DefaultStorePolicy() StorePolicy {
	return StorePolicy{
		Field:        DefaultStoreField,
		BypassRoles:  []domain.Role{domain.RoleOwner, domain.RoleSuperAdmin},
		IDPattern:    regexp.MustCompile(DefaultStoreIDPattern),
		MaxBodyBytes: DefaultGateMaxBodySize,
	}
}

// NewStorePolicy builds a policy from raw settings. Empty values fall back
// to the defaults; a nil bypassRoles keeps the default roles, an empty
// non-nil slice disables bypass.
func NewStorePolicy(field string, bypassRoles []string, idPattern string, maxBodyBytes int64) (StorePolicy, error) {
	p := DefaultStorePolicy()
	if field != "" {
		if !fieldNamePattern.MatchString(field) {
			return StorePolicy{}, fmt.Errorf("invalid store field name %q", field)
		}
		p.Field = field
	}
	if bypassRoles != nil {
		p.BypassRoles = make([]domain.Role, 0, len(bypassRoles))
		for _, r := range bypassRoles {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				p.BypassRoles = append(p.BypassRoles, domain.Role(r))
			}
		}
	}
	if idPattern != "" {
		re, err := regexp.Compile(idPattern)
		if err != nil {
			return StorePolicy{}, fmt.Errorf("compiling store id pattern: %w", err)
		}
		p.IDPattern = re
	}
	if maxBodyBytes > 0 {
		p.MaxBodyBytes = maxBodyBytes
	}
	return p, nil
}

// Extractor looks for a store reference in one part of the request.
// found is false when the source carries no (or an empty) value.
type Extractor struct {
	Source  string
	Extract func(r *http.Request, p StorePolicy) (value string, found bool, err error)
}

// DefaultExtractors returns the fixed extraction order: path, query, body.
func DefaultExtractors() []Extractor {
	return []Extractor{
		{Source: "path", Extract: fromPath},
		{Source: "query", Extract: fromQuery},
		{Source: "body", Extract: fromBody},
	}
}

func fromPath(r *http.Request, p StorePolicy) (string, bool, error) {
	v := strings.TrimSpace(chi.URLParam(r, p.Field))
	return v, v != "", nil
}

func fromQuery(r *http.Request, p StorePolicy) (string, bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(p.Field))
	return v, v != "", nil
}

// fromBody reads the top-level field of a JSON body. The body is buffered
// and put back so the handler can decode it again.
func fromBody(r *http.Request, p StorePolicy) (string, bool, error) {
	if r.Body == nil || r.Body == http.NoBody || !isJSON(r.Header.Get("Content-Type")) {
		return "", false, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, p.MaxBodyBytes+1))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "", false, fmt.Errorf("%w: request body too large", domain.ErrBadRequest)
		}
		return "", false, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > p.MaxBodyBytes {
		return "", false, fmt.Errorf("%w: request body too large", domain.ErrBadRequest)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", false, nil
	}
	if !gjson.ValidBytes(data) {
		return "", false, fmt.Errorf("%w: malformed JSON body", domain.ErrBadRequest)
	}

	res := gjson.GetBytes(data, p.Field)
	switch {
	case !res.Exists(), res.Type == gjson.Null:
		return "", false, nil
	case res.Type != gjson.String:
		// Present but not a string: fail fast rather than fall through.
		return "", true, domain.ErrInvalidStore
	}
	v := strings.TrimSpace(res.Str)
	return v, v != "", nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Decision is the outcome of a store access check.
type Decision struct {
	StoreID  string
	Resolved bool
	Source   string
	Bypass   bool
}

// Gate decides whether the authenticated principal may act on the store a
// request refers to. It holds no per-request state.
type Gate struct {
	policy     StorePolicy
	extractors []Extractor
	metrics    *telemetry.Metrics
}

// NewGate creates a gate using the default extraction order.
// The metrics parameter is optional; pass nil to skip metric recording.
func NewGate(policy StorePolicy, m *telemetry.Metrics) *Gate {
	return &Gate{
		policy:     policy,
		extractors: DefaultExtractors(),
		metrics:    m,
	}
}

// Policy returns the gate's policy.
func (g *Gate) Policy() StorePolicy {
	return g.policy
}

// IsBypass reports whether p is exempt from membership checks.
func (g *Gate) IsBypass(p domain.Principal) bool {
	return p.HasRole(g.policy.BypassRoles...)
}

// Decide runs the extractors in order and checks the first store reference
// found against the principal. It returns ErrMissingStore, ErrInvalidStore
// or ErrStoreAccessDenied (all wrapped) on failure.
func (g *Gate) Decide(r *http.Request, p domain.Principal, mode GateMode) (Decision, error) {
	d := Decision{Bypass: g.IsBypass(p)}

	for _, ex := range g.extractors {
		v, found, err := ex.Extract(r, g.policy)
		if found {
			d.Source = ex.Source
		}
		if err != nil {
			return d, err
		}
		if !found {
			continue
		}
		if !g.policy.IDPattern.MatchString(v) {
			return d, domain.ErrInvalidStore
		}
		d.StoreID = v
		d.Resolved = true
		if !d.Bypass && !p.HasStore(v) {
			return d, domain.ErrStoreAccessDenied
		}
		return d, nil
	}

	if mode == GateRequired {
		return d, domain.ErrMissingStore
	}
	return d, nil
}

// Middleware returns the gate for the given mode. GateNone yields a
// pass-through middleware.
func (g *Gate) Middleware(mode GateMode) Middleware {
	if mode == GateNone {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := api.PrincipalFromContext(r.Context())
			if !ok {
				g.metrics.RecordStoreAccess(r.Context(), mode.String(), "unauthenticated")
				api.WriteError(w, r, fmt.Errorf("%w: authentication required", domain.ErrUnauthorized))
				return
			}

			d, err := g.Decide(r, principal, mode)
			if err != nil {
				slog.Debug("store access rejected",
					"error", err,
					"mode", mode.String(),
					"source", d.Source,
					"principal_id", principal.ID,
					"role", principal.Role,
					"request_id", api.RequestIDFromContext(r.Context()),
				)
				g.metrics.RecordStoreAccess(r.Context(), mode.String(), resultLabel(err))
				api.WriteError(w, r, err)
				return
			}

			result := "allowed"
			switch {
			case !d.Resolved:
				result = "unscoped"
			case d.Bypass && !principal.HasStore(d.StoreID):
				result = "bypass"
			}
			g.metrics.RecordStoreAccess(r.Context(), mode.String(), result)

			ctx := api.ContextWithStoreScope(r.Context(), api.StoreScope{
				StoreID:      d.StoreID,
				Resolved:     d.Resolved,
				Unrestricted: d.Bypass,
				Permitted:    slices.Clone(principal.StoreIDs),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StoreRequired is the mandatory-mode gate.
func (g *Gate) StoreRequired() Middleware {
	return g.Middleware(GateRequired)
}

// StoreIfProvided is the optional-mode gate.
func (g *Gate) StoreIfProvided() Middleware {
	return g.Middleware(GateOptional)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingStore):
		return "missing"
	case errors.Is(err, domain.ErrInvalidStore):
		return "invalid"
	case errors.Is(err, domain.ErrStoreAccessDenied):
		return "denied"
	default:
		return "error"
	}
}
