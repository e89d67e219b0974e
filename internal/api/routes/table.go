// Package routes declares resource route tables and mounts them on a chi
// router. A table is plain data built once at startup; Mount turns each
// route into the pipeline auth -> store access -> handler.
package routes

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"posapi/internal/api/middleware"
)

// Route describes one endpoint of a resource.
type Route struct {
	Method  string
	Pattern string
	Gate    middleware.GateMode
	Name    string
	Handler http.HandlerFunc
}

// Table is the set of routes mounted under Prefix. Public tables skip
// authentication and the store gate.
type Table struct {
	Prefix string
	Public bool
	Routes []Route
}

var paramPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::[^}]*)?\}`)

// Validate checks t against the gate's store field name.
func (t Table) Validate(storeField string) error {
	if !strings.HasPrefix(t.Prefix, "/") {
		return fmt.Errorf("table prefix %q must start with /", t.Prefix)
	}
	if len(t.Routes) == 0 {
		return fmt.Errorf("table %s has no routes", t.Prefix)
	}

	var errs []error
	seen := make(map[string]bool, len(t.Routes))
	for _, rt := range t.Routes {
		key := rt.Method + " " + rt.Pattern
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s: duplicate route %s", t.Prefix, key))
		}
		seen[key] = true

		if rt.Handler == nil {
			errs = append(errs, fmt.Errorf("%s: route %s has no handler", t.Prefix, key))
		}
		if rt.Name == "" {
			errs = append(errs, fmt.Errorf("%s: route %s has no name", t.Prefix, key))
		}
		if !t.Public && rt.Gate == middleware.GateNone {
			errs = append(errs, fmt.Errorf("%s: route %s has no store gate", t.Prefix, key))
		}
		if t.Public && rt.Gate != middleware.GateNone {
			errs = append(errs, fmt.Errorf("%s: public route %s cannot use a store gate", t.Prefix, key))
		}
		// With the store field named "id", a resource id would be read as a
		// store reference by the path extractor.
		for _, m := range paramPattern.FindAllStringSubmatch(rt.Pattern, -1) {
			if m[1] == "id" && storeField == "id" {
				errs = append(errs, fmt.Errorf("%s: route %s: resource id param collides with store field %q", t.Prefix, key, storeField))
			}
		}
	}
	return errors.Join(errs...)
}

// Pipeline returns the named stages a route runs before its handler.
func Pipeline(t Table, rt Route, auth middleware.Middleware, gate *middleware.Gate) []middleware.Stage {
	if t.Public {
		return nil
	}
	return []middleware.Stage{
		{Name: "auth", Wrap: auth},
		{Name: "store_access:" + rt.Gate.String(), Wrap: gate.Middleware(rt.Gate)},
	}
}

// StageNames lists a route's full pipeline, handler included.
func StageNames(t Table, rt Route) []string {
	var names []string
	if !t.Public {
		names = append(names, "auth", "store_access:"+rt.Gate.String())
	}
	return append(names, "handler:"+rt.Name)
}

// Mount validates t and registers every route on r under t.Prefix.
func Mount(r chi.Router, t Table, auth middleware.Middleware, gate *middleware.Gate) error {
	if err := t.Validate(gate.Policy().Field); err != nil {
		return fmt.Errorf("invalid route table: %w", err)
	}
	r.Route(t.Prefix, func(sub chi.Router) {
		for _, rt := range t.Routes {
			sub.Method(rt.Method, rt.Pattern, middleware.Compose(rt.Handler, Pipeline(t, rt, auth, gate)...))
		}
	})
	return nil
}
