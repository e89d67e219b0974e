package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order: the first middleware is the outermost wrapper.
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// Stage is a named pipeline step.
type Stage struct {
	Name string
	Wrap Middleware
}

// Compose runs stages in order in front of handler. Stages with a nil Wrap
// are skipped.
func Compose(handler http.Handler, stages ...Stage) http.Handler {
	mw := make([]Middleware, 0, len(stages))
	for _, s := range stages {
		if s.Wrap != nil {
			mw = append(mw, s.Wrap)
		}
	}
	return Chain(handler, mw...)
}
