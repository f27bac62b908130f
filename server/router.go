package server

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/brisk-server/brisk/http1"
)

// Handler processes one complete request and writes the response
// through the broker.
type Handler func(req *http1.Request, broker *Broker)

type route struct {
	method  http1.Method
	pattern glob.Glob
	handler Handler
}

// router matches requests to handlers. Patterns are glob expressions
// over the request path with "/" as separator, so "/static/*" matches
// one segment and "/static/**" any depth.
type router struct {
	routes []route
}

func newRouter() *router { return &router{} }

// add compiles and registers a route pattern.
func (r *router) add(method http1.Method, pattern string, handler Handler) error {
	if pattern == "" || handler == nil {
		return fmt.Errorf("route pattern and handler must be set")
	}
	compiled, err := glob.Compile(pattern, '/')
	if err != nil {
		return fmt.Errorf("failed to compile route pattern %q: %w", pattern, err)
	}
	r.routes = append(r.routes, route{method: method, pattern: compiled, handler: handler})
	return nil
}

// match returns the first handler whose method and pattern accept the
// path, or nil.
func (r *router) match(method http1.Method, path string) Handler {
	for _, rt := range r.routes {
		if rt.method == method && rt.pattern.Match(path) {
			return rt.handler
		}
	}
	return nil
}
