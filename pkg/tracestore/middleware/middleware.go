// Package middleware provides tracestore.Store decorators: cross-cutting
// behavior layered over any store implementation without changing it.
package middleware

import "github.com/aretw0/tendril/pkg/tracestore"

// Middleware allows wrapping a Store to add behavior.
type Middleware func(tracestore.Store) tracestore.Store

// Wrap applies middlewares to a store. The first middleware becomes the
// outermost layer, so calls pass through them in the order given.
func Wrap(store tracestore.Store, mws ...Middleware) tracestore.Store {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
