// Package dbctx bundles a request context with an optional database
// session, the same shape the teacher threads through its repository
// interfaces, adapted from a GORM transaction handle to a Mongo session.
package dbctx

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// Context bundles a request context with an optional Mongo session. A nil
// Session means "use the repository's default client", matching the
// teacher's "transaction := dbc.Tx; if transaction == nil { ... }" idiom.
type Context struct {
	Ctx     context.Context
	Session mongo.Session
}

// Background returns a Context with no session, for call sites outside
// any request scope (e.g. worker startup).
func Background() Context {
	return Context{Ctx: context.Background()}
}
