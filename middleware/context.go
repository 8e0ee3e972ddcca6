// Package middleware runs the per-request authorization check: it loads the
// session, keeps its tokens fresh and exposes the derived views to handlers.
package middleware

import (
	"context"

	"github.com/lukaszraczylo/oidcsession/permissions"
	"github.com/lukaszraczylo/oidcsession/session"
)

type contextKey int

const (
	recordKey contextKey = iota
	sessionViewKey
	permissionsKey
)

// WithSession stores the resolved session and its views in ctx.
func WithSession(ctx context.Context, rec *session.Record, sv session.View, pv permissions.View) context.Context {
	ctx = context.WithValue(ctx, recordKey, rec)
	ctx = context.WithValue(ctx, sessionViewKey, sv)
	return context.WithValue(ctx, permissionsKey, pv)
}

// RecordFrom returns the session record stored by RequireSession.
func RecordFrom(ctx context.Context) (*session.Record, bool) {
	rec, ok := ctx.Value(recordKey).(*session.Record)
	return rec, ok && rec != nil
}

// SessionFrom returns the session view stored by RequireSession.
func SessionFrom(ctx context.Context) (session.View, bool) {
	v, ok := ctx.Value(sessionViewKey).(session.View)
	return v, ok
}

// PermissionsFrom returns the authorization view stored by RequireSession.
func PermissionsFrom(ctx context.Context) (permissions.View, bool) {
	v, ok := ctx.Value(permissionsKey).(permissions.View)
	return v, ok
}
