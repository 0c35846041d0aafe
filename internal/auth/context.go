package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CallerHeader names the request header carrying the caller identity. It is
// trusted as given; authentication happens upstream.
const CallerHeader = "X-Caller-ID"

// ErrCallerMismatch is returned when a caller observes a job it does not own.
var ErrCallerMismatch = errors.New("caller does not own this resource")

type contextKey string

const callerKey contextKey = "caller"

// ContextWithCaller returns a new context that carries the caller identity.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey, strings.TrimSpace(caller))
}

// CallerFromContext retrieves the caller identity from the context, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	caller, ok := ctx.Value(callerKey).(string)
	if !ok || caller == "" {
		return "", false
	}
	return caller, true
}

// EnforceOwner ensures the owner matches the caller in scope. Anonymous
// requests and ownerless resources are not restricted.
func EnforceOwner(ctx context.Context, owner string) error {
	caller, ok := CallerFromContext(ctx)
	if !ok || owner == "" {
		return nil
	}
	if caller != owner {
		return fmt.Errorf("%w: %s", ErrCallerMismatch, caller)
	}
	return nil
}

// CallerMiddleware copies the caller header into the request context.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := strings.TrimSpace(r.Header.Get(CallerHeader)); caller != "" {
			r = r.WithContext(ContextWithCaller(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}
