package core

import (
	"context"

	"github.com/google/uuid"
)

type connIDKey struct{}

// WithConnID adds a connection ID to the context.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnID returns the connection ID stored in ctx, or "".
func ConnID(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateConnID returns a fresh random connection ID.
func GenerateConnID() string {
	return uuid.NewString()
}
