package logger

import "context"

type ctxKey struct{}

var noop = NewNoOpLogger()

// WithContext returns a copy of ctx that carries l
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger or a no-op one if ctx carries none
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return noop
}
