package shared

import "context"

type operatorContextKey struct{}

// ContextWithOperator stores the authenticated operator name in context.
func ContextWithOperator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, name)
}

// OperatorFromContext extracts the operator name, empty when unauthenticated.
func OperatorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(operatorContextKey{}).(string)
	return name
}
