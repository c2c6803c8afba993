package internal

import (
	"context"
	"fmt"
)

// CtxKey is a context key bound to the type of its value, so reads need no type assertion at the call site.
// Keys with the same name but different T never collide, as the key type differs.
type CtxKey[T any] struct {
	name string
}

func NewCtxKey[T any](name string) CtxKey[T] {
	return CtxKey[T]{name: name}
}

func (k CtxKey[T]) String() string {
	return fmt.Sprintf("ctxkey %s (%T)", k.name, *new(T))
}

// With returns a copy of ctx carrying value under k
func (k CtxKey[T]) With(ctx context.Context, value T) context.Context {
	return context.WithValue(ctx, k, value)
}

// From returns the value stored under k. The zero value and false are returned when ctx has none.
func (k CtxKey[T]) From(ctx context.Context) (T, bool) {
	value, ok := ctx.Value(k).(T)
	return value, ok
}
