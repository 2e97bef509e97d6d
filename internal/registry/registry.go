// Package registry is a concurrent name to value map. Values are created only
// through Ensure, never as a side effect of a lookup.
package registry

import (
	"slices"

	"github.com/alphadose/haxmap"
)

type Registry[T any] interface {
	// Lookup returns the value registered under name, if any.
	Lookup(name string) (T, bool)
	// Ensure returns the value under name, creating it with create on first
	// reference. The boolean reports whether the value already existed.
	Ensure(name string, create func() T) (T, bool)
	Add(name string, value T)
	Remove(name string)
	Len() int
	// Each calls fn for every entry until fn returns false.
	Each(fn func(name string, value T) bool)
	// Names returns the registered names in sorted order.
	Names() []string
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Lookup(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *registry[T]) Ensure(name string, create func() T) (T, bool) {
	return r.values.GetOrCompute(name, create)
}

func (r *registry[T]) Add(name string, value T) {
	r.values.Set(name, value)
}

func (r *registry[T]) Remove(name string) {
	r.values.Del(name)
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

func (r *registry[T]) Each(fn func(name string, value T) bool) {
	r.values.ForEach(fn)
}

func (r *registry[T]) Names() []string {
	names := make([]string, 0, r.Len())
	r.values.ForEach(func(name string, _ T) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}
