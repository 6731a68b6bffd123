// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package ident defines the opaque test-identifier contract the queue
// packages are generic over, and the build-time registry that decodes a
// reserved item's wire encoding back into the caller's rich value.
package ident

import (
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// Identifier is the capability a queue item must expose: a stable,
// unique-within-the-build string encoding. Implementations must be
// comparable (usable as a map key) since the worker tracks reservations
// in a set.
type Identifier interface {
	comparable
	Encode() string
}

// StringID is the trivial Identifier for callers whose items already are
// their own canonical string form: its encoding is the string itself.
// It is still decoded through a Registry like any other Identifier.
type StringID string

// Encode implements Identifier.
func (s StringID) Encode() string { return string(s) }

// Registry decodes an encoded string back into the rich value that
// produced it. It is built once, from the same item list every worker
// in a build is constructed with, so every worker's registry is
// byte-identical.
type Registry[T Identifier] struct {
	byEncoded map[string]T
}

// NewRegistry builds a registry from the initial item list. It fails
// construction if two distinct items share an encoding: a registry that
// silently collapsed them would make the collapsed item's reservations,
// acknowledgements, and requeues indistinguishable from each other's.
func NewRegistry[T Identifier](items []T) (*Registry[T], error) {
	byEncoded := make(map[string]T, len(items))
	for _, item := range items {
		encoded := item.Encode()
		if existing, present := byEncoded[encoded]; present && existing != item {
			return nil, kv.NewError("duplicate identifier encoding").
				With("stack", stack.Trace().TrimRuntime()).
				With("encoded", encoded)
		}
		byEncoded[encoded] = item
	}
	return &Registry[T]{byEncoded: byEncoded}, nil
}

// Decode looks an encoded item back up. It returns ok=false when the
// encoding is unknown to this registry, which the worker treats as a
// failed decode rather than an error: the lease will simply expire and
// be recovered by reserve_lost.
func (r *Registry[T]) Decode(encoded string) (item T, ok bool) {
	item, ok = r.byEncoded[encoded]
	return item, ok
}

// Len reports how many distinct items the registry knows about.
func (r *Registry[T]) Len() int {
	return len(r.byEncoded)
}
