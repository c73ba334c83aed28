// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package pool provides typed wrappers around sync.Pool.
package pool

import "sync"

type Pool[T any] sync.Pool

// New returns a pool that allocates a new T when it is empty.
func New[T any]() *Pool[*T] {
	return NewWith(func() *T { return new(T) })
}

// NewWith returns a pool that calls fn when it is empty.
func NewWith[T any](fn func() T) *Pool[T] {
	return (*Pool[T])(&sync.Pool{New: func() any { return fn() }})
}

func (p *Pool[T]) Get() T {
	return (*sync.Pool)(p).Get().(T)
}

func (p *Pool[T]) Put(v T) {
	(*sync.Pool)(p).Put(v)
}

// Bytes is a pool of fixed-size scratch buffers.
type Bytes struct {
	size int
	pool *Pool[*[]byte]
}

// NewBytes returns a pool of size-byte buffers.
func NewBytes(size int) *Bytes {
	return &Bytes{size, NewWith(func() *[]byte {
		b := make([]byte, size)
		return &b
	})}
}

// Size returns the length of the buffers in the pool.
func (p *Bytes) Size() int { return p.size }

// Get returns a buffer of Size bytes. Its contents are undefined.
func (p *Bytes) Get() []byte {
	return (*p.pool.Get())[:p.size]
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped.
func (p *Bytes) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
