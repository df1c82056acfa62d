//go:build !deadlock

// Package syncutil provides the mutex used to give a transport exclusive
// ownership of its serial line. By default it is a plain sync.Mutex. Build
// with -tags=deadlock to get lock-order and hold-time checking from
// github.com/sasha-s/go-deadlock while debugging a stuck run.
package syncutil

import "sync"

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
type RWMutex struct {
	sync.RWMutex
}
