// Package store defines the aggregate persistence interface.
//
// The job subsystem defines its own store interface (job.Store); the
// composite [Store] composes it with lifecycle methods. A backend need
// only implement Store to satisfy the full persistence contract.
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/redis — Redis backend using go-redis/v9
//
// # Usage
//
//	import redisstore "github.com/pengcunfu/YushuRobotPPT2IMG/store/redis"
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store

import (
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Store is the aggregate persistence interface. job.Store already carries
// Ping and Close, so today this is a straight alias point; it exists so
// future subsystems compose here rather than widening job.Store.
type Store interface {
	job.Store
}
