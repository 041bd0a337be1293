// Package storage groups the persistence backends of the person service.
//
// The postgres subpackage opens the PostgreSQL pool shared by the person,
// invitation and membership stores, applies the embedded schema, and
// provides the Redis-backed person cache.
package storage
