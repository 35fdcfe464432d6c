// Package cache implements a generic in-process LRU cache. It backs the
// single-instance receipt validation cache; multi-instance deployments use
// the Redis-backed cache instead.
package cache
