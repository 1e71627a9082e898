//go:build !kvcachedebug

package kvcache

const debugChecks = false
