//go:build kvcachedebug

package kvcache

const debugChecks = true
