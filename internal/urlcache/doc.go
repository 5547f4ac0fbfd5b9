// Package urlcache memoizes signed object-storage URLs with a TTL safety
// margin and in-flight request de-duplication.
package urlcache
