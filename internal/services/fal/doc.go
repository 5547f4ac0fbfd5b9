// Package fal wraps the fal.ai queue API for AI video generation. A circuit
// breaker guards the HTTP surface and polling is rate-limited so a stuck
// queue cannot be hammered.
package fal
