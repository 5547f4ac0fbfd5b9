// Package store persists jobs and batches in SQLite.
//
// Jobs are exclusively mutated by the pipeline runner while executing; API
// handlers only read them. Batch counter updates go through an atomic SQL
// increment so racing sibling completions never lose a count.
package store
