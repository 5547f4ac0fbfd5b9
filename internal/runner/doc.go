// Package runner drives queued jobs through their pipelines. The Runner
// executes one job's steps strictly in order with durable persistence at
// every step boundary; the Manager fans a worker pool out over the queue so
// unrelated jobs race freely while each job stays sequential.
package runner
