// Package progress carries crawl milestones (crawl start, page done or failed,
// crawl done) from the orchestrator to pluggable sinks. Events are batched on
// a background goroutine so page pipelines never wait on logging or metrics.
package progress
