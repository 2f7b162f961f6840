// Package crawler holds the registry domain model (variants, raw pages, table
// rows, normalized records, per-page outcomes) and the small interfaces the
// fetch, archive, and notification adapters implement.
package crawler
