// Package api hosts the HTTP front end. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/records for a live crawl of one page or the whole registry,
//     optionally loaded into the warehouse.
//   - GET /v1/records/cached for the newest records already in the warehouse.
//   - POST /v1/crawls to crawl and load every variant synchronously.
//
// Record responses are JSON arrays or CSV attachments depending on format.
package api
