// Package crawler holds the shared model of the marketplace scraper: crawl jobs,
// fetch outcomes, product records, the region table, the per-run frontier and
// the pacing and backoff primitives used by the fetch, listing and engine
// packages.
package crawler
