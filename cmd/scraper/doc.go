// Command scraper runs the marketplace scraper service: an HTTP API that
// accepts crawl jobs, a pool of workers that run the crawl engine once per
// job, and the configured job store, result export and publisher backends.
//
// Usage:
//
//	scraper -config config.yaml
//
// Every setting can also be supplied through SCRAPER_* environment variables,
// for example SCRAPER_SERVER_PORT=9090.
package main
