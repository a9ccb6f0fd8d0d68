// Package api hosts the HTTP trigger of the scraper service. Notable routes:
//   - POST /v1/jobs and /v1/jobs/standard to submit a crawl.
//   - GET /v1/jobs/{job_id}/status and /result to poll a job.
//   - POST /v1/jobs/{job_id}/cancel to stop a queued or running job.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus.
package api
