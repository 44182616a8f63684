// Package api hosts the export server: one route per component, the /ping
// health check, liveness and readiness endpoints, and Prometheus scraping. Notable routes:
//   - ANY /<component route> runs one export and replies with the image.
//   - GET|POST /ping pings every renderer window.
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /status reports windows and in-flight exports.
//   - GET /metrics for Prometheus scraping.
package api
