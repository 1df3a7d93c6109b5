// Package api hosts the HTTP surface of the strip service:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - GET /api/comics lists the series directory, optionally filtered by ?search=.
//   - GET /api/comics/{endpoint}/{identifier} returns one strip; "latest" and
//     "random" select the newest or a random strip.
//   - GET /api/comics/{endpoint}/{identifier}/image proxies the strip image.
//   - GET /api/harvest/runs lists recent bulk harvest runs.
package api
