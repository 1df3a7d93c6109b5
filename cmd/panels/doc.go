// Package main hosts the panels entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the series directory and
//     the strip routes. Endpoints resolve through the comic.Registry to exactly one
//     source; "latest" and "random" are reserved identifiers.
//   - Sources: gocomics, comicsrss, xkcd and phd read their providers live through the
//     shared colly fetch client. dilbert serves a fixed historical range from the
//     archived strip table first and falls back to a web archive index lookup plus a
//     replay fetch.
//   - Caching: resolved strips live in a bounded TTL cache; concurrent misses for one
//     key share a single upstream fetch. Images are proxied and never cached.
//   - Harvest: `panels harvest` (or harvest.schedule under `serve`) enumerates archived
//     snapshots, fetches the dates the table lacks in paced batches and checkpoints the
//     table to the configured store (file, GCS, Postgres or memory). Progress events
//     feed zap logs, Prometheus, the run history and optional Pub/Sub notices.
//
// Quick checklist:
//   - Configure with --config or PANELS_* env vars, e.g. PANELS_SERVER_PORT,
//     PANELS_DATA_DIR, PANELS_STORAGE_BACKEND. PANELS_PORT, PANELS_STRIP_CACHE_MAX and
//     PANELS_STRIP_CACHE_TTL (seconds) are still honoured.
//   - Run locally: go run ./cmd/panels serve
//   - The process drains in-flight requests on SIGINT/SIGTERM.
package main
