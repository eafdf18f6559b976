// Package cmd defines the topicstreams command line.
//
// Architecture overview:
//   - Topic registry: internal/registry normalizes names (trimmed, whitespace collapsed, lower-cased) and keeps
//     the active flag in the item store; removing a topic only deactivates it, so history survives.
//   - Scheduler: internal/scheduler snapshots the active topics at the start of each cycle, shuffles them and
//     visits them one at a time. Each visit fetches up to scraper.max_pages result pages, inserts unseen
//     (topic, url) pairs and writes one visit log. A cycle that overruns the interval starts the next one at once.
//   - Fetch adapters: colly (static HTML), chromedp (headless Chrome), rss (gofeed) and static (offline,
//     synthetic) all implement news.Fetcher; selection is fetcher.backend.
//   - Persistence: memory, sqlite (modernc, via sqlx) or postgres (pgx, golang-migrate). Uniqueness on
//     (topic, url) lives in the store, so concurrent inserts never double-notify.
//   - Live delivery: internal/notifier forwards each committed insert to the in-process fan-out, which
//     feeds WebSocket subscribers, and to the optional relay hub (log, pg_notify, Redis, Pub/Sub).
//   - HTTP: internal/api serves the topic, news, log and scheduler routes plus /api/v1/ws/news/{topic}, /healthz,
//     /readyz and /metrics on chi.
//
// Commands:
//   - serve: run the scheduler and the API until SIGINT/SIGTERM.
//   - scrape-once: run a single cycle, optionally registering --topic values first, and print the report.
//   - migrate: apply the embedded Postgres migrations.
//
// Quick checklist:
//   - Configure with a file (--config) or TOPICSTREAMS_* variables, for example TOPICSTREAMS_SERVER_PORT,
//     TOPICSTREAMS_STORAGE_BACKEND, TOPICSTREAMS_DATABASE_DSN. A .env file is read first when present.
//   - Run locally without network access: TOPICSTREAMS_FETCHER_BACKEND=static go run . serve
package cmd
