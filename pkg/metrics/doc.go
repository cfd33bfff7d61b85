/*
Package metrics provides Prometheus metrics collection and exposition for
nexus.

The metrics package defines and registers every nexus_* metric using the
Prometheus client library: session and transaction counts, per-statement
query latency, LIVE SELECT notification throughput, HNSW layer sizes and
search latency, and view-maintenance counters. Metrics are exposed via
an HTTP endpoint for scraping.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "SELECT")
*/
package metrics
