/*
Package metrics defines and registers the Prometheus metrics exposed by a
flowmesh process: topology shape (blocks, flows, net-iogress pairs), commit
and work-loop timing, and buffer/token/message back-pressure gauges.

Metrics are registered against the default Prometheus registry at package
init and exposed via Handler() for scraping.

# Usage

	timer := metrics.NewTimer()
	err := block.Work(ctx)
	timer.ObserveDuration(metrics.WorkLatency)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
