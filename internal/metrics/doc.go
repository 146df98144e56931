// Package metrics exports the proxy's Prometheus metrics.
//
// A single Collector is created at startup and shared by the listener,
// connections and backend registry. Its Handler is served on the address
// configured under metrics.address:
//
//	collector := metrics.NewCollector("lload", nil)
//	http.Handle("/metrics", collector.Handler())
//
// All recording methods accept a nil receiver.
package metrics
