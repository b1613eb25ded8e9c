// Package metrics exports engine activity to Prometheus
//
// A Collector follows the persisted event stream and counts plan and node
// outcomes, interrupts, and restraint admissions. Resource unit queues are
// sampled on every scrape
package metrics
