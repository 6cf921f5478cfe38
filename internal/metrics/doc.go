// Package metrics aggregates the outcomes of simulated completion requests.
//
// A [Collector] is fed one call per settled request:
//
//	c := metrics.NewCollector()
//	c.RecordRequest(latency, tokens, err)
//	stats := c.Stats(elapsed)
//
// Latency percentiles come from an HDR histogram (1µs to 60s, 3 significant
// figures). The mean is kept as a running average so the value shown while a
// run is in progress is the same one a settlement-by-settlement view would
// compute. Failures are bucketed by [ErrorLabel]: gateway responses by status
// code, timeouts together, anything else by error type.
//
// Collectors from several runs can be combined with [Collector.Merge].
package metrics
