package agent

import metrics "github.com/docker/go-metrics"

// agentMetrics counts delivery through the agent. Counts only; record
// contents are never interpreted.
type agentMetrics struct {
	recordsPushed metrics.LabeledCounter
	bytesPushed   metrics.LabeledCounter
	sinkErrors    metrics.Counter
}

func newAgentMetrics(ns *metrics.Namespace) *agentMetrics {
	return &agentMetrics{
		recordsPushed: ns.NewLabeledCounter("records_pushed", "The number of records accepted from plugins", "source"),
		bytesPushed:   ns.NewLabeledCounter("bytes_pushed", "The number of record bytes accepted from plugins", "source"),
		sinkErrors:    ns.NewCounter("sink_errors", "The number of records a sink failed to accept"),
	}
}
