// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	GateEvaluations  = expvar.NewInt("gate_evaluations")
	GateFailures     = expvar.NewInt("gate_failures")
	FlagWriteErrors  = expvar.NewInt("gate_flag_write_errors")
	RunsTotal        = expvar.NewInt("runs_total")
	RunsStoppedEarly = expvar.NewInt("runs_stopped_early")
	StagesFailed     = expvar.NewInt("stages_failed")
	StageTimeouts    = expvar.NewInt("stage_timeouts")
	DLQRecorded      = expvar.NewInt("dlq_recorded")
	DLQDropped       = expvar.NewInt("dlq_dropped")
	DLQReplayed      = expvar.NewInt("dlq_replayed")
	AlertsDispatched = expvar.NewInt("alerts_dispatched")
	AlertsFailed     = expvar.NewInt("alerts_failed")
)
