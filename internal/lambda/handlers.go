package lambda

import (
	"context"
	"fmt"

	"github.com/dwsmith1983/muse/pkg/types"
)

// HandleSchedule runs one pipeline. A run that stops early is reported in
// the response, not as an invocation error, so EventBridge does not retry it.
func HandleSchedule(ctx context.Context, d *Deps, event ScheduleEvent) (PipelineResponse, error) {
	d.Logger.Info("scheduled run",
		"source", event.Source, "detailType", event.DetailType, "eventId", event.ID)

	report := d.Service.Run(ctx)
	resp := PipelineResponse{
		Report:       report,
		Succeeded:    report.Succeeded(),
		FailedStages: report.FailedStages(),
	}
	if !resp.Succeeded {
		d.Logger.Warn("run stopped early", "runId", report.RunID, "reason", report.StopReason)
	}
	return resp, nil
}

// HandleReplay redelivers dead letters matching the request filter. Entries
// that still fail stay queued and are reported in the result.
func HandleReplay(ctx context.Context, d *Deps, req ReplayRequest) (types.ReplayResult, error) {
	res, err := d.Service.Replay(ctx, req.Filter)
	if err != nil {
		return types.ReplayResult{}, fmt.Errorf("replaying dlq: %w", err)
	}
	d.Logger.Info("dlq replay", "filter", req.Filter,
		"succeeded", res.Succeeded, "failed", res.Failed, "abandoned", res.Abandoned, "skipped", res.Skipped)
	return res, nil
}
