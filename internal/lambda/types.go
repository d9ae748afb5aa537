// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/muse/pkg/types"
)

// ScheduleEvent is the input to the pipeline Lambda, normally an
// EventBridge scheduled rule.
type ScheduleEvent = events.EventBridgeEvent

// ReplayRequest is the input to the replay Lambda.
type ReplayRequest struct {
	// Filter selects operations containing it as a substring, such as "insert:"
	// or "translate:de". Empty replays every entry.
	Filter string `json:"filter"`
}

// PipelineResponse is returned by the pipeline Lambda.
type PipelineResponse struct {
	Report       types.RunReport   `json:"report"`
	Succeeded    bool              `json:"succeeded"`
	FailedStages []types.StageName `json:"failedStages,omitempty"`
}

// Service is the subset of the application the handlers drive.
type Service interface {
	Run(ctx context.Context) types.RunReport
	Replay(ctx context.Context, filter string) (types.ReplayResult, error)
}
