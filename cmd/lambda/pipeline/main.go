// pipeline Lambda runs one gate, ingest, score, publish and translate pass
// per scheduled EventBridge event and returns the run report.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/muse/internal/lambda"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

func handler(ctx context.Context, event intlambda.ScheduleEvent) (intlambda.PipelineResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.PipelineResponse{}, err
	}
	return intlambda.HandleSchedule(ctx, d, event)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
