// replay Lambda redelivers dead-lettered operations. The payload is
// {"filter": "<operation prefix>"}; an empty filter replays everything.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/muse/internal/lambda"
	"github.com/dwsmith1983/muse/pkg/types"
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

func handler(ctx context.Context, req intlambda.ReplayRequest) (types.ReplayResult, error) {
	d, err := getDeps()
	if err != nil {
		return types.ReplayResult{}, err
	}
	return intlambda.HandleReplay(ctx, d, req)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
