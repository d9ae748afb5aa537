package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// LambdaAPI is the subset of the Lambda client we use.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker calls an AWS Lambda function synchronously.
type LambdaInvoker struct {
	client       LambdaAPI
	functionName string
}

// NewLambdaInvoker creates a LambdaInvoker using the default AWS config chain.
func NewLambdaInvoker(ctx context.Context, cfg types.BackendConfig) (*LambdaInvoker, error) {
	if cfg.FunctionName == "" {
		return nil, fmt.Errorf("lambda backend requires functionName")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewLambdaInvokerWithClient(lambda.NewFromConfig(awsCfg), cfg.FunctionName), nil
}

// NewLambdaInvokerWithClient creates a LambdaInvoker with a custom client (useful for testing).
func NewLambdaInvokerWithClient(client LambdaAPI, functionName string) *LambdaInvoker {
	return &LambdaInvoker{client: client, functionName: functionName}
}

func (l *LambdaInvoker) Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshaling lambda payload: %w", err))
	}

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.functionName),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking lambda %s: %w", l.functionName, err)
	}

	if out.FunctionError != nil {
		return nil, retry.Permanent(fmt.Errorf("lambda %s function error %s: %s",
			l.functionName, aws.ToString(out.FunctionError), truncate(out.Payload, 512)))
	}
	if out.StatusCode >= 500 {
		return nil, retry.Transient(fmt.Errorf("lambda %s returned status %d", l.functionName, out.StatusCode))
	}

	resp, err := decodeResponse(out.Payload)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return resp, nil
}
