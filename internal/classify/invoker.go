package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Classifier invokes the remote classifier with a Request and returns its
// Result. Implementations may be backed by any synchronous invocation
// transport; LambdaInvoker is the one this service ships with.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// LambdaClient is the subset of *lambda.Client LambdaInvoker depends on.
type LambdaClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker calls a synchronous AWS Lambda function reference and
// unmarshals its response body into a Result.
type LambdaInvoker struct {
	client         LambdaClient
	functionName   string
	requestTimeout time.Duration
}

// NewLambdaInvoker builds an invoker bounding every call to requestTimeout.
// A zero requestTimeout leaves the caller's context deadline untouched.
func NewLambdaInvoker(client LambdaClient, functionName string, requestTimeout time.Duration) *LambdaInvoker {
	return &LambdaInvoker{client: client, functionName: functionName, requestTimeout: requestTimeout}
}

func (l *LambdaInvoker) Classify(ctx context.Context, req Request) (Result, error) {
	if l.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.requestTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal classification request: %w", err)
	}

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.functionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return Result{}, fmt.Errorf("invoke classifier lambda %s: %w", l.functionName, err)
	}
	if out.FunctionError != nil {
		return Result{}, fmt.Errorf("classifier lambda %s returned function error: %s", l.functionName, *out.FunctionError)
	}

	var result Result
	if err := json.Unmarshal(out.Payload, &result); err != nil {
		return Result{}, fmt.Errorf("unmarshal classifier response: %w", err)
	}
	return result, nil
}
