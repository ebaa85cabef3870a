package classify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLambdaClient struct {
	output *lambda.InvokeOutput
	err    error
	lastInput *lambda.InvokeInput
}

func (f *fakeLambdaClient) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestLambdaInvoker_ParsesSuccessfulResponse(t *testing.T) {
	topicID := uuid.New()
	body, err := json.Marshal(Result{TopicUUID: &topicID, Confidence: 0.75})
	require.NoError(t, err)

	client := &fakeLambdaClient{output: &lambda.InvokeOutput{Payload: body}}
	invoker := NewLambdaInvoker(client, "classifier-fn", 0)

	result, err := invoker.Classify(context.Background(), Request{ConversationUUID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, topicID, *result.TopicUUID)
	assert.Equal(t, 0.75, result.Confidence)
	require.NotNil(t, client.lastInput.FunctionName)
	assert.Equal(t, "classifier-fn", *client.lastInput.FunctionName)
}

func TestLambdaInvoker_FunctionErrorIsReturned(t *testing.T) {
	msg := "unhandled"
	client := &fakeLambdaClient{output: &lambda.InvokeOutput{FunctionError: &msg}}
	invoker := NewLambdaInvoker(client, "classifier-fn", 0)

	_, err := invoker.Classify(context.Background(), Request{})
	require.Error(t, err)
}

func TestLambdaInvoker_InvokeErrorPropagates(t *testing.T) {
	client := &fakeLambdaClient{err: errors.New("throttled")}
	invoker := NewLambdaInvoker(client, "classifier-fn", 0)

	_, err := invoker.Classify(context.Background(), Request{})
	require.Error(t, err)
}
