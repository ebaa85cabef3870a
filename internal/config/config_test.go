package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresQueueURL(t *testing.T) {
	t.Setenv("SQS_CONVERSATION_QUEUE_URL", "")
	t.Setenv("BILLING_API_BASE_URL", "https://billing.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQS_CONVERSATION_QUEUE_URL")
}

func TestLoad_RequiresBillingBaseURL(t *testing.T) {
	t.Setenv("SQS_CONVERSATION_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/conversations")
	t.Setenv("BILLING_API_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BILLING_API_BASE_URL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SQS_CONVERSATION_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/conversations")
	t.Setenv("BILLING_API_BASE_URL", "https://billing.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, int32(20), cfg.Queue.WaitTimeSeconds)
	assert.Equal(t, int32(10), cfg.Queue.MaxNumberOfMessages)
	assert.Equal(t, "conversation-hot-messages", cfg.HotStore.TableName)
	assert.Equal(t, int32(16), cfg.DurableStore.MaxConns)
	assert.Equal(t, "nexus.datalake", cfg.SideEffect.DataLakeSubject)
	assert.Equal(t, "nexus.classification", cfg.SideEffect.ClassificationSubject)
	assert.Len(t, cfg.Billing.RetryDelays, 5)
	assert.Equal(t, 30, int(cfg.Shutdown.OverallTimeout.Seconds()))
}

func TestParseRetryDelays_SupportsDays(t *testing.T) {
	delays, err := parseRetryDelays("1s, 2d")
	require.NoError(t, err)
	require.Len(t, delays, 2)
}
