package aws

import (
	"context"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	t.Setenv("AWS_ENDPOINT_URL", "")
	cfg, err := LoadAWSConfig(context.Background(), Settings{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Nil(t, cfg.BaseEndpoint)
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), Settings{Region: "ap-south-1", Endpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)
}

func TestClientsFromConfig(t *testing.T) {
	c := ClientsFromConfig(sdkaws.Config{Region: "us-east-1"})
	assert.NotNil(t, c.DynamoDB)
	assert.NotNil(t, c.SQS)
	assert.NotNil(t, c.CloudWatch)
}
