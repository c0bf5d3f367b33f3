package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simrun/pkg/provider"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{Bucket: "jobs"}, ""},
		{"valid with prefix", Config{Bucket: "jobs", Prefix: "simrun/prod"}, ""},
		{"missing bucket", Config{}, "Bucket"},
		{"blank bucket", Config{Bucket: "  "}, "Bucket"},
		{"half credentials", Config{Bucket: "jobs", AccessKeyID: "AKIA"}, "AccessKeyID/SecretAccessKey"},
		{"absolute prefix", Config{Bucket: "jobs", Prefix: "/simrun"}, "Prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantErr, cfgErr.Field)
			assert.Contains(t, err.Error(), "s3 config: ")
		})
	}
}

func TestNormalizedPrefix(t *testing.T) {
	assert.Equal(t, "", (&Config{}).normalizedPrefix())
	assert.Equal(t, "simrun/", (&Config{Prefix: "simrun"}).normalizedPrefix())
	assert.Equal(t, "simrun/", (&Config{Prefix: "simrun/"}).normalizedPrefix())
}

func TestKeyMapping(t *testing.T) {
	p := &Provider{bucket: "b", prefix: "simrun/"}
	assert.Equal(t, "simrun/jobs/u~s~m/in.json", p.fullKey("jobs/u~s~m/in.json"))
	assert.Equal(t, "simrun/jobs/x", p.fullKey("/jobs/x"))
	assert.Equal(t, "s3://b/simrun/", p.store())

	bare := &Provider{bucket: "b"}
	assert.Equal(t, "jobs/x", bare.fullKey("jobs/x"))
	assert.Equal(t, "", bare.fullKey(""))
}

func TestFailCarriesOperation(t *testing.T) {
	p := &Provider{bucket: "jobs", prefix: "simrun/"}

	err := p.fail(provider.OpStat, "u~s~m/request.json", &types.NoSuchKey{})
	var opErr *provider.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, provider.OpStat, opErr.Op)
	assert.Equal(t, "s3://jobs/simrun/", opErr.Store)
	assert.Equal(t, "u~s~m/request.json", opErr.Key)
	assert.True(t, provider.IsNotFound(err))
	assert.Equal(t, "stat s3://jobs/simrun/ u~s~m/request.json: object not found", err.Error())
}

// statusError stands in for an SDK response error from an S3-compatible
// store that uses its own error codes.
type statusError struct{ code int }

func (e *statusError) Error() string       { return fmt.Sprintf("StatusCode: %d", e.code) }
func (e *statusError) HTTPStatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"typed no such key", &types.NoSuchKey{}, provider.ErrNotFound},
		{"typed not found", &types.NotFound{}, provider.ErrNotFound},
		{"typed no such bucket", &types.NoSuchBucket{}, provider.ErrNoBucket},
		{"NoSuchKey", &mockAPIError{code: "NoSuchKey"}, provider.ErrNotFound},
		{"NoSuchBucket", &mockAPIError{code: "NoSuchBucket"}, provider.ErrNoBucket},
		{"AccessDenied", &mockAPIError{code: "AccessDenied"}, provider.ErrAccessDenied},
		{"InvalidAccessKeyId", &mockAPIError{code: "InvalidAccessKeyId"}, provider.ErrAccessDenied},
		{"SlowDown", &mockAPIError{code: "SlowDown"}, provider.ErrUnavailable},
		{"InternalError", &mockAPIError{code: "InternalError"}, provider.ErrUnavailable},
		{"status 404", &statusError{code: 404}, provider.ErrNotFound},
		{"status 403", &statusError{code: 403}, provider.ErrAccessDenied},
		{"status 429", &statusError{code: 429}, provider.ErrUnavailable},
		{"status 503", &statusError{code: 503}, provider.ErrUnavailable},
		{"wrapped", fmt.Errorf("operation error S3: %w", &statusError{code: 404}), provider.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.expected)
		})
	}

	assert.True(t, provider.IsUnavailable(classify(&statusError{code: 502})))

	unknown := &mockAPIError{code: "Teapot", message: "short and stout"}
	assert.Same(t, error(unknown), classify(unknown))
	plain := errors.New("connection reset")
	assert.Same(t, plain, classify(plain))
}

func TestPageSize(t *testing.T) {
	assert.Equal(t, int32(DefaultMaxKeys), pageSize(0, DefaultMaxKeys))
	assert.Equal(t, int32(250), pageSize(250, DefaultMaxKeys))
	assert.Equal(t, int32(MaxAllowedKeys), pageSize(5000, DefaultMaxKeys))
	assert.Equal(t, int32(100), pageSize(-1, 100))
}

func TestNew_ValidationError(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	var configErr *ConfigError
	assert.ErrorAs(t, err, &configErr)
}
