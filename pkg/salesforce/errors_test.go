package salesforce

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestdata/forcesync/pkg/errors"
)

func errorResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name     string
		apiErr   APIError
		wantType errors.ErrorType
		wantMsg  string
	}{
		{
			name:     "request limit exceeded",
			apiErr:   APIError{ErrorCode: "REQUEST_LIMIT_EXCEEDED", Message: "TotalRequests Limit exceeded."},
			wantType: errors.ErrorTypeRateLimit,
			wantMsg:  "TotalRequests Limit exceeded.",
		},
		{
			name:     "transaction security metering",
			apiErr:   APIError{ErrorCode: "TXN_SECURITY_METERING_ERROR", Message: "Metering limit"},
			wantType: errors.ErrorTypeAuthentication,
			wantMsg:  "Exempt from Transaction Security",
		},
		{
			name:     "invalid entity",
			apiErr:   APIError{ErrorCode: "INVALIDENTITY", Message: "not supported by the Bulk API"},
			wantType: errors.ErrorTypeCapability,
			wantMsg:  "not supported by the Bulk API",
		},
		{
			name:     "daily job quota",
			apiErr:   APIError{ErrorCode: "LIMIT_EXCEEDED", Message: "ApiBatchItems Limit exceeded."},
			wantType: errors.ErrorTypeCapability,
			wantMsg:  "reached its limit for the 24-hour period",
		},
		{
			name:     "api error for an unqueryable entity",
			apiErr:   APIError{ErrorCode: "API_ERROR", Message: "API does not support query"},
			wantType: errors.ErrorTypeCapability,
			wantMsg:  "API does not support query",
		},
		{
			name:     "api error with an unrelated message",
			apiErr:   APIError{ErrorCode: "API_ERROR", Message: "unexpected internal server error"},
			wantType: errors.ErrorTypeQuery,
			wantMsg:  "unexpected internal server error",
		},
		{
			name:     "unknown code",
			apiErr:   APIError{ErrorCode: "MALFORMED_QUERY", Message: "unexpected token"},
			wantType: errors.ErrorTypeQuery,
			wantMsg:  "unexpected token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyAPIError(tt.apiErr)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantType), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDecodeAPIErrorArrayBody(t *testing.T) {
	resp := errorResponse(403, `[{"errorCode":"REQUEST_LIMIT_EXCEEDED","message":"spent"}]`)
	err := DecodeAPIError(resp)
	assert.True(t, errors.IsRateLimit(err))
}

func TestDecodeAPIErrorObjectBody(t *testing.T) {
	resp := errorResponse(400, `{"errorCode":"INVALIDENTITY","message":"nope"}`)
	err := DecodeAPIError(resp)
	assert.True(t, IsUnsupportedEntity(err))
}

func TestDecodeAPIErrorUnparseableBody(t *testing.T) {
	resp := errorResponse(502, `<html>bad gateway</html>`)
	err := DecodeAPIError(resp)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "502")
}
