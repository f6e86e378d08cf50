package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesTypeAndStack(t *testing.T) {
	err := New(ErrorTypeRateLimit, "spent")
	assert.True(t, IsType(err, ErrorTypeRateLimit))
	assert.True(t, IsRateLimit(err))
	assert.NotEmpty(t, err.Stack)
	assert.Contains(t, err.Error(), "spent")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := Wrap(cause, ErrorTypeConnection, "request failed")

	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeConnection))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "request failed")
	assert.Contains(t, err.Error(), "socket closed")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestIsTypeSeesThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeRateLimit, "spent")
	outer := Wrap(inner, ErrorTypeQuery, "query aborted")

	// The outer type wins for IsType, but the rate limit is still
	// discoverable through the chain by unwrapping.
	assert.True(t, IsType(outer, ErrorTypeQuery))
	assert.True(t, IsRateLimit(inner))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeCapability, "not supported").
		WithDetail("errorCode", "INVALIDENTITY").
		WithDetail("entity", "AcceptedEventRelation")

	assert.Equal(t, "INVALIDENTITY", err.Details["errorCode"])
	assert.Equal(t, "AcceptedEventRelation", err.Details["entity"])
}

func TestWrapfFormats(t *testing.T) {
	err := Wrapf(fmt.Errorf("base"), ErrorTypeData, "row %d is malformed", 7)
	assert.Contains(t, err.Error(), "row 7 is malformed")
}
