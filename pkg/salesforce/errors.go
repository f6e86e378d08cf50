package salesforce

import (
	"io"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/crestdata/forcesync/pkg/errors"
)

// Error codes returned in vendor JSON error bodies. Classification happens
// on these values, not on HTTP status codes, because Salesforce reuses 400
// and 403 across very different failure modes.
const (
	ErrCodeRequestLimitExceeded = "REQUEST_LIMIT_EXCEEDED"
	ErrCodeInvalidEntity        = "INVALIDENTITY"
	ErrCodeTxnSecurityMetering  = "TXN_SECURITY_METERING_ERROR"
	ErrCodeLimitExceeded        = "LIMIT_EXCEEDED"
	ErrCodeAPIError             = "API_ERROR"
)

// Fixed user-facing remediation messages. These are surfaced verbatim, so
// they must stay stable across releases.
const (
	// TransientAuthMessage is returned when a transaction security policy
	// blocks the query. Not retried; the user has to change a permission.
	TransientAuthMessage = `A transient authentication error occurred. To prevent future syncs from failing, assign the "Exempt from Transaction Security" user permission to the authenticated user.`

	// DailyJobLimitMessage is logged when the 24-hour bulk job quota is spent.
	DailyJobLimitMessage = "Your API key for Salesforce has reached its limit for the 24-hour period. We will resume replication once the limit has elapsed."

	// RateLimitMessage is the connection-check message for a spent request quota.
	RateLimitMessage = "API Call limit is exceeded"
)

// AuthErrorMessageMapping maps OAuth error descriptions to user-actionable
// remediation messages. Descriptions not listed here are reported as-is.
var AuthErrorMessageMapping = map[string]string{
	"expired access/refresh token": "The authentication to Salesforce has expired. Re-authenticate to restore access to Salesforce.",
}

// APIError is one entry of a vendor JSON error body.
type APIError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// DecodeAPIError reads and classifies an error response body. The vendor
// returns either a bare object or an array of objects; only the first entry
// is classified.
func DecodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	apiErr, ok := parseAPIError(body)
	if !ok {
		return errors.Newf(errors.ErrorTypeConnection, "request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return ClassifyAPIError(apiErr)
}

// ClassifyAPIError maps a vendor error entry onto the error taxonomy.
func ClassifyAPIError(apiErr APIError) error {
	switch apiErr.ErrorCode {
	case ErrCodeRequestLimitExceeded:
		return errors.New(errors.ErrorTypeRateLimit, apiErr.Message).
			WithDetail("errorCode", apiErr.ErrorCode)
	case ErrCodeTxnSecurityMetering:
		return errors.New(errors.ErrorTypeAuthentication, TransientAuthMessage).
			WithDetail("errorCode", apiErr.ErrorCode).
			WithDetail("vendorMessage", apiErr.Message)
	case ErrCodeInvalidEntity:
		return errors.New(errors.ErrorTypeCapability, apiErr.Message).
			WithDetail("errorCode", apiErr.ErrorCode)
	case ErrCodeLimitExceeded:
		return errors.New(errors.ErrorTypeCapability, DailyJobLimitMessage).
			WithDetail("errorCode", apiErr.ErrorCode).
			WithDetail("vendorMessage", apiErr.Message)
	case ErrCodeAPIError:
		// API_ERROR only means "use REST instead" when the message says the
		// bulk API cannot run the query. Anything else is a real failure.
		if strings.Contains(strings.ToLower(apiErr.Message), "api does not support query") {
			return errors.New(errors.ErrorTypeCapability, apiErr.Message).
				WithDetail("errorCode", apiErr.ErrorCode)
		}
		return errors.Newf(errors.ErrorTypeQuery, "%s: %s", apiErr.ErrorCode, apiErr.Message).
			WithDetail("errorCode", apiErr.ErrorCode)
	default:
		return errors.Newf(errors.ErrorTypeQuery, "%s: %s", apiErr.ErrorCode, apiErr.Message).
			WithDetail("errorCode", apiErr.ErrorCode)
	}
}

// parseAPIError decodes `{...}` or `[{...}]` error bodies.
func parseAPIError(body []byte) (APIError, bool) {
	var list []APIError
	if err := gojson.Unmarshal(body, &list); err == nil && len(list) > 0 && list[0].ErrorCode != "" {
		return list[0], true
	}

	var single APIError
	if err := gojson.Unmarshal(body, &single); err == nil && (single.ErrorCode != "" || single.Message != "") {
		return single, true
	}

	return APIError{}, false
}

// IsUnsupportedEntity reports whether the error means the bulk API rejected
// the entity at job creation. This triggers fallback to REST, not a failure.
func IsUnsupportedEntity(err error) bool {
	return errors.IsType(err, errors.ErrorTypeCapability)
}
