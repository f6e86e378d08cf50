// Package salesforce implements the vendor API client shared by the bulk
// and REST read paths: OAuth login, object metadata discovery, error
// classification and URL construction.
package salesforce

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/crestdata/forcesync/pkg/clients"
	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
	"github.com/crestdata/forcesync/pkg/metrics"
)

const (
	// DefaultAPIVersion is the Salesforce REST API version used when the
	// config does not override it.
	DefaultAPIVersion = "v57.0"

	// RequestSizeLimit is the documented ceiling on a REST query URL.
	// Property chunking keeps every generated URL under this bound.
	RequestSizeLimit = 16384
)

// Client is the authenticated Salesforce API client.
type Client struct {
	http        *clients.HTTPClient
	logger      *zap.Logger
	auth        *Authenticator
	tokenSource oauth2.TokenSource
	instanceURL string
	version     string
}

// NewClient creates an unauthenticated client; call Login before use.
func NewClient(cfg config.SalesforceConfig, httpClient *clients.HTTPClient) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	return &Client{
		http:        httpClient,
		logger:      logger.Get().With(zap.String("component", "salesforce_api")),
		auth:        NewAuthenticator(cfg),
		instanceURL: strings.TrimSuffix(cfg.InstanceURL, "/"),
		version:     version,
	}
}

// NewStaticClient creates a client with a fixed token and instance URL.
// Used by tests and by callers that manage their own token lifecycle.
func NewStaticClient(instanceURL, accessToken string, httpClient *clients.HTTPClient) *Client {
	return &Client{
		http:        httpClient,
		logger:      logger.Get().With(zap.String("component", "salesforce_api")),
		tokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
		instanceURL: strings.TrimSuffix(instanceURL, "/"),
		version:     DefaultAPIVersion,
	}
}

// Login performs the OAuth refresh flow and resolves the instance URL.
func (c *Client) Login(ctx context.Context) error {
	ts, instanceURL, err := c.auth.Login(ctx)
	if err != nil {
		metrics.APIRequests.WithLabelValues("token", "error").Inc()
		return err
	}
	metrics.APIRequests.WithLabelValues("token", "ok").Inc()

	c.tokenSource = ts
	if c.instanceURL == "" {
		c.instanceURL = strings.TrimSuffix(instanceURL, "/")
	}

	c.logger.Info("authenticated", zap.String("instance_url", c.instanceURL))
	return nil
}

// InstanceURL returns the API host for the authenticated org.
func (c *Client) InstanceURL() string {
	return c.instanceURL
}

// Version returns the API version in use.
func (c *Client) Version() string {
	return c.version
}

// RestURL joins path elements under /services/data/{version}/.
func (c *Client) RestURL(parts ...string) string {
	return c.instanceURL + "/services/data/" + c.version + "/" + strings.Join(parts, "/")
}

// AuthHeaders returns the authorization headers for a request.
func (c *Client) AuthHeaders() (map[string]string, error) {
	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain access token")
	}
	return map[string]string{
		"Authorization": "Bearer " + token.AccessToken,
		"Content-Type":  "application/json",
	}, nil
}

// Do performs an authenticated request and decodes error bodies on
// non-2xx responses. The caller owns the response body on success.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, endpoint string) (*http.Response, error) {
	headers, err := c.AuthHeaders()
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	switch method {
	case http.MethodGet:
		resp, err = c.http.Get(ctx, url, headers)
	case http.MethodPost:
		resp, err = c.http.Post(ctx, url, body, headers)
	case http.MethodPatch:
		resp, err = c.http.Patch(ctx, url, body, headers)
	case http.MethodDelete:
		resp, err = c.http.Delete(ctx, url, headers)
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unsupported method %s", method)
	}
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}

	metrics.APIRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, DecodeAPIError(resp)
	}

	return resp, nil
}

// DoRaw performs a request with caller-supplied headers. Used for result
// downloads where the caller controls Accept-Encoding and reads the raw body.
func (c *Client) DoRaw(ctx context.Context, method, url string, headers map[string]string, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}

	metrics.APIRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, DecodeAPIError(resp)
	}

	return resp, nil
}

// GetJSON performs an authenticated GET and decodes the JSON response.
func (c *Client) GetJSON(ctx context.Context, url string, endpoint string, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, url, nil, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := gojson.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}
	return nil
}

// PostJSON performs an authenticated POST with a JSON body and decodes the
// JSON response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, endpoint string, in, out interface{}) error {
	payload, err := gojson.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode request")
	}

	resp, err := c.Do(ctx, http.MethodPost, url, strings.NewReader(string(payload)), endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := gojson.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}
	return nil
}

// PatchJSON performs an authenticated PATCH with a JSON body. The response
// body is discarded.
func (c *Client) PatchJSON(ctx context.Context, url string, endpoint string, in interface{}) error {
	payload, err := gojson.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode request")
	}

	resp, err := c.Do(ctx, http.MethodPatch, url, strings.NewReader(string(payload)), endpoint)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
