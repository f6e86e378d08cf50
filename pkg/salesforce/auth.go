package salesforce

import (
	"context"
	stderrors "errors"

	gojson "github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/errors"
)

// Authenticator performs the OAuth2 refresh-token flow against the vendor
// token endpoint and exposes the resulting token source. The token response
// carries the org's instance URL as an extra field; everything after login
// talks to that host.
type Authenticator struct {
	oauthCfg     *oauth2.Config
	refreshToken string
}

// NewAuthenticator builds an authenticator from connected-app credentials.
func NewAuthenticator(cfg config.SalesforceConfig) *Authenticator {
	return &Authenticator{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.AuthURL,
			},
		},
		refreshToken: cfg.RefreshToken,
	}
}

// Login exchanges the refresh token for an access token and resolves the
// instance URL. OAuth error descriptions with a known remediation are
// surfaced as config errors with the fixed message.
func (a *Authenticator) Login(ctx context.Context) (oauth2.TokenSource, string, error) {
	ts := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.refreshToken})

	token, err := ts.Token()
	if err != nil {
		return nil, "", a.classifyLoginError(err)
	}

	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, "", errors.New(errors.ErrorTypeAuthentication, "token response did not include instance_url")
	}

	return oauth2.ReuseTokenSource(token, ts), instanceURL, nil
}

// classifyLoginError maps OAuth failures onto the error taxonomy. Known
// error descriptions become user-actionable config errors.
func (a *Authenticator) classifyLoginError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if jsonErr := gojson.Unmarshal(retrieveErr.Body, &payload); jsonErr == nil {
			if msg, ok := AuthErrorMessageMapping[payload.ErrorDescription]; ok {
				return errors.New(errors.ErrorTypeConfig, msg).
					WithDetail("error", payload.Error).
					WithDetail("error_description", payload.ErrorDescription)
			}
			return errors.Newf(errors.ErrorTypeAuthentication, "An error occurred: %s", string(retrieveErr.Body))
		}
	}

	return errors.Wrap(err, errors.ErrorTypeAuthentication, "login failed")
}
