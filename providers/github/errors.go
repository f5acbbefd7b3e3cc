package github

import (
	"context"
	"errors"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/goliatone/go-commit-hooks/core"
)

const (
	headerOAuthScopes = "X-OAuth-Scopes"
	headerRateLimit   = "X-RateLimit-Limit"
)

// classify maps a go-github failure onto the remote error taxonomy. Delete
// calls set requireAdmin so that write grade tokens count as a scope mismatch.
func classify(resp *gh.Response, err error, requireAdmin bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	message := errorMessage(err)

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return core.NewRemoteError(core.RemoteUnexpected, statusOf(resp), message, err)
	}

	status := statusOf(resp)
	switch {
	case status == 0:
		return core.NewRemoteError(core.RemoteUnexpected, 0, message, err)
	case status == http.StatusMovedPermanently,
		status == http.StatusFound,
		status == http.StatusTemporaryRedirect,
		status == http.StatusPermanentRedirect:
		return core.NewRemoteError(core.RemoteMoved, status, message, err)
	case status == http.StatusUnauthorized:
		return core.NewRemoteError(core.RemoteInvalidCredentials, status, message, err)
	case status == http.StatusForbidden, status == http.StatusNotFound:
		scopes, hasScopes := oauthScopes(resp)
		classified := core.ClassifyAccessDenied(status, scopes, hasScopes, requireAdmin, message)
		classified.Cause = err
		return classified
	case status >= http.StatusInternalServerError:
		return core.NewRemoteError(core.RemoteInternalServerError, status, message, err)
	default:
		return core.NewRemoteError(core.RemoteUnexpected, status, message, err)
	}
}

func statusOf(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func oauthScopes(resp *gh.Response) (string, bool) {
	if resp == nil || resp.Response == nil {
		return "", false
	}
	values := resp.Header.Values(headerOAuthScopes)
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, ","), true
}

// errorMessage keeps the validation details GitHub returns next to the
// top-level message, e.g. "Validation Failed: Hook already exists on this
// repository".
func errorMessage(err error) string {
	var errResp *gh.ErrorResponse
	if !errors.As(err, &errResp) || errResp == nil {
		return err.Error()
	}
	parts := []string{}
	if message := strings.TrimSpace(errResp.Message); message != "" {
		parts = append(parts, message)
	}
	details := []string{}
	for _, detail := range errResp.Errors {
		if message := strings.TrimSpace(detail.Message); message != "" {
			details = append(details, message)
		}
	}
	if len(details) > 0 {
		parts = append(parts, strings.Join(details, "; "))
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, ": ")
}
