package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURLString          = "https://api.github.com"
	defaultPerPage                = 100
	followersPathFormat           = "/users/%s/followers"
	followingPathFormat           = "/users/%s/following"
	relationshipPathFormat        = "/user/following/%s"
	perPageQueryParameter         = "per_page"
	pageQueryParameter            = "page"
	acceptHeaderName              = "Accept"
	acceptHeaderValue             = "application/vnd.github+json"
	authorizationHeaderName       = "Authorization"
	authorizationHeaderFormat     = "Bearer %s"
	userAgentHeaderName           = "User-Agent"
	userAgentHeaderValue          = "GSync/1.0"
	retryAfterHeaderName          = "Retry-After"
	rateLimitRemainingHeaderName  = "X-RateLimit-Remaining"
	rateLimitResetHeaderName      = "X-RateLimit-Reset"
	errMessageEmptyUsername       = "username cannot be empty"
	errMessageEmptyToken          = "token cannot be empty"
	errMessageEmptyLogin          = "login cannot be empty"
	errMessageInvalidCredentials  = "credentials rejected by the platform"
	errMessageRateLimited         = "request throttled by the platform"
	errMessageTargetMissing       = "target account does not exist"
	errMessageServerFailure       = "platform returned a server error"
	errMessageUnexpectedStatus    = "unexpected status code"
	errMessageRequestFailed       = "request transport failure"
	errMessageDecodeResponse      = "decode response body"
	maxDrainedResponseBytes       = 4 * 1024
	defaultDialTimeout            = 5 * time.Second
	defaultTLSHandshakeTimeout    = 5 * time.Second
	defaultResponseHeaderTimeout  = 10 * time.Second
	defaultHTTPTimeout            = 30 * time.Second
	defaultMaxIdleConnectionCount = 16
)

// Config customizes a Client instance.
type Config struct {
	Username string
	Token    string
	BaseURL  string
	Client   *http.Client
	PerPage  int
}

// Client talks to the platform's user-graph endpoints and translates
// transport-level signals into the typed error taxonomy. It performs no
// retries of its own.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	username   string
	token      string
	perPage    int
}

type userEnvelope struct {
	Login string `json:"login"`
}

// NewClient constructs a Client with explicit transport timeouts.
func NewClient(configuration Config) (*Client, error) {
	username := NormalizeLogin(configuration.Username)
	if username == "" {
		return nil, NewValidationError(errMessageEmptyUsername)
	}
	if strings.TrimSpace(configuration.Token) == "" {
		return nil, NewValidationError(errMessageEmptyToken)
	}

	baseURLString := configuration.BaseURL
	if strings.TrimSpace(baseURLString) == "" {
		baseURLString = defaultBaseURLString
	}
	parsedBaseURL, err := url.Parse(baseURLString)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultHTTPTimeout
	}

	perPage := configuration.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	client := &Client{
		httpClient: httpClient,
		baseURL:    parsedBaseURL,
		username:   username,
		token:      strings.TrimSpace(configuration.Token),
		perPage:    perPage,
	}
	return client, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultHTTPTimeout,
		Transport: defaultTransport(),
	}
}

func defaultTransport() http.RoundTripper {
	return &http.Transport{
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConnectionCount,
	}
}

// NormalizeLogin canonicalizes a login for set membership. The platform
// treats logins case-insensitively.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// ListFollowers returns the deduplicated set of logins following the
// authenticated user, paginating until exhausted.
func (client *Client) ListFollowers(ctx context.Context) (map[string]struct{}, error) {
	return client.listAllPages(ctx, fmt.Sprintf(followersPathFormat, client.username))
}

// ListFollowing returns the deduplicated set of logins the authenticated user
// follows, paginating until exhausted.
func (client *Client) ListFollowing(ctx context.Context) (map[string]struct{}, error) {
	return client.listAllPages(ctx, fmt.Sprintf(followingPathFormat, client.username))
}

// ListFollowersOf returns one page of followers for an arbitrary login. Used
// by promotion discovery to sample the second-degree network.
func (client *Client) ListFollowersOf(ctx context.Context, login string, page int) ([]string, error) {
	normalizedLogin := NormalizeLogin(login)
	if normalizedLogin == "" {
		return nil, NewValidationError(errMessageEmptyLogin)
	}
	if page < 1 {
		page = 1
	}
	return client.listPage(ctx, fmt.Sprintf(followersPathFormat, normalizedLogin), page)
}

// Follow follows the target login. Following an already-followed user is a
// benign no-op on the platform side and returns nil.
func (client *Client) Follow(ctx context.Context, login string) error {
	return client.mutateRelationship(ctx, http.MethodPut, login)
}

// Unfollow unfollows the target login. Unfollowing a user that is not
// currently followed is a benign no-op and returns nil.
func (client *Client) Unfollow(ctx context.Context, login string) error {
	return client.mutateRelationship(ctx, http.MethodDelete, login)
}

func (client *Client) listAllPages(ctx context.Context, path string) (map[string]struct{}, error) {
	logins := make(map[string]struct{})
	for page := 1; ; page++ {
		pageLogins, err := client.listPage(ctx, path, page)
		if err != nil {
			return nil, err
		}
		for _, login := range pageLogins {
			logins[login] = struct{}{}
		}
		if len(pageLogins) < client.perPage {
			return logins, nil
		}
	}
}

func (client *Client) listPage(ctx context.Context, path string, page int) ([]string, error) {
	requestURL := client.baseURL.ResolveReference(&url.URL{Path: path})
	queryValues := requestURL.Query()
	queryValues.Set(perPageQueryParameter, strconv.Itoa(client.perPage))
	queryValues.Set(pageQueryParameter, strconv.Itoa(page))
	requestURL.RawQuery = queryValues.Encode()

	httpResponse, err := client.do(ctx, http.MethodGet, requestURL.String())
	if err != nil {
		return nil, err
	}
	defer drainAndClose(httpResponse.Body)

	if classificationErr := classifyStatus(httpResponse); classificationErr != nil {
		return nil, classificationErr
	}

	var users []userEnvelope
	if decodeErr := json.NewDecoder(io.LimitReader(httpResponse.Body, 1<<20)).Decode(&users); decodeErr != nil {
		return nil, NewNetworkError(errMessageDecodeResponse, decodeErr)
	}

	logins := make([]string, 0, len(users))
	for _, user := range users {
		normalizedLogin := NormalizeLogin(user.Login)
		if normalizedLogin != "" {
			logins = append(logins, normalizedLogin)
		}
	}
	return logins, nil
}

func (client *Client) mutateRelationship(ctx context.Context, method string, login string) error {
	normalizedLogin := NormalizeLogin(login)
	if normalizedLogin == "" {
		return NewValidationError(errMessageEmptyLogin)
	}

	requestURL := client.baseURL.ResolveReference(&url.URL{Path: fmt.Sprintf(relationshipPathFormat, normalizedLogin)})
	httpResponse, err := client.do(ctx, method, requestURL.String())
	if err != nil {
		return err
	}
	defer drainAndClose(httpResponse.Body)

	return classifyStatus(httpResponse)
}

func (client *Client) do(ctx context.Context, method string, requestURL string) (*http.Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpRequest.Header.Set(acceptHeaderName, acceptHeaderValue)
	httpRequest.Header.Set(authorizationHeaderName, fmt.Sprintf(authorizationHeaderFormat, client.token))
	httpRequest.Header.Set(userAgentHeaderName, userAgentHeaderValue)

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return nil, NewNetworkError(errMessageRequestFailed, err)
	}
	return httpResponse, nil
}

// classifyStatus maps a response status into the error taxonomy. A nil return
// marks success.
func classifyStatus(httpResponse *http.Response) error {
	statusCode := httpResponse.StatusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return statusError(NewAuthError(errMessageInvalidCredentials), statusCode)
	case statusCode == http.StatusTooManyRequests:
		return statusError(NewRateLimitError(errMessageRateLimited, retryAfterFromHeaders(httpResponse)), statusCode)
	case statusCode == http.StatusForbidden:
		if isRateLimitExhausted(httpResponse) {
			return statusError(NewRateLimitError(errMessageRateLimited, retryAfterFromHeaders(httpResponse)), statusCode)
		}
		return statusError(NewAuthError(errMessageInvalidCredentials), statusCode)
	case statusCode == http.StatusNotFound:
		return statusError(NewNotFoundError(errMessageTargetMissing), statusCode)
	case statusCode >= 500:
		return statusError(NewNetworkError(errMessageServerFailure, nil), statusCode)
	default:
		return statusError(NewNetworkError(fmt.Sprintf("%s: %d", errMessageUnexpectedStatus, statusCode), nil), statusCode)
	}
}

func statusError(classifiedError *Error, statusCode int) *Error {
	classifiedError.StatusCode = statusCode
	return classifiedError
}

// isRateLimitExhausted distinguishes a throttling 403 from a permission 403.
func isRateLimitExhausted(httpResponse *http.Response) bool {
	return httpResponse.Header.Get(rateLimitRemainingHeaderName) == "0"
}

func retryAfterFromHeaders(httpResponse *http.Response) time.Duration {
	if retryAfterValue := httpResponse.Header.Get(retryAfterHeaderName); retryAfterValue != "" {
		if seconds, parseErr := strconv.Atoi(strings.TrimSpace(retryAfterValue)); parseErr == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if resetValue := httpResponse.Header.Get(rateLimitResetHeaderName); resetValue != "" {
		if resetUnix, parseErr := strconv.ParseInt(strings.TrimSpace(resetValue), 10, 64); parseErr == nil {
			if wait := time.Until(time.Unix(resetUnix, 0)); wait > 0 {
				return wait
			}
		}
	}
	return 0
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, maxDrainedResponseBytes))
	body.Close()
}
