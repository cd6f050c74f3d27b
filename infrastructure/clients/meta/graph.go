package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"crosspost/domain/failure"

	"github.com/google/go-querystring/query"
)

// Graph API error codes that are not expressed through the HTTP status.
// https://developers.facebook.com/docs/graph-api/guides/error-handling
const (
	codeAPIUnknown        = 1
	codeAPIService        = 2
	codeTooManyCalls      = 4
	codeUserTooManyCalls  = 17
	codeAPIPermission     = 10
	codePageTooManyCalls  = 32
	codeAccessTokenExpiry = 190
	codeCustomRateLimit   = 613
)

// GraphError is the error envelope returned by the Graph API.
type GraphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	UserMessage  string `json:"error_user_msg"`
	TraceID      string `json:"fbtrace_id"`
}

// Client calls the Graph API on behalf of one platform adapter.
type Client struct {
	baseURL    string
	platform   string
	httpClient *http.Client
}

func NewClient(baseURL, platform string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), platform: platform, httpClient: httpClient}
}

// Get issues a GET with params encoded from a struct carrying url tags.
func (c *Client) Get(ctx context.Context, path, accessToken string, params interface{}, out interface{}) error {
	v, err := c.values(accessToken, params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path)+"?"+v.Encode(), nil)
	if err != nil {
		return failure.Wrap(failure.ConfigurationError, c.platform, err)
	}
	return c.do(req, out)
}

// Post sends params as a form body. extra is appended verbatim for
// repeated or indexed keys the struct encoding cannot express.
func (c *Client) Post(ctx context.Context, path, accessToken string, params interface{}, extra url.Values, out interface{}) error {
	v, err := c.values(accessToken, params)
	if err != nil {
		return err
	}
	for k, vals := range extra {
		for _, s := range vals {
			v.Add(k, s)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(v.Encode()))
	if err != nil {
		return failure.Wrap(failure.ConfigurationError, c.platform, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) Delete(ctx context.Context, path, accessToken string) error {
	v := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(path)+"?"+v.Encode(), nil)
	if err != nil {
		return failure.Wrap(failure.ConfigurationError, c.platform, err)
	}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(req, &out); err != nil {
		return err
	}
	if !out.Success {
		return failure.New(failure.Unknown, c.platform, "delete was not acknowledged")
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) values(accessToken string, params interface{}) (url.Values, error) {
	v := url.Values{}
	if params != nil {
		encoded, err := query.Values(params)
		if err != nil {
			return nil, failure.Wrap(failure.Validation, c.platform, fmt.Errorf("encode request: %w", err))
		}
		v = encoded
	}
	v.Set("access_token", accessToken)
	return v, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return failure.Wrap(failure.TransientNetwork, c.platform, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure.Wrap(failure.TransientNetwork, c.platform, err)
	}
	if resp.StatusCode/100 != 2 {
		return c.classify(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return failure.Wrap(failure.Unknown, c.platform, fmt.Errorf("decode graph response: %w", err))
	}
	return nil
}

func (c *Client) classify(status int, body []byte) error {
	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return failure.FromHTTPStatus(c.platform, status, strings.TrimSpace(string(body)))
	}
	ge := envelope.Error
	msg := ge.Message
	if ge.UserMessage != "" {
		msg = ge.UserMessage
	}
	fe := failure.FromHTTPStatus(c.platform, status, msg)
	switch ge.Code {
	case codeAccessTokenExpiry:
		fe.Code = failure.AuthInvalid
	case codeTooManyCalls, codeUserTooManyCalls, codePageTooManyCalls, codeCustomRateLimit:
		fe.Code = failure.RateLimited
	case codeAPIUnknown, codeAPIService:
		fe.Code = failure.TransientNetwork
	case codeAPIPermission:
		// Missing permission is a configuration problem of the linked app, not a dead token.
		fe.Code = failure.ConfigurationError
	}
	return fe
}
