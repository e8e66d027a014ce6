package duelapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HeaderProvider allows injecting per-request headers (session tokens etc).
type HeaderProvider func() map[string]string

// Client is the outbound transport to the duello match service. It performs
// no retries; retry policy belongs to the callers that poll.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string { return c.baseURL }

// ---- profile ----

func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Msg: "user id required"}
	}
	var resp struct {
		Success bool    `json:"success"`
		Profile Profile `json:"profile"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/duello/profile/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Profile, nil
}

func (c *Client) SetReady(ctx context.Context, userID string, ready bool) error {
	req := map[string]any{"user_id": userID, "ready": ready}
	return c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/ready", req, nil)
}

func (c *Client) SetVisibility(ctx context.Context, userID string, mode VisibilityMode) error {
	req := map[string]any{"user_id": userID, "visibility_mode": mode}
	return c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/visibility", req, nil)
}

// ---- invites ----

func (c *Client) CreateInvite(ctx context.Context, fromUserID, toUserCode string, mode DuelMode) error {
	if strings.TrimSpace(toUserCode) == "" {
		return &ValidationError{Msg: "target user code required"}
	}
	req := map[string]any{"from_user_id": fromUserID, "to_user_code": toUserCode, "mode": mode}
	return c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/invite", req, nil)
}

func (c *Client) Inbox(ctx context.Context, userID string) ([]Invite, error) {
	return c.inviteList(ctx, "/api/duello/inbox/"+url.PathEscape(userID))
}

func (c *Client) Outbox(ctx context.Context, userID string) ([]Invite, error) {
	return c.inviteList(ctx, "/api/duello/outbox/"+url.PathEscape(userID))
}

func (c *Client) inviteList(ctx context.Context, path string) ([]Invite, error) {
	var resp struct {
		Success bool     `json:"success"`
		Invites []Invite `json:"invites"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Invites, nil
}

// RespondInvite accepts or rejects an inbound invite. On accept the response
// carries the freshly created match id; no extra fetch is needed.
func (c *Client) RespondInvite(ctx context.Context, inviteID, userID, action string) (*RespondResult, error) {
	if action != "accept" && action != "reject" {
		return nil, &ValidationError{Msg: "action must be accept or reject"}
	}
	req := map[string]any{"invite_id": inviteID, "user_id": userID, "action": action}
	var resp struct {
		Success bool `json:"success"`
		Match   *struct {
			ID string `json:"id"`
		} `json:"match,omitempty"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/invite/respond", req, &resp); err != nil {
		return nil, err
	}
	out := &RespondResult{}
	if resp.Match != nil {
		out.MatchID = resp.Match.ID
	}
	return out, nil
}

func (c *Client) CancelInvite(ctx context.Context, inviteID, userID string) error {
	req := map[string]any{"invite_id": inviteID, "user_id": userID}
	return c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/invite/cancel", req, nil)
}

// ActiveMatch returns the id of the caller's running match, or "" when none.
func (c *Client) ActiveMatch(ctx context.Context, userID string) (string, error) {
	var resp struct {
		Success bool `json:"success"`
		Match   *struct {
			ID string `json:"id"`
		} `json:"match,omitempty"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/duello/active-match/"+url.PathEscape(userID), nil, &resp); err != nil {
		return "", err
	}
	if resp.Match == nil {
		return "", nil
	}
	return resp.Match.ID, nil
}

// ResolveUserCode maps a short share code to a user id.
func (c *Client) ResolveUserCode(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", &ValidationError{Msg: "user code required"}
	}
	var resp struct {
		Success bool `json:"success"`
		User    *struct {
			ID string `json:"id"`
		} `json:"user,omitempty"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/duello/user-code/"+url.PathEscape(code), nil, &resp); err != nil {
		return "", err
	}
	if resp.User == nil {
		return "", nil
	}
	return resp.User.ID, nil
}

// ---- live match ----

func (c *Client) MatchStatus(ctx context.Context, matchID, userID string) (*MatchStatus, error) {
	path := fmt.Sprintf("/api/duello/match/%s/status?user_id=%s", url.PathEscape(matchID), url.QueryEscape(userID))
	var st MatchStatus
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, matchID, userID string, answer AnswerValue, timeLeftSeconds, maxTimeSeconds int) (*AnswerResult, error) {
	req := map[string]any{
		"user_id":           userID,
		"answer":            answer,
		"time_left_seconds": timeLeftSeconds,
		"max_time_seconds":  maxTimeSeconds,
	}
	var resp AnswerResult
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/match/"+url.PathEscape(matchID)+"/answer", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Reveal(ctx context.Context, matchID, userID string) error {
	req := map[string]any{"user_id": userID}
	return c.doJSON(ctx, fasthttp.MethodPost, "/api/duello/match/"+url.PathEscape(matchID)+"/reveal", req, nil)
}

func (c *Client) MatchSummary(ctx context.Context, matchID, userID string) (*MatchSummary, error) {
	path := fmt.Sprintf("/api/duello/match/%s/summary?user_id=%s", url.PathEscape(matchID), url.QueryEscape(userID))
	var sum MatchSummary
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// ---- core ----

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return &NetworkError{Err: err}
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return &HTTPError{Status: status, Message: serverMessage(resp.Body())}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

// serverMessage extracts the server's error text from a failure body.
func serverMessage(body []byte) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return truncate(strings.TrimSpace(string(body)), 512)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
