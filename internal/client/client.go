// Package client is the Go client for the feed API. It carries the session,
// maps error envelopes back onto utils.AppError codes, and provides the
// optimistic PostView and CommentThread models that sit on top of the
// callable endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"feedline/internal/api"
	"feedline/internal/models"
	"feedline/internal/utils"
)

// DefaultTimeout bounds one request, including commits detached from the
// caller's context.
const DefaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration

	mu      sync.RWMutex
	session *Session
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSession resumes an existing session.
func WithSession(s *Session) Option {
	return func(c *Client) { c.session = s }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Session returns the current session, or nil when signed out.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) token() string {
	if s := c.Session(); s != nil {
		return s.Token
	}
	return ""
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, username, email, password string) (*models.UserProfile, error) {
	var profile models.UserProfile
	req := api.RegisterRequest{Username: username, Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/user/register", req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Login exchanges credentials for a session and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var resp api.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/user/login", api.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Token == "" {
		return nil, utils.NewAppError(utils.ErrInvalidCredentials, resp.Error, nil)
	}
	s := &Session{UserID: resp.UserID, Username: resp.Username, Token: resp.Token, ExpiresAt: resp.ExpiresAt}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return s, nil
}

func (c *Client) Logout() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// Call invokes a callable endpoint. in is sent as the data field and the
// result is decoded into out when out is non-nil. A signed-out client fails
// locally with UNAUTHENTICATED and sends nothing.
func (c *Client) Call(ctx context.Context, name string, in, out any) error {
	if !c.Session().Valid() {
		return utils.NewUnauthenticatedError("sign in required")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return utils.NewInvalidInputError("cannot encode call data: " + err.Error())
	}
	var resp api.CallResponse
	if err := c.do(ctx, http.MethodPost, "/call/"+name, api.CallRequest{Data: data}, &resp); err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return utils.NewAppError(utils.ErrDecode, "unexpected "+name+" result", err)
	}
	return nil
}

// do sends one request and decodes a 2xx body into out. Error envelopes are
// returned as *utils.AppError with the server's code; transport failures are
// TRANSACTION_FAILURE since the outcome is unknown.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return utils.NewInvalidInputError("cannot encode request: " + err.Error())
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return utils.NewAppError(utils.ErrInvalidInput, "bad request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrTransactionFailure, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewAppError(utils.ErrDecode, "unexpected response body", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env api.CallResponse
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Status != "" {
		return utils.NewAppError(env.Error.Status, env.Error.Message, nil)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return utils.NewAppError(utils.HTTPStatusToCode(resp.StatusCode), msg, nil)
}

// IsRecoverable reports whether retrying the same action later may succeed.
func IsRecoverable(err error) bool {
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case utils.ErrTransactionFailure, utils.ErrActorTimeout, utils.ErrTooManyRequests, utils.ErrDatabase:
		return true
	}
	return false
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) ListPosts(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := c.do(ctx, http.MethodGet, "/posts"+pageQuery(limit, offset), nil, &posts)
	return posts, err
}

func (c *Client) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID), nil, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *Client) GetComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/comments", nil, &comments)
	return comments, err
}

// PostStatus is the one-time read that seeds a PostView.
func (c *Client) PostStatus(ctx context.Context, postID string) (*api.PostStatus, error) {
	var status api.PostStatus
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) SavedPosts(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := c.do(ctx, http.MethodGet, "/me/saved"+pageQuery(limit, offset), nil, &posts)
	return posts, err
}

func (c *Client) UserPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/posts%s", url.PathEscape(userID), pageQuery(limit, offset)), nil, &posts)
	return posts, err
}

func (c *Client) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SetLike calls likePost or unlikePost.
func (c *Client) SetLike(ctx context.Context, postID string, like bool) (*api.LikeResult, error) {
	name := api.CallUnlikePost
	if like {
		name = api.CallLikePost
	}
	var res api.LikeResult
	if err := c.Call(ctx, name, api.PostRef{PostID: postID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetSaved calls savePost or unsavePost.
func (c *Client) SetSaved(ctx context.Context, postID string, save bool) (*api.SaveResult, error) {
	name := api.CallUnsavePost
	if save {
		name = api.CallSavePost
	}
	var res api.SaveResult
	if err := c.Call(ctx, name, api.PostRef{PostID: postID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) AddComment(ctx context.Context, postID, text string) (string, error) {
	var res api.AddCommentResult
	in := api.AddCommentInput{PostID: postID, Text: text}
	if s := c.Session(); s != nil {
		in.Username = s.Username
	}
	if err := c.Call(ctx, api.CallAddComment, in, &res); err != nil {
		return "", err
	}
	return res.CommentID, nil
}

func (c *Client) EditComment(ctx context.Context, postID, commentID, text string) error {
	return c.Call(ctx, api.CallEditComment, api.EditCommentInput{PostID: postID, CommentID: commentID, NewText: text}, nil)
}

func (c *Client) DeleteComment(ctx context.Context, postID, commentID string) error {
	return c.Call(ctx, api.CallDeleteComment, api.CommentRef{PostID: postID, CommentID: commentID}, nil)
}

func (c *Client) CreatePost(ctx context.Context, in api.CreatePostInput) (string, error) {
	var res api.CreatePostResult
	if err := c.Call(ctx, api.CallCreatePost, in, &res); err != nil {
		return "", err
	}
	return res.PostID, nil
}

func (c *Client) EditPost(ctx context.Context, in api.EditPostInput) error {
	return c.Call(ctx, api.CallEditPost, in, nil)
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.Call(ctx, api.CallDeletePost, api.PostRef{PostID: postID}, nil)
}

func (c *Client) UpdateProfile(ctx context.Context, in api.UpdateProfileInput) error {
	return c.Call(ctx, api.CallUpdateProfile, in, nil)
}

func (c *Client) RequestVerification(ctx context.Context, docURL string) (string, error) {
	var res api.RequestResult
	if err := c.Call(ctx, api.CallRequestVerification, api.VerificationInput{DocURL: docURL}, &res); err != nil {
		return "", err
	}
	return res.RequestID, nil
}

func (c *Client) SubmitMembership(ctx context.Context, in api.MembershipInput) (string, error) {
	var res api.RequestResult
	if err := c.Call(ctx, api.CallSubmitMembership, in, &res); err != nil {
		return "", err
	}
	return res.RequestID, nil
}

func (c *Client) ReviewVerification(ctx context.Context, requestID string, approve bool) error {
	return c.Call(ctx, api.CallReviewVerification, api.ReviewInput{RequestID: requestID, Approve: approve}, nil)
}

func (c *Client) ReviewMembership(ctx context.Context, requestID string, approve bool) error {
	return c.Call(ctx, api.CallReviewMembership, api.ReviewInput{RequestID: requestID, Approve: approve}, nil)
}
