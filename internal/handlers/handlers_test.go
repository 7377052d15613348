package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feedline/internal/api"
	"feedline/internal/config"
	"feedline/internal/database"
	"feedline/internal/engine"
	"feedline/internal/engine/actors"
	"feedline/internal/events"
	"feedline/internal/middleware"
	"feedline/internal/models"
	"feedline/internal/utils"
	"feedline/internal/websocket"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*httptest.Server
	db  database.DBAdapter
	hub *websocket.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitializeTables(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(ctx)
	broker := events.NewLocalBroker()
	_, err = broker.Subscribe(hub.Deliver)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := utils.NewMetricsCollector()
	deps := &actors.Deps{DB: store, Broker: broker, Metrics: metrics, PasswordCost: bcrypt.MinCost}
	eng := engine.NewEngine(engine.NewActorSystem(logger), deps, 5*time.Second)

	tokens := middleware.NewTokenIssuer(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour})
	server := NewServer(eng, store, metrics, hub, tokens)
	server.Logger = logger
	server.MetricsEnabled = true

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(func() {
		srv.Close()
		eng.Shutdown()
		cancel()
		store.Close(context.Background())
	})
	return &testServer{Server: srv, db: store, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// call invokes a callable and decodes its result into T. It fails the test
// when the call returns an error envelope.
func call[T any](t *testing.T, ts *testServer, token, name string, data any) T {
	t.Helper()
	resp := callRaw(t, ts, token, name, data)
	env := decodeBody[api.CallResponse](t, resp)
	require.Nil(t, env.Error, "call %s failed: %+v", name, env.Error)
	var out T
	require.NoError(t, json.Unmarshal(env.Result, &out))
	return out
}

func callRaw(t *testing.T, ts *testServer, token, name string, data any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return ts.do(t, http.MethodPost, "/call/"+name, token, api.CallRequest{Data: raw})
}

func callErr(t *testing.T, ts *testServer, token, name string, data any) (int, *api.CallError) {
	t.Helper()
	resp := callRaw(t, ts, token, name, data)
	env := decodeBody[api.CallResponse](t, resp)
	require.NotNil(t, env.Error)
	return resp.StatusCode, env.Error
}

// signUp registers and logs in, returning the user id and token.
func (ts *testServer) signUp(t *testing.T, name string) (string, string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/user/register", "", api.RegisterRequest{
		Username: name, Email: name + "@example.com", Password: "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/user/login", "", api.LoginRequest{Email: name + "@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeBody[api.LoginResponse](t, resp)
	require.True(t, login.Success)
	require.NotEmpty(t, login.Token)
	return login.UserID, login.Token
}

func (ts *testServer) createPost(t *testing.T, token string, gated bool) string {
	t.Helper()
	res := call[api.CreatePostResult](t, ts, token, api.CallCreatePost, api.CreatePostInput{
		Title:     "harbour",
		MediaURL:  "https://cdn.example/harbour.jpg",
		MediaType: "image",
		IsGated:   gated,
	})
	require.True(t, res.Success)
	return res.PostID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[api.HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)

	resp = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.signUp(t, "alice")

	resp := ts.do(t, http.MethodGet, "/users/"+userID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	own := decodeBody[models.UserProfile](t, resp)
	assert.Equal(t, "alice@example.com", own.Email)

	resp = ts.do(t, http.MethodGet, "/users/"+userID, "", nil)
	public := decodeBody[models.UserProfile](t, resp)
	assert.Empty(t, public.Email)

	resp = ts.do(t, http.MethodPost, "/user/login", "", api.LoginRequest{Email: "alice@example.com", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/user/register", "", api.RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: "password123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCallsRequireAuthentication(t *testing.T) {
	ts := newTestServer(t)
	status, appErr := callErr(t, ts, "", api.CallLikePost, api.PostRef{PostID: "p1"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, utils.ErrUnauthenticated, appErr.Status)

	resp := callRaw(t, ts, "garbage", api.CallLikePost, api.PostRef{PostID: "p1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decodeBody[api.CallResponse](t, resp)
	assert.Equal(t, utils.ErrInvalidToken, env.Error.Status)
}

func TestUnknownCallable(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signUp(t, "alice")
	status, appErr := callErr(t, ts, token, "launchRocket", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, utils.ErrNotFound, appErr.Status)
}

func TestLikeAndSaveFlow(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.signUp(t, "alice")
	_, bob := ts.signUp(t, "bob")
	postID := ts.createPost(t, alice, false)

	liked := call[api.LikeResult](t, ts, bob, api.CallLikePost, api.PostRef{PostID: postID})
	assert.True(t, liked.Liked)
	assert.Equal(t, 1, liked.LikesCount)

	// A repeated like is a no-op on the counter.
	liked = call[api.LikeResult](t, ts, bob, api.CallLikePost, api.PostRef{PostID: postID})
	assert.Equal(t, 1, liked.LikesCount)

	liked = call[api.LikeResult](t, ts, alice, api.CallLikePost, api.PostRef{PostID: postID})
	assert.Equal(t, 2, liked.LikesCount)

	unliked := call[api.LikeResult](t, ts, bob, api.CallUnlikePost, api.PostRef{PostID: postID})
	assert.False(t, unliked.Liked)
	assert.Equal(t, 1, unliked.LikesCount)

	saved := call[api.SaveResult](t, ts, bob, api.CallSavePost, api.PostRef{PostID: postID})
	assert.True(t, saved.Saved)

	resp := ts.do(t, http.MethodGet, "/posts/"+postID+"/status", bob, nil)
	status := decodeBody[api.PostStatus](t, resp)
	assert.False(t, status.Liked)
	assert.True(t, status.Saved)
	assert.Equal(t, 1, status.LikesCount)

	resp = ts.do(t, http.MethodGet, "/me/saved", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	savedPosts := decodeBody[[]models.Post](t, resp)
	require.Len(t, savedPosts, 1)
	assert.Equal(t, postID, savedPosts[0].ID)

	resp = ts.do(t, http.MethodGet, "/me/saved", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	code, appErr := callErr(t, ts, bob, api.CallLikePost, api.PostRef{PostID: "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, utils.ErrNotFound, appErr.Status)

	code, appErr = callErr(t, ts, bob, api.CallLikePost, api.PostRef{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, utils.ErrInvalidInput, appErr.Status)
}

func TestCommentsThroughCalls(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.signUp(t, "alice")
	_, bob := ts.signUp(t, "bob")
	postID := ts.createPost(t, alice, false)

	added := call[api.AddCommentResult](t, ts, bob, api.CallAddComment, api.AddCommentInput{PostID: postID, Text: "lovely"})
	require.NotEmpty(t, added.CommentID)

	_, appErr := callErr(t, ts, alice, api.CallEditComment, api.EditCommentInput{PostID: postID, CommentID: added.CommentID, NewText: "hijack"})
	assert.Equal(t, utils.ErrPermissionDenied, appErr.Status)

	call[api.SuccessResult](t, ts, bob, api.CallEditComment, api.EditCommentInput{PostID: postID, CommentID: added.CommentID, NewText: "lovelier"})

	resp := ts.do(t, http.MethodGet, "/posts/"+postID+"/comments", "", nil)
	comments := decodeBody[[]models.Comment](t, resp)
	require.Len(t, comments, 1)
	assert.Equal(t, "lovelier", comments[0].Text)
	assert.Equal(t, "bob", comments[0].Username)
	assert.NotNil(t, comments[0].EditedAt)

	resp = ts.do(t, http.MethodGet, "/posts/"+postID, alice, nil)
	assert.Equal(t, 1, decodeBody[models.Post](t, resp).CommentsCount)

	call[api.SuccessResult](t, ts, bob, api.CallDeleteComment, api.CommentRef{PostID: postID, CommentID: added.CommentID})
	resp = ts.do(t, http.MethodGet, "/posts/"+postID, alice, nil)
	assert.Equal(t, 0, decodeBody[models.Post](t, resp).CommentsCount)
}

func TestGatedPostRedaction(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.signUp(t, "alice")
	postID := ts.createPost(t, alice, true)

	resp := ts.do(t, http.MethodGet, "/posts/"+postID, "", nil)
	anon := decodeBody[models.Post](t, resp)
	assert.True(t, anon.Locked)
	assert.Empty(t, anon.MediaURL)

	resp = ts.do(t, http.MethodGet, "/posts?limit=10", alice, nil)
	feed := decodeBody[[]models.Post](t, resp)
	require.Len(t, feed, 1)
	assert.Equal(t, "https://cdn.example/harbour.jpg", feed[0].MediaURL)

	resp = ts.do(t, http.MethodGet, "/posts?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEditAndDeletePost(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.signUp(t, "alice")
	_, bob := ts.signUp(t, "bob")
	postID := ts.createPost(t, alice, false)

	title := "harbour at dawn"
	_, appErr := callErr(t, ts, bob, api.CallEditPost, api.EditPostInput{PostID: postID, Title: &title})
	assert.Equal(t, utils.ErrPermissionDenied, appErr.Status)
	call[api.SuccessResult](t, ts, alice, api.CallEditPost, api.EditPostInput{PostID: postID, Title: &title})

	resp := ts.do(t, http.MethodGet, "/users/"+aliceID+"/posts", "", nil)
	posts := decodeBody[[]models.Post](t, resp)
	require.Len(t, posts, 1)
	assert.Equal(t, title, posts[0].Title)

	call[api.SuccessResult](t, ts, alice, api.CallDeletePost, api.PostRef{PostID: postID})
	resp = ts.do(t, http.MethodGet, "/posts/"+postID, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerificationReview(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.signUp(t, "alice")
	adminID, admin := ts.signUp(t, "root")
	require.NoError(t, ts.db.SetPermissions(context.Background(), adminID, models.PermissionAdmin))

	req := call[api.RequestResult](t, ts, alice, api.CallRequestVerification, api.VerificationInput{DocURL: "https://cdn.example/id.png"})
	require.NotEmpty(t, req.RequestID)

	resp := ts.do(t, http.MethodGet, "/admin/verification-requests", alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/admin/verification-requests", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decodeBody[[]models.VerificationRequest](t, resp)
	require.Len(t, pending, 1)

	_, appErr := callErr(t, ts, alice, api.CallReviewVerification, api.ReviewInput{RequestID: req.RequestID, Approve: true})
	assert.Equal(t, utils.ErrPermissionDenied, appErr.Status)
	call[api.SuccessResult](t, ts, admin, api.CallReviewVerification, api.ReviewInput{RequestID: req.RequestID, Approve: true})

	resp = ts.do(t, http.MethodGet, "/users/"+aliceID, "", nil)
	assert.True(t, decodeBody[models.UserProfile](t, resp).Verified)
}

func TestProfileAndMembership(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.signUp(t, "alice")
	adminID, admin := ts.signUp(t, "root")
	require.NoError(t, ts.db.SetPermissions(context.Background(), adminID, models.PermissionAdmin))

	bio := "sailor"
	call[api.SuccessResult](t, ts, alice, api.CallUpdateProfile, api.UpdateProfileInput{Bio: &bio})
	resp := ts.do(t, http.MethodGet, "/users/"+aliceID, "", nil)
	assert.Equal(t, "sailor", decodeBody[models.UserProfile](t, resp).Bio)

	req := call[api.RequestResult](t, ts, alice, api.CallSubmitMembership, api.MembershipInput{
		FirstName:        "Alice",
		LastName:         "Liddell",
		DateOfBirth:      "1990-04-01",
		EstimatedMonthly: 20,
		DocumentURL:      "https://cdn.example/doc.pdf",
	})
	require.NotEmpty(t, req.RequestID)

	call[api.SuccessResult](t, ts, admin, api.CallReviewMembership, api.ReviewInput{RequestID: req.RequestID})
	resp = ts.do(t, http.MethodGet, "/admin/membership-requests?status=rejected", admin, nil)
	rejected := decodeBody[[]models.MembershipRequest](t, resp)
	require.Len(t, rejected, 1)
	assert.Equal(t, req.RequestID, rejected[0].ID)
}

func TestWebSocketReceivesLikeUpdates(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.signUp(t, "alice")
	_, bob := ts.signUp(t, "bob")
	postID := ts.createPost(t, alice, false)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + bob
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	topic := events.PostTopic(postID)
	require.NoError(t, conn.WriteJSON(api.SubscribeMessage{Action: api.ActionSubscribe, Topic: topic}))
	require.Eventually(t, func() bool { return ts.hub.Subscribers(topic) == 1 }, 2*time.Second, 10*time.Millisecond)

	call[api.LikeResult](t, ts, bob, api.CallLikePost, api.PostRef{PostID: postID})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.TypePost, msg.Type)
	assert.Equal(t, topic, msg.Topic)
	var post models.Post
	require.NoError(t, json.Unmarshal(msg.Data, &post))
	assert.Equal(t, 1, post.LikesCount)
}
