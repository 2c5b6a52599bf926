package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/socialfeed/cmd/worker"
	"example.com/socialfeed/internal/account"
	"example.com/socialfeed/internal/auth"
	appkafka "example.com/socialfeed/internal/broker"
	"example.com/socialfeed/internal/feed"
	"example.com/socialfeed/internal/images"
	"example.com/socialfeed/internal/middleware"
	"example.com/socialfeed/internal/realtime"
	"example.com/socialfeed/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

//
// --- Setup test server ---
//

type testEnv struct {
	srv   *httptest.Server
	store *store.MockStore
	fs    afero.Fs
	kafka *appkafka.MockKafka
	hub   *realtime.Hub
}

// setupTestServer wires the full stack on mocks: notifier and relay share a
// loopback Kafka so post changes reach WebSocket listeners.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMock()
	fs := afero.NewMemMapFs()
	imgs, err := images.New(fs, "images", 1<<20)
	if err != nil {
		t.Fatalf("images.New failed: %v", err)
	}

	mockKafka := &appkafka.MockKafka{Loopback: true}
	notifier := appkafka.NewNotifier(mockKafka, 16)
	hub := realtime.NewHub()
	relay := worker.New(mockKafka, hub, 1, 16)

	done := make(chan struct{}, 2)
	go func() { notifier.Run(ctx); done <- struct{}{} }()
	go func() { relay.Run(ctx); done <- struct{}{} }()

	tokens := auth.NewTokenService(testSecret, time.Hour)
	s := New(Deps{
		Accounts:  account.NewService(st, auth.NewHasher(bcrypt.MinCost), tokens),
		Feed:      feed.NewService(st, st, imgs, notifier, 2),
		Images:    imgs,
		Hub:       hub,
		Tokens:    tokens,
		Limiter:   middleware.NewRateLimiter(600, 100),
		MaxUpload: 1 << 20,
	})
	srv := httptest.NewServer(s.Routes())

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		cancel()
		<-done
		<-done
	})
	return &testEnv{srv: srv, store: st, fs: fs, kafka: mockKafka, hub: hub}
}

//
// --- Helpers ---
//

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string, expectedStatus int) map[string]any {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, expectedStatus, resp.StatusCode, string(b))
	}
	out := map[string]any{}
	if len(b) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("invalid JSON response: %v: %s", err, string(b))
		}
	}
	return out
}

func (e *testEnv) sendJSON(t *testing.T, method, path, token string, body any, expectedStatus int) map[string]any {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	return e.do(t, method, path, token, bytes.NewReader(data), "application/json", expectedStatus)
}

// sendPostForm sends title, content and an optional image as multipart.
func (e *testEnv) sendPostForm(t *testing.T, method, path, token, title, content, filename string, expectedStatus int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", title)
	_ = mw.WriteField("content", content)
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		_, _ = fw.Write([]byte("\x89PNG fake image bytes"))
	}
	_ = mw.Close()
	return e.do(t, method, path, token, &buf, mw.FormDataContentType(), expectedStatus)
}

func (e *testEnv) signupAndLogin(t *testing.T, email, name string) (userID, token string) {
	t.Helper()
	res := e.sendJSON(t, http.MethodPost, "/auth/signup", "",
		map[string]string{"email": email, "name": name, "password": "secret123"}, http.StatusCreated)
	userID, _ = res["userId"].(string)

	res = e.sendJSON(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": email, "password": "secret123"}, http.StatusOK)
	token, _ = res["token"].(string)
	if userID == "" || token == "" || res["userId"] != userID {
		t.Fatalf("signup/login returned unexpected identity: %+v", res)
	}
	return userID, token
}

func (e *testEnv) imageCount(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(e.fs, "images")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	return len(entries)
}

func (e *testEnv) listen(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/socket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(time.Second)
	for e.hub.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

type pushed struct {
	Event string `json:"event"`
	Data  struct {
		Action string `json:"action"`
		PostID string `json:"postId"`
		Post   *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"post"`
	} `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) pushed {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no event received: %v", err)
	}
	var msg pushed
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid event: %v", err)
	}
	return msg
}

//
// --- Tests ---
//

func TestScenario_SignupCreateForbiddenDelete(t *testing.T) {
	env := setupTestServer(t)
	conn := env.listen(t)

	aliceID, alice := env.signupAndLogin(t, "a@x.com", "Alice")
	_, bob := env.signupAndLogin(t, "b@x.com", "Bob")

	res := env.sendPostForm(t, http.MethodPost, "/feed/post", alice, "Hello World", "Post body text", "cat.png", http.StatusCreated)
	post := res["post"].(map[string]any)
	creator := res["creator"].(map[string]any)
	postID := post["id"].(string)
	if creator["id"] != aliceID || creator["name"] != "Alice" {
		t.Fatalf("unexpected creator: %+v", creator)
	}
	if !strings.HasPrefix(post["imageUrl"].(string), "images/") {
		t.Fatalf("unexpected imageUrl: %v", post["imageUrl"])
	}

	ev := readEvent(t, conn)
	if ev.Event != "posts" || ev.Data.Action != "create" || ev.Data.Post == nil || ev.Data.Post.ID != postID {
		t.Fatalf("unexpected create event: %+v", ev)
	}

	// the stored image is served
	imgResp, err := http.Get(env.srv.URL + "/" + post["imageUrl"].(string))
	if err != nil {
		t.Fatalf("image request failed: %v", err)
	}
	imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK {
		t.Fatalf("expected image to be served, got %d", imgResp.StatusCode)
	}

	env.do(t, http.MethodDelete, "/feed/post/"+postID, bob, nil, "", http.StatusForbidden)
	env.do(t, http.MethodGet, "/feed/post/"+postID, bob, nil, "", http.StatusOK)

	env.do(t, http.MethodDelete, "/feed/post/"+postID, alice, nil, "", http.StatusOK)
	env.do(t, http.MethodGet, "/feed/post/"+postID, alice, nil, "", http.StatusNotFound)

	ev = readEvent(t, conn)
	if ev.Data.Action != "delete" || ev.Data.PostID != postID {
		t.Fatalf("unexpected delete event: %+v", ev)
	}
	if n := env.imageCount(t); n != 0 {
		t.Fatalf("expected image to be removed, %d left", n)
	}
}

func TestFeed_Pagination(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.signupAndLogin(t, "a@x.com", "Alice")

	for _, title := range []string{"First post", "Second post", "Third post"} {
		env.sendPostForm(t, http.MethodPost, "/feed/post", token, title, "Post body text", "cat.png", http.StatusCreated)
	}

	res := env.do(t, http.MethodGet, "/feed/posts?page=1", token, nil, "", http.StatusOK)
	if res["totalItems"].(float64) != 3 || len(res["posts"].([]any)) != 2 {
		t.Fatalf("unexpected first page: %+v", res)
	}
	first := res["posts"].([]any)[0].(map[string]any)
	if first["title"] != "Third post" {
		t.Fatalf("expected newest post first, got %v", first["title"])
	}

	res = env.do(t, http.MethodGet, "/feed/posts?page=5", token, nil, "", http.StatusOK)
	if res["totalItems"].(float64) != 3 || len(res["posts"].([]any)) != 0 {
		t.Fatalf("unexpected page past the end: %+v", res)
	}
}

func TestEditPost(t *testing.T) {
	env := setupTestServer(t)
	_, alice := env.signupAndLogin(t, "a@x.com", "Alice")
	_, bob := env.signupAndLogin(t, "b@x.com", "Bob")

	res := env.sendPostForm(t, http.MethodPost, "/feed/post", alice, "Hello World", "Post body text", "cat.png", http.StatusCreated)
	post := res["post"].(map[string]any)
	postID := post["id"].(string)
	oldImage := post["imageUrl"].(string)

	// carry the stored image forward in a JSON body
	res = env.sendJSON(t, http.MethodPut, "/feed/post/"+postID, alice,
		map[string]string{"title": "Edited title", "content": "Edited body", "image": oldImage}, http.StatusOK)
	if res["post"].(map[string]any)["title"] != "Edited title" {
		t.Fatalf("title not updated: %+v", res)
	}

	// a new upload replaces and removes the old file
	res = env.sendPostForm(t, http.MethodPut, "/feed/post/"+postID, alice, "Edited again", "Edited body", "dog.jpg", http.StatusOK)
	newImage := res["post"].(map[string]any)["imageUrl"].(string)
	if newImage == oldImage {
		t.Fatal("image was not replaced")
	}
	if ok, _ := afero.Exists(env.fs, oldImage); ok {
		t.Fatal("old image should be removed")
	}

	// a rejected upload does not leave a file behind
	env.sendPostForm(t, http.MethodPut, "/feed/post/"+postID, bob, "Bob's title", "Bob's body", "evil.png", http.StatusForbidden)
	if n := env.imageCount(t); n != 1 {
		t.Fatalf("expected 1 stored image, got %d", n)
	}
	stored, _ := env.store.GetPost(context.Background(), postID)
	if stored.Title != "Edited again" {
		t.Fatalf("non-owner edit changed the post: %+v", stored)
	}
}

func TestCreatePost_Validation(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.signupAndLogin(t, "a@x.com", "Alice")

	res := env.sendPostForm(t, http.MethodPost, "/feed/post", token, "Hi", "Post body text", "cat.png", http.StatusUnprocessableEntity)
	if data, _ := res["data"].([]any); len(data) != 1 {
		t.Fatalf("expected one field error, got %+v", res)
	}
	if n := env.imageCount(t); n != 0 {
		t.Fatalf("rejected upload left %d files", n)
	}

	env.sendPostForm(t, http.MethodPost, "/feed/post", token, "Hello World", "Post body text", "", http.StatusUnprocessableEntity)
	env.sendPostForm(t, http.MethodPost, "/feed/post", token, "Hello World", "Post body text", "notes.txt", http.StatusUnprocessableEntity)
}

func TestSignup_Errors(t *testing.T) {
	env := setupTestServer(t)
	env.signupAndLogin(t, "a@x.com", "Alice")

	res := env.sendJSON(t, http.MethodPut, "/signup", "",
		map[string]string{"email": "a@x.com", "name": "Again", "password": "secret123"}, http.StatusUnprocessableEntity)
	if res["message"] == "" || res["data"] == nil {
		t.Fatalf("expected field errors, got %+v", res)
	}

	env.do(t, http.MethodPost, "/auth/signup", "", strings.NewReader("{not json"), "application/json", http.StatusUnprocessableEntity)
	env.sendJSON(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": "a@x.com", "password": "wrong-pass"}, http.StatusUnauthorized)
}

func TestStatus(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.signupAndLogin(t, "a@x.com", "Alice")

	res := env.do(t, http.MethodGet, "/auth/status", token, nil, "", http.StatusOK)
	if res["status"] != "I am new!" {
		t.Fatalf("unexpected default status: %+v", res)
	}

	env.sendJSON(t, http.MethodPatch, "/status", token, map[string]string{"status": "Busy"}, http.StatusOK)
	res = env.do(t, http.MethodGet, "/status", token, nil, "", http.StatusOK)
	if res["status"] != "Busy" {
		t.Fatalf("status not updated: %+v", res)
	}
}

func TestAuthGate_RejectsUniformly(t *testing.T) {
	env := setupTestServer(t)
	userID, _ := env.signupAndLogin(t, "a@x.com", "Alice")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email":  "a@x.com",
		"userId": userID,
		"iat":    time.Now().Add(-2 * time.Hour).Unix(),
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})
	expiredStr, err := expired.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	for _, token := range []string{"", "garbage", expiredStr} {
		res := env.do(t, http.MethodGet, "/feed/posts", token, nil, "", http.StatusUnauthorized)
		if res["message"] != "Not authenticated." {
			t.Fatalf("unexpected 401 body: %+v", res)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodGet, "/nope", "", nil, "", http.StatusNotFound)
	env.do(t, http.MethodGet, "/login", "", nil, "", http.StatusMethodNotAllowed)
}
