package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/suPer8Hu/chatkeep/internal/ai"
	"github.com/suPer8Hu/chatkeep/internal/auth"
	"github.com/suPer8Hu/chatkeep/internal/chat"
	"github.com/suPer8Hu/chatkeep/internal/completion"
	"github.com/suPer8Hu/chatkeep/internal/config"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatkeep/internal/logger"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type memRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func (m *memRevoker) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[jti] = until
	return nil
}

func (m *memRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[jti]
	return ok, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	count map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, scope, subject string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count[scope+":"+subject]++
	return l.count[scope+":"+subject] <= limit, nil
}

func (l *countingLimiter) Reset(_ context.Context, scope, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.count, scope+":"+subject)
	return nil
}

type replyProvider struct{ err error }

func (p replyProvider) Chat(_ context.Context, msgs []ai.Message) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "echo: " + msgs[len(msgs)-1].Content, nil
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	revoker *memRevoker
}

func newTestServer(t *testing.T, providerErr error) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := chat.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("pw-one"), bcrypt.MinCost)
	creds, err := auth.NewCredentials(map[string]auth.Entry{
		"user01": {Name: "Ann", PasswordHash: string(hash)},
		"user02": {Name: "Bob", Password: "pw-two"},
	})
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}

	cfg := config.Config{
		JWTSecret:        "test-secret",
		JWTTTL:           time.Hour,
		LoginMaxAttempts: 3,
		LoginWindow:      time.Minute,
		DefaultModel:     "gpt-3.5-turbo",
		AvailableModels:  []string{"gpt-3.5-turbo", "gpt-4o"},
	}
	log := logger.Nop()
	// one second per write keeps recency order independent of wall clock resolution
	var clockMu sync.Mutex
	now := time.Date(2024, 11, 1, 10, 0, 0, 0, time.UTC)
	repo := chat.NewRepo(gdb, chat.WithClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(time.Second)
		return now
	}))
	chats := chat.NewService(repo, chat.NewRetention(repo, 2, log), cfg.DefaultModel, log)

	reg := ai.NewRegistry()
	reg.Register("fake", func(context.Context, string) (ai.Provider, error) {
		return replyProvider{err: providerErr}, nil
	})
	comp := completion.NewService(reg, "fake", cfg.DefaultModel, nil, nil, log)

	h := handlers.NewHandler(cfg, log, creds, chats, comp)
	rv := &memRevoker{ids: make(map[string]time.Time)}
	h.Revoker = rv
	h.Limiter = &countingLimiter{count: make(map[string]int)}
	h.Checks["db"] = func(ctx context.Context) error { return sqlDB.PingContext(ctx) }

	return &testServer{router: NewRouter(h), db: gdb, revoker: rv}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

func (s *testServer) login(t *testing.T, user, pw string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/login", "", gin.H{"username": user, "password": pw})
	if code != http.StatusOK {
		t.Fatalf("login %s: status %d %s", user, code, env.Message)
	}
	var data struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("login data: %v %s", err, env.Data)
	}
	return data.Token
}

type chatsData struct {
	Chats map[string]chat.View `json:"chats"`
	Order []string             `json:"order"`
}

func (s *testServer) chats(t *testing.T, token string) chatsData {
	t.Helper()
	code, env := s.do(t, http.MethodGet, "/get_chats", token, nil)
	if code != http.StatusOK {
		t.Fatalf("get_chats: status %d %s", code, env.Message)
	}
	var d chatsData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	return d
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	if code, _ := s.do(t, http.MethodPost, "/login", "", gin.H{"username": "user01", "password": "nope"}); code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/login", "", gin.H{"username": "ghost", "password": "x"}); code != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", code)
	}
	s.login(t, "USER01", "pw-one")
	s.login(t, "user02", "pw-two")
}

func TestLogin_Throttled(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/login", "", gin.H{"username": "user01", "password": "bad"})
	}
	code, _ := s.do(t, http.MethodPost, "/login", "", gin.H{"username": "user01", "password": "pw-one"})
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", code)
	}
}

func TestChatEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/get_chats"} {
		if code, _ := s.do(t, http.MethodGet, path, "", nil); code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, code)
		}
	}
	for _, path := range []string{"/save_chat", "/delete_chat", "/send_message", "/logout"} {
		if code, _ := s.do(t, http.MethodPost, path, "", gin.H{}); code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, code)
		}
	}
}

func TestSaveGetDeleteChat(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.login(t, "user01", "pw-one")
	bob := s.login(t, "user02", "pw-two")

	save := func(token, id, title string) int {
		code, _ := s.do(t, http.MethodPost, "/save_chat", token, gin.H{
			"chatId": id,
			"chatData": gin.H{
				"id":         id,
				"title":      title,
				"model":      "gpt-4o",
				"created_at": "2024-11-01T10:00:00.000Z",
				"messages": []gin.H{
					{"role": "user", "content": "Plan a trip"},
					{"role": "assistant", "content": "Where to?"},
				},
			},
		})
		return code
	}

	if code := save(ann, "A1", "Trip"); code != http.StatusOK {
		t.Fatalf("save: status %d", code)
	}
	d := s.chats(t, ann)
	v, ok := d.Chats["A1"]
	if !ok || v.Title != "Trip" || v.Model != "gpt-4o" || len(v.Messages) != 2 {
		t.Fatalf("unexpected chats %+v", d.Chats)
	}
	if v.Messages[0].Content != "Plan a trip" || v.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected messages %+v", v.Messages)
	}
	if got := s.chats(t, bob); len(got.Chats) != 0 {
		t.Fatalf("bob should see nothing, got %+v", got.Chats)
	}

	// retention limit is 2 here
	save(ann, "A2", "Second")
	save(ann, "A3", "Third")
	d = s.chats(t, ann)
	if len(d.Chats) != 2 || len(d.Order) != 2 || d.Order[0] != "A3" || d.Order[1] != "A2" {
		t.Fatalf("expected [A3 A2] after eviction, got %v", d.Order)
	}

	// bob deleting ann's chat looks like success and changes nothing
	if code, _ := s.do(t, http.MethodPost, "/delete_chat", bob, gin.H{"chatId": "A3"}); code != http.StatusOK {
		t.Fatalf("foreign delete: status %d", code)
	}
	if d = s.chats(t, ann); len(d.Chats) != 2 {
		t.Fatalf("foreign delete removed a chat: %v", d.Order)
	}

	for i := 0; i < 2; i++ {
		if code, _ := s.do(t, http.MethodPost, "/delete_chat", ann, gin.H{"chatId": "A3"}); code != http.StatusOK {
			t.Fatalf("delete attempt %d: status %d", i, code)
		}
	}
	if d = s.chats(t, ann); len(d.Chats) != 1 || d.Order[0] != "A2" {
		t.Fatalf("expected only A2, got %v", d.Order)
	}
}

func TestSaveChat_BadInput(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.login(t, "user01", "pw-one")

	code, _ := s.do(t, http.MethodPost, "/save_chat", ann, gin.H{"chatData": gin.H{"title": "x"}})
	if code != http.StatusBadRequest {
		t.Fatalf("missing chatId: expected 400, got %d", code)
	}
	code, _ = s.do(t, http.MethodPost, "/save_chat", ann, gin.H{
		"chatId":   "c1",
		"chatData": gin.H{"messages": []gin.H{{"role": "robot", "content": "beep"}}},
	})
	if code != http.StatusBadRequest {
		t.Fatalf("bad role: expected 400, got %d", code)
	}
	code, env := s.do(t, http.MethodPost, "/delete_chat", ann, gin.H{})
	if code != http.StatusBadRequest || env.Message != "No chat ID provided" {
		t.Fatalf("missing delete id: got %d %q", code, env.Message)
	}
	code, env = s.do(t, http.MethodPost, "/delete_chat", ann, nil)
	if code != http.StatusBadRequest || env.Code != 10003 {
		t.Fatalf("empty delete body: got %d %d", code, env.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/delete_chat", bytes.NewBufferString(`{bad`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ann)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var bad envelope
	_ = json.Unmarshal(w.Body.Bytes(), &bad)
	if w.Code != http.StatusBadRequest || bad.Code != 10001 || bad.Message != "invalid json" {
		t.Fatalf("malformed delete body: got %d %+v", w.Code, bad)
	}
}

func TestSaveChat_StoreDownIs503(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.login(t, "user01", "pw-one")

	sqlDB, _ := s.db.DB()
	_ = sqlDB.Close()

	code, _ := s.do(t, http.MethodPost, "/save_chat", ann, gin.H{"chatId": "c1", "chatData": gin.H{}})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the store is closed, got %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/health", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("health should report degraded, got %d", code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.login(t, "user01", "pw-one")

	if code, _ := s.do(t, http.MethodPost, "/logout", ann, nil); code != http.StatusOK {
		t.Fatalf("logout: status %d", code)
	}
	if len(s.revoker.ids) != 1 {
		t.Fatalf("expected one revoked id, got %d", len(s.revoker.ids))
	}
	if code, _ := s.do(t, http.MethodGet, "/get_chats", ann, nil); code != http.StatusUnauthorized {
		t.Fatalf("revoked token still accepted: %d", code)
	}
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.login(t, "user01", "pw-one")

	code, env := s.do(t, http.MethodPost, "/send_message", ann, gin.H{
		"model":    "gpt-4o",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	if code != http.StatusOK {
		t.Fatalf("send_message: status %d %s", code, env.Message)
	}
	var data struct {
		Response string `json:"response"`
	}
	_ = json.Unmarshal(env.Data, &data)
	if data.Response != "echo: hi" {
		t.Fatalf("unexpected response %q", data.Response)
	}

	if code, _ := s.do(t, http.MethodPost, "/send_message", ann, gin.H{"model": "x"}); code != http.StatusBadRequest {
		t.Fatalf("empty messages: expected 400, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/send_message/async", ann, gin.H{
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	}); code != http.StatusServiceUnavailable {
		t.Fatalf("async without queue: expected 503, got %d", code)
	}
}

func TestSendMessage_UpstreamError(t *testing.T) {
	s := newTestServer(t, &ai.StatusError{Provider: "redpill", Status: 500, Body: "boom"})
	ann := s.login(t, "user01", "pw-one")

	code, env := s.do(t, http.MethodPost, "/send_message", ann, gin.H{
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	if code != http.StatusBadGateway || env.Message != "redpill: API Error: 500 - boom" {
		t.Fatalf("unexpected %d %q", code, env.Message)
	}

	s = newTestServer(t, errors.New("dial tcp: refused"))
	ann = s.login(t, "user01", "pw-one")
	if code, _ := s.do(t, http.MethodPost, "/send_message", ann, gin.H{
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	}); code != http.StatusBadGateway {
		t.Fatalf("transport error: expected 502, got %d", code)
	}
}

func TestModelsHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodGet, "/models", "", nil)
	if code != http.StatusOK {
		t.Fatalf("models: %d", code)
	}
	var models struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	_ = json.Unmarshal(env.Data, &models)
	if len(models.Models) != 2 || models.Default != "gpt-3.5-turbo" {
		t.Fatalf("unexpected models %+v", models)
	}

	if code, _ := s.do(t, http.MethodGet, "/health", "", nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/metrics", "", nil); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/nope", "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", code)
	}
}
