package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/bananaquiz/internal/auth"
	"github.com/hitoshi/bananaquiz/internal/metrics"
	"github.com/hitoshi/bananaquiz/internal/middleware"
	"github.com/hitoshi/bananaquiz/internal/model"
	"github.com/hitoshi/bananaquiz/internal/puzzle"
	"github.com/hitoshi/bananaquiz/internal/repository"
	"github.com/hitoshi/bananaquiz/internal/score"
	"github.com/prometheus/client_golang/prometheus"
)

const e2eSecret = "router-test-secret-with-32-bytes!!"

// --- インメモリストア ---

type memoryStore struct {
	mu       sync.Mutex
	accounts []*model.Account
	scores   map[string]*model.ScoreRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{scores: make(map[string]*model.ScoreRecord)}
}

func (s *memoryStore) Create(_ context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == account.Email {
			return repository.ErrDuplicateEmail
		}
	}
	stored := *account
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().Add(time.Duration(len(s.accounts)) * time.Millisecond)
	}
	s.accounts = append(s.accounts, &stored)
	return nil
}

func (s *memoryStore) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			found := *a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			found := *a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) deleteAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.accounts {
		if a.ID == id {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			return
		}
	}
}

func (s *memoryStore) Upsert(_ context.Context, accountID string, level model.Level, value int, playedAt time.Time) (*model.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists := false
	for _, a := range s.accounts {
		if a.ID == accountID {
			exists = true
			break
		}
	}
	if !exists {
		return nil, repository.ErrAccountNotFound
	}

	key := accountID + "/" + string(level)
	rec, ok := s.scores[key]
	if !ok {
		rec = &model.ScoreRecord{AccountID: accountID, Level: level, Highscore: value, LastPlayed: playedAt}
		s.scores[key] = rec
	} else {
		if value > rec.Highscore {
			rec.Highscore = value
		}
		if playedAt.After(rec.LastPlayed) {
			rec.LastPlayed = playedAt
		}
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		entry     model.LeaderboardEntry
		createdAt time.Time
	}
	rows := make([]row, 0, len(s.accounts))
	for _, a := range s.accounts {
		r := row{entry: model.LeaderboardEntry{Email: a.Email}, createdAt: a.CreatedAt}
		for _, rec := range s.scores {
			if rec.AccountID != a.ID {
				continue
			}
			r.entry.TotalScore += rec.Highscore
			if r.entry.LastPlayed == nil || rec.LastPlayed.After(*r.entry.LastPlayed) {
				t := rec.LastPlayed
				r.entry.LastPlayed = &t
			}
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].entry.TotalScore != rows[j].entry.TotalScore {
			return rows[i].entry.TotalScore > rows[j].entry.TotalScore
		}
		return rows[i].createdAt.Before(rows[j].createdAt)
	})

	entries := make([]model.LeaderboardEntry, 0, limit)
	for i := 0; i < len(rows) && i < limit; i++ {
		entries = append(entries, rows[i].entry)
	}
	return entries, nil
}

type staticFetcher struct {
	challenge *model.Challenge
	err       error
}

func (f *staticFetcher) Fetch(context.Context) (*model.Challenge, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.challenge, nil
}

type pingChecker struct{ err error }

func (p pingChecker) PingContext(context.Context) error { return p.err }

// --- テストサーバー ---

type testApp struct {
	server *httptest.Server
	client *http.Client
	store  *memoryStore
	tokens *auth.TokenIssuer
}

func newTestApp(t *testing.T, rlConfig middleware.RateLimiterConfig) *testApp {
	t.Helper()

	store := newMemoryStore()
	tokens := auth.NewTokenIssuer([]byte(e2eSecret), 7*24*time.Hour)
	authService := auth.NewService(store, auth.NewBcryptHasher(4), tokens)

	sealer, err := puzzle.NewTicketSealer([]byte(e2eSecret), 10*time.Minute)
	if err != nil {
		t.Fatalf("NewTicketSealer: %v", err)
	}
	fetcher := &staticFetcher{challenge: &model.Challenge{ImageURL: "https://example.com/banana.png", Solution: 4}}

	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	rl := middleware.NewRateLimiter(rlConfig, mc)
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		TokenVerifier:     tokens,
		AccountFinder:     store,
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		Metrics:           mc,
		MetricsGatherer:   reg,
		HealthChecker:     pingChecker{},
		AuthService:       authService,
		AuthConfig:        AuthHandlerConfig{TokenTTL: tokens.TTL()},
		PuzzleService:     puzzle.NewService(fetcher, sealer),
		ScoreService:      score.NewService(store, score.DefaultLeaderboardLimit),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}

	return &testApp{
		server: server,
		client: &http.Client{Jar: jar},
		store:  store,
		tokens: tokens,
	}
}

func (a *testApp) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, a.server.URL+path, nil)
	} else {
		req, err = http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return a.send(t, req)
}

func (a *testApp) send(t *testing.T, req *http.Request) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	rec := httptest.NewRecorder()
	rec.Code = resp.StatusCode
	if _, err := rec.Body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return resp, nil
	}
	return resp, decodeBody(t, rec)
}

func leaderboardTotal(t *testing.T, body map[string]interface{}, email string) float64 {
	t.Helper()
	rows, _ := body["leaderboard"].([]interface{})
	for _, r := range rows {
		row, _ := r.(map[string]interface{})
		if row["email"] == email {
			total, _ := row["total_score"].(float64)
			return total
		}
	}
	t.Fatalf("%s not found in leaderboard %v", email, body["leaderboard"])
	return 0
}

// --- シナリオ ---

func TestRouter_RegisterLoginScoreLeaderboard(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())

	resp, body := app.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"secret1"}`)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, body = %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("register body = %v", body)
	}

	resp, body = app.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"secret1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", resp.StatusCode, body)
	}
	user, _ := body["user"].(map[string]interface{})
	if user["email"] != "a@x.com" {
		t.Fatalf("login user = %v", body["user"])
	}

	resp, body = app.do(t, http.MethodGet, "/api/auth/me", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, body = %v", resp.StatusCode, body)
	}
	me, _ := body["user"].(map[string]interface{})
	if me["id"] != user["id"] {
		t.Errorf("me id = %v, want %v", me["id"], user["id"])
	}

	resp, body = app.do(t, http.MethodPost, "/api/game/score", `{"level":"easy","score":50}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score status = %d, body = %v", resp.StatusCode, body)
	}
	_, body = app.do(t, http.MethodGet, "/api/game/leaderboard", "")
	if got := leaderboardTotal(t, body, "a@x.com"); got != 50 {
		t.Errorf("total after 50 = %v, want 50", got)
	}

	resp, _ = app.do(t, http.MethodPost, "/api/game/score", `{"level":"easy","score":30}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second score status = %d", resp.StatusCode)
	}
	_, body = app.do(t, http.MethodGet, "/api/game/leaderboard", "")
	if got := leaderboardTotal(t, body, "a@x.com"); got != 50 {
		t.Errorf("total after lower score = %v, want 50", got)
	}

	resp, _ = app.do(t, http.MethodPost, "/api/game/score", `{"level":"hard","score":20}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hard score status = %d", resp.StatusCode)
	}
	_, body = app.do(t, http.MethodGet, "/api/game/leaderboard", "")
	if got := leaderboardTotal(t, body, "a@x.com"); got != 70 {
		t.Errorf("total across levels = %v, want 70", got)
	}

	resp, _ = app.do(t, http.MethodPost, "/api/auth/logout", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = app.do(t, http.MethodGet, "/api/auth/me", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestRouter_DuplicateRegister_Returns409(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())

	app.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"secret1"}`)
	resp, body := app.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"other"}`)

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if body["code"] != model.ErrCodeDuplicateEmail {
		t.Errorf("code = %v", body["code"])
	}
}

func TestRouter_ProtectedRoutes_RejectMissingOrExpiredToken(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())
	app.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"secret1"}`)
	account, _ := app.store.FindByEmail(context.Background(), "a@x.com")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   account.ID,
		"email": account.Email,
		"iss":   "bananaquiz",
		"iat":   time.Now().Add(-8 * 24 * time.Hour).Unix(),
		"exp":   time.Now().Add(-24 * time.Hour).Unix(),
	})
	expiredToken, err := expired.SignedString([]byte(e2eSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/auth/me", ""},
		{http.MethodPost, "/api/auth/logout", ""},
		{http.MethodPost, "/api/game/new", `{}`},
		{http.MethodPost, "/api/game/score", `{"level":"easy","score":99}`},
	}
	cookies := []struct {
		name  string
		value string
	}{
		{"absent", ""},
		{"expired", expiredToken},
		{"garbage", "not-a-jwt"},
	}

	for _, rt := range routes {
		for _, c := range cookies {
			t.Run(rt.path+"/"+c.name, func(t *testing.T) {
				req, _ := http.NewRequest(rt.method, app.server.URL+rt.path, strings.NewReader(rt.body))
				if c.value != "" {
					req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: c.value})
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					t.Fatalf("request: %v", err)
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusUnauthorized {
					t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
				}
			})
		}
	}

	_, body := app.do(t, http.MethodGet, "/api/game/leaderboard", "")
	if got := leaderboardTotal(t, body, "a@x.com"); got != 0 {
		t.Errorf("rejected score submissions must not be stored, total = %v", got)
	}
}

func TestRouter_DeletedAccountTokenRejected(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())
	app.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"secret1"}`)
	resp, body := app.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"secret1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	user, _ := body["user"].(map[string]interface{})
	id, _ := user["id"].(string)

	app.store.deleteAccount(id)

	resp, body = app.do(t, http.MethodGet, "/api/auth/me", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if body["message"] != "User not found" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestRouter_QuestionAndAnswer(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())

	resp, body := app.do(t, http.MethodGet, "/api/game/question", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("question status = %d", resp.StatusCode)
	}
	if _, ok := body["solution"]; ok {
		t.Error("solution must not be exposed")
	}
	ticket, _ := body["ticket"].(string)
	if ticket == "" {
		t.Fatal("ticket is empty")
	}

	resp, body = app.do(t, http.MethodPost, "/api/game/answer", `{"ticket":"`+ticket+`","answer":4}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d, body = %v", resp.StatusCode, body)
	}
	if body["correct"] != true {
		t.Errorf("correct = %v, want true", body["correct"])
	}

	resp, body = app.do(t, http.MethodPost, "/api/game/answer", `{"ticket":"`+ticket+`x","answer":4}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != model.ErrCodeInvalidTicket {
		t.Errorf("tampered ticket: status = %d, code = %v", resp.StatusCode, body["code"])
	}
}

func TestRouter_AuthRateLimit_Returns429(t *testing.T) {
	cfg := middleware.RateLimiterConfigPerMinute(120, 1)
	app := newTestApp(t, cfg)

	resp, _ := app.do(t, http.MethodPost, "/api/auth/login", `{"email":"nobody@x.com","password":"secret1"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first login status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp, body := app.do(t, http.MethodPost, "/api/auth/login", `{"email":"nobody@x.com","password":"secret1"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if body["code"] != model.ErrCodeRateLimited {
		t.Errorf("code = %v", body["code"])
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())

	resp, body := app.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || body["database"] != "up" {
		t.Errorf("health: status = %d, body = %v", resp.StatusCode, body)
	}

	resp, err := app.client.Get(app.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	rec := httptest.NewRecorder()
	rec.Body.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(rec.Body.String(), `bananaquiz_http_requests_total{method="GET",route="/health",status_code="200"}`) {
		t.Errorf("metrics output missing /health request counter:\n%s", rec.Body.String())
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), nil)
	defer rl.Stop()
	router := NewRouter(&RouterDeps{
		RateLimiter:   rl,
		HealthChecker: pingChecker{err: errors.New("connection refused")},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	app := newTestApp(t, middleware.DefaultRateLimiterConfig())

	resp, err := app.client.Get(app.server.URL + "/api/unknown")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
