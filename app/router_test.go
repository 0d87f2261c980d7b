package app

import (
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/middleware"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	v "github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGenerationServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /createSoraTask", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.Write([]byte(`{"taskId":"task-1"}`))
	})
	mux.HandleFunc("GET /getSoraTask", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))
		w.Write([]byte(`{"status":"succeeded","outputUrl":"https://cdn.example.com/task-1.mp4"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDeps(t *testing.T) *internal.Deps {
	t.Helper()

	v.Reset()
	t.Cleanup(v.Reset)

	v.Set("host.cors", []string{"http://localhost:5173"})
	v.Set("auth.jwt_secret", "secret")
	v.Set("auth.token_ttl", "1h")
	v.Set("auth.ready_timeout", "2s")
	v.Set("generation.api_base", newGenerationServer(t).URL)
	v.Set("generation.create_path", "/createSoraTask")
	v.Set("generation.query_path", "/getSoraTask")
	v.Set("generation.poll_interval", "10ms")
	v.Set("generation.max_attempts", 5)
	v.Set("store.driver", "memory")
	v.Set("store.dsn", "file:"+t.Name()+"?mode=memory&cache=shared")
	v.Set("session.ttl", "1h")
	v.Set("security.max_body_size", 64<<10)

	d, cleanup, err := NewDeps(context.Background())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	sqlDB, err := d.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return d
}

// client keeps cookies between requests like a browser would.
type client struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, router http.Handler) *client {
	return &client{t: t, router: router, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}

	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type sessionUser struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous"`
	Email     string `json:"email"`
}

func (c *client) user() sessionUser {
	c.t.Helper()

	w := c.do(http.MethodGet, "/api/session", nil)
	require.Equal(c.t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		User sessionUser `json:"user"`
	}
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.User
}

func TestHeartbeat(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := newClient(t, router).do(http.MethodHead, "/api/heartbeat", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionCookies(t *testing.T) {
	router := NewRouter(newTestDeps(t))
	c := newClient(t, router)

	u := c.user()
	assert.True(t, u.Anonymous)
	assert.NotEmpty(t, u.ID)
	require.Contains(t, c.cookies, middleware.SessionCookie)
	require.Contains(t, c.cookies, middleware.AuthCookie)

	// Same session, same identity
	assert.Equal(t, u.ID, c.user().ID)

	// A new browser session resumes the identity from the auth cookie
	other := newClient(t, router)
	other.cookies[middleware.AuthCookie] = c.cookies[middleware.AuthCookie]
	assert.Equal(t, u.ID, other.user().ID)
	assert.NotEqual(t, c.cookies[middleware.SessionCookie].Value, other.cookies[middleware.SessionCookie].Value)
}

func TestEvents(t *testing.T) {
	d := newTestDeps(t)
	c := newClient(t, NewRouter(d))
	u := c.user()

	w := c.do(http.MethodPost, "/api/events", gin.H{"name": "share_click", "meta": gin.H{"target": "x"}})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = c.do(http.MethodPost, "/api/events", gin.H{"name": "Bad Name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Eventually(t, func() bool {
		events, err := d.Store.Get(context.Background(), store.EventsPath(u.ID))
		if err != nil {
			return false
		}

		for _, e := range events.(map[string]any) {
			if e.(map[string]any)["name"] == "share_click" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestGenerateRequiresRegistration(t *testing.T) {
	c := newClient(t, NewRouter(newTestDeps(t)))
	c.user()

	w := c.do(http.MethodPost, "/api/generate", gin.H{"prompt": "a cat"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "/register", decode(t, w)["redirect"])
}

func TestAuthFlow(t *testing.T) {
	c := newClient(t, NewRouter(newTestDeps(t)))
	anon := c.user()

	w := c.do(http.MethodPost, "/api/users", gin.H{"email": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Enter your email and password to continue.", decode(t, w)["error"])

	w = c.do(http.MethodPost, "/api/users", gin.H{"email": "not-an-email", "password": "hunter22"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "auth/invalid-email", decode(t, w)["code"])

	w = c.do(http.MethodPost, "/api/users", gin.H{"email": "cat@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	u := c.user()
	assert.Equal(t, anon.ID, u.ID)
	assert.False(t, u.Anonymous)
	assert.Equal(t, "cat@example.com", u.Email)

	w = c.do(http.MethodPost, "/api/users/login", gin.H{"email": "cat@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = c.do(http.MethodPost, "/api/users/logout", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, c.cookies, middleware.AuthCookie)

	var fresh sessionUser
	require.Eventually(t, func() bool {
		w := c.do(http.MethodGet, "/api/session", nil)
		if w.Code != http.StatusOK {
			return false
		}

		var out struct {
			User sessionUser `json:"user"`
		}
		json.Unmarshal(w.Body.Bytes(), &out)
		fresh = out.User
		return fresh.ID != "" && fresh.ID != anon.ID
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, fresh.Anonymous)

	w = c.do(http.MethodPost, "/api/users/login", gin.H{"email": "cat@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Incorrect email or password.", decode(t, w)["error"])

	w = c.do(http.MethodPost, "/api/users/login", gin.H{"email": "cat@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, anon.ID, c.user().ID)

	other := newClient(t, c.router)
	w = other.do(http.MethodPost, "/api/users", gin.H{"email": "cat@example.com", "password": "hunter22"})
	if w.Code == http.StatusServiceUnavailable {
		other.user()
		w = other.do(http.MethodPost, "/api/users", gin.H{"email": "cat@example.com", "password": "hunter22"})
	}
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "This email is already in use. Try another one.", decode(t, w)["error"])
}

func TestGenerate(t *testing.T) {
	d := newTestDeps(t)
	c := newClient(t, NewRouter(d))
	c.user()

	w := c.do(http.MethodPost, "/api/users", gin.H{"email": "dog@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	u := c.user()

	w = c.do(http.MethodPost, "/api/generate", gin.H{"prompt": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["kind"])

	w = c.do(http.MethodPost, "/api/generate", gin.H{
		"prompt":          "a dog surfing",
		"duration":        "15s",
		"orientation":     "Portrait",
		"removeWatermark": true,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var history struct {
		History []struct {
			TaskID    string `json:"taskId"`
			OutputURL string `json:"outputUrl"`
			Prompt    string `json:"prompt"`
		} `json:"history"`
	}

	require.Eventually(t, func() bool {
		w := c.do(http.MethodGet, "/api/history", nil)
		json.Unmarshal(w.Body.Bytes(), &history)
		return len(history.History) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "task-1", history.History[0].TaskID)
	assert.Equal(t, "https://cdn.example.com/task-1.mp4", history.History[0].OutputURL)
	assert.Equal(t, "a dog surfing", history.History[0].Prompt)

	status := decode(t, c.do(http.MethodGet, "/api/generate", nil))
	assert.Equal(t, "succeeded", status["state"])
	assert.True(t, strings.HasPrefix(status["message"].(string), "Generated in "))

	require.Eventually(t, func() bool {
		_, err := d.Store.Get(context.Background(), store.VideosPath(u.ID))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	w = c.do(http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var videos struct {
		Videos []struct {
			Seq    int64          `json:"seq"`
			Fields map[string]any `json:"fields"`
		} `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &videos))
	require.Len(t, videos.Videos, 1)

	fields := videos.Videos[0].Fields
	assert.Equal(t, "task-1", fields["task_id"])
	assert.EqualValues(t, 15, fields["duration"])
	assert.Equal(t, "portrait", fields["orientation"])
	assert.Equal(t, true, fields["remove_watermark"])
	assert.NotEmpty(t, fields["run_id"])

	// The cached list belongs to the signed out identity
	w = c.do(http.MethodPost, "/api/users/logout", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool {
		w := c.do(http.MethodGet, "/api/session", nil)
		return w.Code == http.StatusOK && !strings.Contains(w.Body.String(), u.ID)
	}, 5*time.Second, 20*time.Millisecond)

	w = c.do(http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)

	videos.Videos = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &videos))
	assert.Empty(t, videos.Videos)
}

func TestBodySizeLimit(t *testing.T) {
	d := newTestDeps(t)
	v.Set("security.max_body_size", 16)

	c := newClient(t, NewRouter(d))
	w := c.do(http.MethodPost, "/api/events", gin.H{"name": strings.Repeat("a", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
