// Package app wires the HTTP surface of the playground
package app

import (
	"bitwise74/playground-api/app/event"
	"bitwise74/playground-api/app/generate"
	"bitwise74/playground-api/app/root"
	"bitwise74/playground-api/app/user"
	"bitwise74/playground-api/internal"
	"bitwise74/playground-api/pkg/middleware"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const videosCacheTTL = 5 * time.Second

func NewRouter(d *internal.Deps) *gin.Engine {
	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     v.GetStringSlice("host.cors"),
			AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "TurnstileToken"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("sessionID"); v != "" {
					fields = append(fields, zap.String("session_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true

	api := router.Group("/api")

	if rateLimit := v.GetInt("security.rate_limit"); rateLimit > 0 {
		api.Use(middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
			RequestsPerSecond: rateLimit,
			Burst:             rateLimit * 2,
		}))
	}

	if maxBody := v.GetInt64("security.max_body_size"); maxBody > 0 {
		api.Use(middleware.BodySizeLimiter(maxBody))
	}

	// HEAD /api/heartbeat 		-> Used to check if the server is alive
	api.HEAD("/heartbeat", func(c *gin.Context) { root.Heartbeat(c, d) })

	session := middleware.NewSessionMiddleware(d.Sessions, d.SecureCookies)
	turnstile := middleware.NewTurnstileMiddleware(middleware.TurnstileConfig{
		Enabled: v.GetBool("security.turnstile.enabled"),
		Secret:  v.GetString("security.turnstile.secret_token"),
	})

	m := api.Group("", session)
	{
		// GET /api/session		-> Returns the identity of the session once it's ready
		m.GET("/session", func(c *gin.Context) { user.SessionFetch(c, d) })

		// POST /api/events		-> Records a client event
		m.POST("/events", func(c *gin.Context) { event.EventLog(c, d) })
	}

	u := m.Group("/users")
	{
		// POST /api/users 		-> Registers the session's identity
		u.POST("", turnstile, func(c *gin.Context) { user.UserRegister(c, d) })

		// POST /api/users/login 	-> Signs in with email and password
		u.POST("/login", turnstile, func(c *gin.Context) { user.UserLogin(c, d) })

		// POST /api/users/logout	-> Signs out, a new anonymous identity takes over
		u.POST("/logout", func(c *gin.Context) { user.UserLogout(c, d) })
	}

	g := m.Group("")
	{
		// POST /api/generate		-> Starts a generation
		g.POST("/generate", func(c *gin.Context) { generate.GenerateStart(c, d) })

		// GET /api/generate		-> Returns the generation status
		g.GET("/generate", func(c *gin.Context) { generate.GenerateProgress(c, d) })

		// GET /api/history		-> Returns the generations finished in this session
		g.GET("/history", func(c *gin.Context) { generate.HistoryFetch(c, d) })

		// GET /api/videos		-> Returns the stored video records of the identity
		g.GET("/videos", cacheByIdentity(d, videosCacheTTL), func(c *gin.Context) { generate.VideosFetch(c, d) })
	}

	return router
}

// cacheByIdentity caches responses per identity. A session changes identity
// on sign out and sign in, so the session ID alone can't key the cache.
func cacheByIdentity(d *internal.Deps, ttl time.Duration) gin.HandlerFunc {
	return cache.Cache(d.Cache, ttl, cache.WithCacheStrategyByRequest(func(c *gin.Context) (bool, cache.Strategy) {
		u := middleware.Session(c).Identity(c.Request.Context())
		if u == nil {
			return false, cache.Strategy{}
		}

		return true, cache.Strategy{
			CacheKey: c.Request.URL.Path + ":" + u.ID,
		}
	}))
}
