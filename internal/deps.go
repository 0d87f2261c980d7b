package internal

import (
	"bitwise74/playground-api/internal/playground"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/security"

	"github.com/chenyahui/gin-cache/persist"
	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	Store    store.Store
	Signer   *security.Signer
	Sessions *playground.Manager
	// Cache backs response caching, shared through redis when the store
	// uses it
	Cache persist.CacheStore
	// SecureCookies marks session and auth cookies as https only
	SecureCookies bool
}
