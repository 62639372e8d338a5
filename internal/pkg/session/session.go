// Package session keeps storefront visitor sessions in Redis. A session only
// carries the visitor's cart token per tenant.
package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"
	"github.com/google/uuid"
)

const (
	CookieName = "tenantly_session"
	Expiration = 7 * 24 * time.Hour
)

type Store struct {
	store *session.Store
}

// NewRedisStorage connects fiber session storage to redis, using database 1
// (the cache and job queue use database 0).
func NewRedisStorage(addr, password string) (fiber.Storage, error) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("invalid redis port %q: %w", rawPort, err)
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	}), nil
}

// New builds the session store. A nil storage keeps sessions in memory.
func New(storage fiber.Storage) *Store {
	return &Store{store: session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		Expiration:     Expiration,
		KeyLookup:      "cookie:" + CookieName,
	})}
}

// CartSessionID returns the visitor's cart token for a tenant, issuing one
// on first use.
func (s *Store) CartSessionID(c *fiber.Ctx, tenantID uint) (string, error) {
	sess, err := s.store.Get(c)
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}

	key := cartKey(tenantID)
	if v, ok := sess.Get(key).(string); ok && v != "" {
		return v, nil
	}

	id := uuid.NewString()
	sess.Set(key, id)
	if err := sess.Save(); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return id, nil
}

// ResetCart forgets the cart token, so the next visit starts a new cart.
func (s *Store) ResetCart(c *fiber.Ctx, tenantID uint) error {
	sess, err := s.store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	sess.Delete(cartKey(tenantID))
	return sess.Save()
}

func cartKey(tenantID uint) string {
	return "cart_" + strconv.FormatUint(uint64(tenantID), 10)
}
