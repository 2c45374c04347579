package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nedpals/supabase-go"
	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultUserCacheTTL     = 2 * time.Minute
	defaultUserCacheCleanup = 10 * time.Minute
)

// userFetcher is the part of the Supabase auth client used here.
type userFetcher interface {
	User(ctx context.Context, userToken string) (*supabase.User, error)
}

// SupabaseVerifier validates access tokens by asking the Supabase auth API.
// Verified tokens are cached briefly to keep the hot path off the network.
type SupabaseVerifier struct {
	client userFetcher
	cache  *gocache.Cache
}

func NewSupabaseVerifier(baseURL, anonKey string) *SupabaseVerifier {
	client := supabase.CreateClient(baseURL, anonKey)
	return newSupabaseVerifier(client.Auth)
}

func newSupabaseVerifier(client userFetcher) *SupabaseVerifier {
	return &SupabaseVerifier{
		client: client,
		cache:  gocache.New(defaultUserCacheTTL, defaultUserCacheCleanup),
	}
}

func (v *SupabaseVerifier) Authenticate(ctx context.Context, token string) (*User, error) {
	key := tokenKey(token)
	if cached, ok := v.cache.Get(key); ok {
		return cached.(*User), nil
	}

	su, err := v.client.User(ctx, token)
	if err != nil || su == nil || su.ID == "" {
		return nil, unauthenticated("supabase rejected token")
	}

	user := &User{ID: su.ID, Email: su.Email}
	v.cache.Set(key, user, gocache.DefaultExpiration)
	return user, nil
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
