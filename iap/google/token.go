package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/goccy/go-json"

	"github.com/code-payments/iap-validator/iap"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	accessTokenKey = "access_token"

	// expirySkew is subtracted from expires_in so a token leaves the cache
	// before Google stops accepting it.
	expirySkew = 60 * time.Second
)

// TokenCache holds the process-wide OAuth access token. Reads and writes are
// atomic; concurrent validations may observe either the previous or the new
// token.
type TokenCache struct {
	cache *ttlcache.Cache
}

func NewTokenCache() *TokenCache {
	cache := ttlcache.NewCache()
	cache.SkipTtlExtensionOnHit(true)
	return &TokenCache{cache: cache}
}

func (c *TokenCache) Get() (string, bool) {
	cached, ok := c.cache.Get(accessTokenKey)
	if !ok {
		return "", false
	}
	token, ok := cached.(string)
	return token, ok && token != ""
}

// Set stores token. A non-positive ttl keeps it until it is replaced.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	if ttl > 0 {
		c.cache.SetWithTTL(accessTokenKey, token, ttl)
		return
	}
	c.cache.Set(accessTokenKey, token)
}

func (c *TokenCache) Clear() {
	c.cache.Remove(accessTokenKey)
}

// Close stops the cache's expiry goroutine.
func (c *TokenCache) Close() {
	c.cache.Close()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// refreshAccessToken exchanges a freshly minted assertion for an access token
// and stores it in the cache. On failure the cache is left untouched.
func (v *Validator) refreshAccessToken(ctx context.Context) (token string, err error) {
	defer func() {
		iap.RecordGoogleTokenRefresh(err)
	}()

	assertion, err := v.signer.Mint(v.now())
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequest(http.MethodPost, v.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", iap.NewConfigurationError("invalid token url", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := iap.Send(ctx, v.client, req)
	if err != nil {
		return "", err
	}

	var body tokenResponse
	decodeErr := json.Unmarshal(resp.Body, &body)

	if !resp.OK() {
		message := fmt.Sprintf("failed to refresh token: response code %d", resp.StatusCode)
		if decodeErr == nil && body.Error != "" {
			message += ": " + body.Error
		}
		return "", iap.NewStoreRejectedError(resp.StatusCode, message)
	}
	if decodeErr != nil {
		return "", iap.NewMalformedResponseError("token response could not be parsed", decodeErr)
	}
	if body.Error != "" {
		message := body.Error
		if body.ErrorDescription != "" {
			message += ": " + body.ErrorDescription
		}
		return "", iap.NewStoreRejectedError(resp.StatusCode, message)
	}
	if body.AccessToken == "" {
		return "", iap.NewMalformedResponseError("token response has no access_token", nil)
	}

	v.tokens.Set(body.AccessToken, tokenTTL(body.ExpiresIn))

	return body.AccessToken, nil
}

// tokenTTL is how long a token with the given expires_in stays cached.
// Lifetimes at or below expirySkew are halved. A missing lifetime keeps the
// token until a rejected lookup replaces it.
func tokenTTL(expiresIn int64) time.Duration {
	lifetime := time.Duration(expiresIn) * time.Second
	switch {
	case lifetime <= 0:
		return 0
	case lifetime <= expirySkew:
		return lifetime / 2
	default:
		return lifetime - expirySkew
	}
}
