package validators

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/code-payments/iap-validator/config"
	"github.com/code-payments/iap-validator/iap"
	"github.com/code-payments/iap-validator/iap/apple"
	"github.com/code-payments/iap-validator/iap/google"
)

type options struct {
	appleClient  iap.HTTPClient
	googleClient iap.HTTPClient
	tokens       *google.TokenCache
}

// Option configures New.
type Option func(*options)

// WithHTTPClient replaces the per-store clients built from the configured
// timeouts.
func WithHTTPClient(client iap.HTTPClient) Option {
	return func(o *options) {
		o.appleClient = client
		o.googleClient = client
	}
}

// WithTokenCache shares an existing Google access token cache.
func WithTokenCache(tokens *google.TokenCache) Option {
	return func(o *options) {
		o.tokens = tokens
	}
}

// New builds a Dispatcher with the App Store and Google Play engines. Without
// service account credentials, Play receipts fail with a configuration error.
// The returned TokenCache must be closed when the Dispatcher is no longer used.
func New(log *zap.Logger, cfg *config.Config, opts ...Option) (*iap.Dispatcher, *google.TokenCache) {
	o := &options{
		appleClient:  &http.Client{Timeout: cfg.Apple.Timeout},
		googleClient: &http.Client{Timeout: cfg.Google.Timeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tokens == nil {
		o.tokens = google.NewTokenCache()
	}

	appleValidator := apple.NewValidator(
		log.With(zap.String("store", string(iap.StoreCodeITunes))),
		o.appleClient,
		apple.WithSharedSecret(cfg.Apple.SharedSecret),
		apple.WithSandboxFirst(cfg.Apple.SandboxFirst),
		apple.WithExcludeExpired(cfg.Apple.ExcludeExpiredReceipts),
		apple.WithURLs(cfg.Apple.ProductionURL, cfg.Apple.SandboxURL),
	)

	if !cfg.GoogleEnabled() {
		log.Warn("Google service account is not configured, Play receipts will fail with a configuration error")
	}
	googleValidator := google.NewValidator(
		log.With(zap.String("store", string(iap.StoreCodePlay))),
		o.googleClient,
		google.NewSigner(cfg.Google.ServiceAccountClientID, cfg.Google.PrivateKeyPEM),
		google.WithTokenURL(cfg.Google.TokenURL),
		google.WithAPIBaseURL(cfg.Google.APIBaseURL),
		google.WithTokenCache(o.tokens),
	)

	return iap.NewDispatcher(log, appleValidator, googleValidator), o.tokens
}
