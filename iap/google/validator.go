package google

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/code-payments/iap-validator/iap"
)

// APIBaseURL is the default Play Developer API root.
const APIBaseURL = "https://www.googleapis.com/"

// Validator verifies Google Play purchase tokens with the Play Developer API
// and enriches the locally parsed purchase with its authoritative state.
type Validator struct {
	log    *zap.Logger
	client iap.HTTPClient
	signer *Signer
	tokens *TokenCache

	service    *androidpublisher.Service
	serviceErr error

	tokenURL   string
	apiBaseURL string

	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(v *Validator) {
		v.tokenURL = tokenURL
	}
}

// WithAPIBaseURL overrides the Play Developer API root.
func WithAPIBaseURL(baseURL string) Option {
	return func(v *Validator) {
		v.apiBaseURL = baseURL
	}
}

// WithTokenCache shares an access token cache between validators.
func WithTokenCache(tokens *TokenCache) Option {
	return func(v *Validator) {
		v.tokens = tokens
	}
}

// WithClock sets the time source for assertion claims.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator returns a Validator that mints assertions with signer and
// sends every request through client. Requests carry the cached access token
// rather than credentials from the environment.
func NewValidator(log *zap.Logger, client iap.HTTPClient, signer *Signer, opts ...Option) *Validator {
	v := &Validator{
		log:        log,
		client:     client,
		signer:     signer,
		tokenURL:   TokenURL,
		apiBaseURL: APIBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.tokens == nil {
		v.tokens = NewTokenCache()
	}
	if !strings.HasSuffix(v.apiBaseURL, "/") {
		v.apiBaseURL += "/"
	}

	v.service, v.serviceErr = androidpublisher.NewService(
		context.Background(),
		option.WithHTTPClient(&http.Client{Transport: &playTransport{client: client}}),
		option.WithEndpoint(v.apiBaseURL),
	)
	return v
}

// Validate always returns exactly one purchase built from the receipt. A
// successful remote lookup upgrades it; a failed one is logged and the local
// record is returned as is. Only an unusable receipt or missing credentials
// fail the call.
func (v *Validator) Validate(ctx context.Context, receipt *iap.Receipt, isSubscription bool) ([]*iap.Purchase, error) {
	if receipt == nil || receipt.OrderData == "" {
		return nil, iap.NewInputError("receipt data is required", nil)
	}

	data, signature, err := parseOrderData(receipt.OrderData)
	if err != nil {
		return nil, err
	}

	log := v.log.With(
		zap.String("package_name", data.PackageName),
		zap.String("product_id", data.ProductID),
		zap.Bool("subscription", isSubscription),
		zap.Bool("signed", signature != ""),
	)

	purchase := localPurchase(receipt, data)

	state, err := v.lookup(ctx, data, isSubscription)
	switch {
	case err == nil:
	case iap.IsKind(err, iap.KindConfiguration):
		log.Warn("Google credentials are unusable", zap.Error(err))
		return nil, err
	default:
		log.Info("Failed to fetch purchase state, returning local purchase", zap.Error(err))
		return []*iap.Purchase{purchase}, nil
	}

	if state.subscription != nil {
		applySubscription(purchase, data, state.subscription)
	} else {
		applyProduct(purchase, data, state.product)
	}

	log.Debug("Enriched Play purchase", zap.String("order_id", purchase.OrderID))
	return []*iap.Purchase{purchase}, nil
}

