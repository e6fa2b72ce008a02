package apple

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/code-payments/iap-validator/iap"
)

const (
	ProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	SandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"
)

// Validator verifies App Store receipts with the verifyReceipt endpoint.
type Validator struct {
	log    *zap.Logger
	client iap.HTTPClient

	sharedSecret   string
	sandboxFirst   bool
	excludeExpired bool

	productionURL string
	sandboxURL    string

	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithSharedSecret sets the app-wide shared secret used when a call does not
// supply its own.
func WithSharedSecret(secret string) Option {
	return func(v *Validator) {
		v.sharedSecret = secret
	}
}

// WithSandboxFirst sends receipts straight to the sandbox host. No
// production fallback happens in this mode.
func WithSandboxFirst(sandboxFirst bool) Option {
	return func(v *Validator) {
		v.sandboxFirst = sandboxFirst
	}
}

// WithExcludeExpired drops transactions whose expiry is at or before now.
func WithExcludeExpired(exclude bool) Option {
	return func(v *Validator) {
		v.excludeExpired = exclude
	}
}

// WithURLs overrides the production and sandbox verifyReceipt endpoints.
func WithURLs(productionURL, sandboxURL string) Option {
	return func(v *Validator) {
		v.productionURL = productionURL
		v.sandboxURL = sandboxURL
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator returns a Validator that posts receipts through client.
func NewValidator(log *zap.Logger, client iap.HTTPClient, opts ...Option) *Validator {
	v := &Validator{
		log:           log,
		client:        client,
		productionURL: ProductionURL,
		sandboxURL:    SandboxURL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Validate(ctx context.Context, receipt *iap.Receipt, isSubscription bool) ([]*iap.Purchase, error) {
	return v.ValidateWithSecret(ctx, receipt, "", isSubscription)
}

// ValidateWithSecret is Validate with a per-call shared secret. An empty
// secret falls back to the configured one.
func (v *Validator) ValidateWithSecret(ctx context.Context, receipt *iap.Receipt, secret string, isSubscription bool) ([]*iap.Purchase, error) {
	if receipt == nil || receipt.OrderData == "" {
		return nil, iap.NewInputError("receipt data is required", nil)
	}
	if secret == "" {
		secret = v.sharedSecret
	}

	body, err := json.Marshal(&verifyRequest{
		ReceiptData: receipt.OrderData,
		Password:    secret,
	})
	if err != nil {
		return nil, iap.NewInputError("failed to encode verifyReceipt request", err)
	}

	resp, env, err := v.verify(ctx, body)
	if err != nil {
		return nil, err
	}

	purchases := reconcile(resp, reconcileOptions{
		excludeExpired: v.excludeExpired,
		now:            v.now(),
		environment:    env,
	})

	v.log.Debug("Reconciled App Store receipt",
		zap.String("environment", string(env)),
		zap.Int("purchases", len(purchases)),
		zap.Bool("subscription", isSubscription),
	)

	return purchases, nil
}

// verify runs the environment state machine: production first (unless
// configured sandbox-first), then at most one fallback to the sandbox.
func (v *Validator) verify(ctx context.Context, body []byte) (*verifyResponse, iap.Environment, error) {
	env := iap.EnvironmentProduction
	if v.sandboxFirst {
		env = iap.EnvironmentSandbox
	}

	for {
		resp, err := v.attempt(ctx, env, body)
		if err != nil {
			if env == iap.EnvironmentProduction {
				v.log.Info("Production verifyReceipt failed, retrying in sandbox", zap.Error(err))
				env = v.fallback()
				continue
			}
			return nil, env, err
		}

		status := *resp.Status
		switch {
		case status == StatusOK:
			return resp, env, nil
		case env == iap.EnvironmentProduction && shouldRetryInSandbox(status):
			v.log.Debug("Receipt belongs to sandbox, retrying", zap.Int("status", status))
			env = v.fallback()
		default:
			v.log.Debug("App Store rejected receipt",
				zap.String("environment", string(env)),
				zap.Int("status", status),
			)
			return nil, env, iap.NewStoreRejectedError(status, StatusMessage(status))
		}
	}
}

func (v *Validator) fallback() iap.Environment {
	iap.AppleEnvironmentFallbacks.Inc()
	return iap.EnvironmentSandbox
}

func (v *Validator) attempt(ctx context.Context, env iap.Environment, body []byte) (*verifyResponse, error) {
	url := v.productionURL
	if env == iap.EnvironmentSandbox {
		url = v.sandboxURL
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, iap.NewConfigurationError("invalid verifyReceipt url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := iap.Send(ctx, v.client, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, iap.NewTransportError(resp.StatusCode, fmt.Sprintf("unexpected response code %d", resp.StatusCode), nil)
	}

	decoded, err := decodeVerifyResponse(resp.Body)
	if err != nil {
		return nil, iap.NewMalformedResponseError("verifyReceipt response could not be parsed", err)
	}
	return decoded, nil
}
