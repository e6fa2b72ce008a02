package google

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"

	"github.com/code-payments/iap-validator/iap"
)

// purchaseState holds whichever resource the lookup fetched.
type purchaseState struct {
	subscription *androidpublisher.SubscriptionPurchase
	product      *androidpublisher.ProductPurchase
}

// lookup fetches the purchase state. A missing or rejected access token
// leads to one refresh and exactly one retried request. A malformed body is
// returned without a refresh.
func (v *Validator) lookup(ctx context.Context, data *purchaseData, isSubscription bool) (*purchaseState, error) {
	if v.serviceErr != nil {
		return nil, iap.NewConfigurationError("failed to create android publisher client", v.serviceErr)
	}

	if token, ok := v.tokens.Get(); ok {
		state, err := v.fetch(ctx, data, isSubscription, token)
		if err == nil || iap.IsKind(err, iap.KindMalformedResponse) {
			return state, err
		}
		v.log.Debug("Purchase lookup failed, refreshing access token", zap.Error(err))
	}

	token, err := v.refreshAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return v.fetch(ctx, data, isSubscription, token)
}

func (v *Validator) fetch(ctx context.Context, data *purchaseData, isSubscription bool, token string) (*purchaseState, error) {
	if isSubscription {
		call := v.service.Purchases.Subscriptions.Get(data.PackageName, data.ProductID, data.PurchaseToken)
		call.Header().Set("Authorization", "Bearer "+token)

		sub, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classifyLookupError(err)
		}
		return &purchaseState{subscription: sub}, nil
	}

	call := v.service.Purchases.Products.Get(data.PackageName, data.ProductID, data.PurchaseToken)
	call.Header().Set("Authorization", "Bearer "+token)

	product, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classifyLookupError(err)
	}
	return &purchaseState{product: product}, nil
}

// classifyLookupError maps androidpublisher call errors onto the validation
// taxonomy. Failures that are neither API errors nor transport errors come
// from decoding the response body.
func classifyLookupError(err error) error {
	var validationErr *iap.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := "failed to get purchase state"
		if apiErr.Message != "" {
			message += ": " + apiErr.Message
		}
		return iap.NewStoreRejectedError(apiErr.Code, message)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return iap.NewTransportError(0, "purchase request failed", err)
	}

	return iap.NewMalformedResponseError("purchase response could not be parsed", err)
}

// playTransport sends androidpublisher requests through the configured
// HTTPClient. A 2xx body that carries an "error" member is reported as a
// *googleapi.Error.
type playTransport struct {
	client iap.HTTPClient
}

func (t *playTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := iap.Send(req.Context(), t.client, req)
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		if apiErr := embeddedError(resp.StatusCode, resp.Body); apiErr != nil {
			return nil, apiErr
		}
	}

	return &http.Response{
		Status:        http.StatusText(resp.StatusCode),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}

func embeddedError(status int, body []byte) *googleapi.Error {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(envelope.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	apiErr := &googleapi.Error{Code: status, Body: string(body)}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		apiErr.Message = message
		return apiErr
	}

	var detail struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		apiErr.Message = detail.Message
		if detail.Code != 0 {
			apiErr.Code = detail.Code
		}
	}
	return apiErr
}
