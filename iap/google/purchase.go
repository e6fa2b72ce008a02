package google

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"google.golang.org/api/androidpublisher/v3"

	"github.com/code-payments/iap-validator/iap"
)

// envelope is the receipt payload handed to the client by Play Billing.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// purchaseData is the signed purchase JSON inside the envelope.
type purchaseData struct {
	PackageName      string `json:"packageName"`
	ProductID        string `json:"productId"`
	PurchaseToken    string `json:"purchaseToken"`
	OrderID          string `json:"orderId"`
	PurchaseTime     int64  `json:"purchaseTime"`
	PurchaseState    int64  `json:"purchaseState"`
	DeveloperPayload string `json:"developerPayload"`
	AutoRenewing     bool   `json:"autoRenewing"`
	Quantity         int    `json:"quantity"`
}

// parseOrderData decodes the envelope. The data member may be an object or a
// JSON string holding one.
func parseOrderData(orderData string) (*purchaseData, string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(orderData), &env); err != nil {
		return nil, "", iap.NewInputError("receipt is not a purchase envelope", err)
	}

	raw := bytes.TrimSpace(env.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, "", iap.NewInputError("receipt envelope has no data", nil)
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, "", iap.NewInputError("receipt data is not a string", err)
		}
		raw = []byte(text)
	}

	var data purchaseData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, "", iap.NewInputError("receipt data is not a purchase", errors.Wrap(err, "failed to decode purchase data"))
	}
	if data.PackageName == "" {
		return nil, "", iap.NewInputError("receipt data is missing package name", nil)
	}
	return &data, env.Signature, nil
}

// localPurchase builds the record returned when no authoritative state is
// available. Receipt fields take precedence over the signed purchase data.
func localPurchase(receipt *iap.Receipt, data *purchaseData) *iap.Purchase {
	p := &iap.Purchase{
		InternalID:       receipt.InternalID,
		TransactionID:    receipt.TransactionID,
		SKU:              receipt.SKU,
		PackageName:      receipt.PackageName,
		StoreCode:        receipt.StoreCode,
		OrderData:        receipt.OrderData,
		PurchaseDate:     receipt.PurchaseDate,
		ExpiryDate:       receipt.ExpiryDate,
		CancellationDate: receipt.CancellationDate,
		Quantity:         receipt.Quantity,
		PurchaseToken:    data.PurchaseToken,
		OrderID:          data.OrderID,
		DeveloperPayload: data.DeveloperPayload,
		AutoRenewing:     data.AutoRenewing,
	}

	if p.StoreCode == "" {
		p.StoreCode = iap.StoreCodePlay
	}
	if p.TransactionID == "" {
		p.TransactionID = data.OrderID
	}
	if p.TransactionID == "" {
		p.TransactionID = data.PurchaseToken
	}
	if p.SKU == "" {
		p.SKU = data.ProductID
	}
	if p.PackageName == "" {
		p.PackageName = data.PackageName
	}
	if p.PurchaseDate.IsZero() && data.PurchaseTime > 0 {
		p.PurchaseDate = iap.TimeFromMillis(data.PurchaseTime)
	}
	if p.Quantity <= 0 {
		p.Quantity = data.Quantity
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	return p
}

func applySubscription(p *iap.Purchase, data *purchaseData, sub *androidpublisher.SubscriptionPurchase) {
	if sub.ExpiryTimeMillis > 0 {
		expiry := iap.TimeFromMillis(sub.ExpiryTimeMillis)
		p.ExpiryDate = &expiry
	}
	if sub.StartTimeMillis > 0 {
		p.PurchaseDate = iap.TimeFromMillis(sub.StartTimeMillis)
	}
	if data.ProductID != "" {
		p.SKU = data.ProductID
	}
	p.PackageName = data.PackageName
	p.PurchaseToken = data.PurchaseToken

	if sub.OrderId != "" {
		p.OrderID = sub.OrderId
	}
	p.Kind = sub.Kind
	p.PriceAmountMicros = sub.PriceAmountMicros
	p.PriceCurrencyCode = sub.PriceCurrencyCode
	p.PaymentState = copyInt(sub.PaymentState)
	p.AcknowledgementState = int64Ptr(sub.AcknowledgementState)
	p.PurchaseType = copyInt(sub.PurchaseType)
	p.DeveloperPayload = sub.DeveloperPayload
	p.CountryCode = sub.CountryCode
	p.AutoRenewing = sub.AutoRenewing

	p.UserCancellationTime = nil
	if sub.UserCancellationTimeMillis > 0 {
		cancelled := iap.TimeFromMillis(sub.UserCancellationTimeMillis)
		p.UserCancellationTime = &cancelled
	}

	// cancelReason is only sent for cancelled subscriptions. Reason 0 is a
	// user cancellation, which always carries userCancellationTimeMillis.
	p.CancelReason = nil
	if sub.CancelReason != 0 || sub.UserCancellationTimeMillis > 0 {
		p.CancelReason = int64Ptr(sub.CancelReason)
	}
}

func applyProduct(p *iap.Purchase, data *purchaseData, product *androidpublisher.ProductPurchase) {
	if product.PurchaseTimeMillis > 0 {
		p.PurchaseDate = iap.TimeFromMillis(product.PurchaseTimeMillis)
	}
	p.SKU = data.ProductID
	if product.ProductId != "" {
		p.SKU = product.ProductId
	}
	p.PackageName = data.PackageName
	p.PurchaseToken = data.PurchaseToken
	if product.PurchaseToken != "" {
		p.PurchaseToken = product.PurchaseToken
	}

	if product.OrderId != "" {
		p.OrderID = product.OrderId
	}
	p.Kind = product.Kind
	p.AcknowledgementState = int64Ptr(product.AcknowledgementState)
	p.PurchaseType = copyInt(product.PurchaseType)
	p.DeveloperPayload = product.DeveloperPayload
	p.CountryCode = product.RegionCode
	if product.Quantity > 0 {
		p.Quantity = int(product.Quantity)
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return int64Ptr(*v)
}
