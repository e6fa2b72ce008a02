package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/iap-validator/iap"
)

// Validator is an in-memory validator that checks an ed25519 signature on the
// receipt. For testing purposes, the receipt is a SKU that, when signed by the
// owner key, is considered a valid one-time purchase.
type Validator struct {
	publicKey ed25519.PublicKey

	mu        sync.Mutex
	validated map[string]time.Time
}

func NewValidator(pubKey ed25519.PublicKey) *Validator {
	return &Validator{
		publicKey: pubKey,
		validated: make(map[string]time.Time),
	}
}

func (v *Validator) Validate(_ context.Context, receipt *iap.Receipt, _ bool) ([]*iap.Purchase, error) {
	if receipt == nil || receipt.OrderData == "" {
		return nil, iap.NewInputError("receipt data is required", nil)
	}

	// The receipt format is: base64(signature)|sku
	signature, sku, err := parseReceipt(receipt.OrderData)
	if err != nil {
		return nil, iap.NewInputError("invalid receipt format", err)
	}

	if !ed25519.Verify(v.publicKey, []byte(sku), signature) {
		return nil, iap.NewStoreRejectedError(0, "receipt signature is invalid")
	}

	id := iap.ReceiptHash(signature)

	v.mu.Lock()
	purchaseDate, ok := v.validated[id]
	if !ok {
		purchaseDate = time.Now().UTC()
		v.validated[id] = purchaseDate
	}
	v.mu.Unlock()

	return []*iap.Purchase{{
		TransactionID:         id,
		OriginalTransactionID: id,
		SKU:                   sku,
		PackageName:           receipt.PackageName,
		StoreCode:             receipt.StoreCode,
		Environment:           iap.EnvironmentSandbox,
		OrderData:             receipt.OrderData,
		PurchaseDate:          purchaseDate,
		Quantity:              1,
	}}, nil
}

func (v *Validator) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validated = make(map[string]time.Time)
}

func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func GenerateValidReceipt(owner ed25519.PrivateKey, sku string) string {
	signature := ed25519.Sign(owner, []byte(sku))
	return base64.StdEncoding.EncodeToString(signature) + "|" + sku
}

func parseReceipt(receipt string) (signature []byte, sku string, err error) {
	parts := strings.Split(receipt, "|")
	if len(parts) != 2 {
		return nil, "", errors.Errorf("invalid receipt format: %s", receipt)
	}

	signature, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, "", errors.Wrap(err, "error decoding signature")
	}

	return signature, parts[1], nil
}
