package iap

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

type StoreCode string

const (
	StoreCodeITunes StoreCode = "itunes"
	StoreCodePlay   StoreCode = "play"
)

type Environment string

const (
	EnvironmentUnknown    Environment = ""
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

// Receipt is the caller-supplied proof of purchase.
//
// For Apple, OrderData is the base64-encoded receipt blob. For Google, it is a
// JSON envelope of the form {"data": ..., "signature": "..."}, where data is
// either an object or a JSON string describing the purchase.
type Receipt struct {
	StoreCode        StoreCode
	TransactionID    string
	InternalID       string
	OrderData        string
	SKU              string
	PackageName      string
	PurchaseDate     time.Time
	ExpiryDate       *time.Time
	CancellationDate *time.Time
	Quantity         int
}

// Purchase is one validated purchase or subscription entitlement.
type Purchase struct {
	// InternalID echoes Receipt.InternalID for Google purchases.
	InternalID            string
	TransactionID         string
	OriginalTransactionID string
	SKU                   string
	PackageName           string
	StoreCode             StoreCode
	Environment           Environment

	// OrderData is the token to use for future checks of this purchase. For
	// Apple it carries latest_receipt when the App Store supplies one.
	OrderData string

	PurchaseDate     time.Time
	ExpiryDate       *time.Time
	CancellationDate *time.Time
	Quantity         int
	AutoRenewing     bool

	// Google Play billing metadata. Left zero for Apple purchases.
	PurchaseToken        string
	OrderID              string
	Kind                 string
	PriceAmountMicros    int64
	PriceCurrencyCode    string
	PaymentState         *int64
	AcknowledgementState *int64
	PurchaseType         *int64
	DeveloperPayload     string
	CountryCode          string
	CancelReason         *int64
	UserCancellationTime *time.Time
}

// IsExpired reports whether the purchase has an expiry at or before now.
func (p *Purchase) IsExpired(now time.Time) bool {
	return p.ExpiryDate != nil && !p.ExpiryDate.After(now)
}

// Price returns the Google Play price as a decimal amount in
// PriceCurrencyCode.
func (p *Purchase) Price() decimal.Decimal {
	return decimal.New(p.PriceAmountMicros, -6)
}

// TimeFromMillis converts a millisecond epoch timestamp into a UTC time.
func TimeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ReceiptHash returns a stable identifier for an opaque receipt value.
func ReceiptHash(value []byte) string {
	hasher := sha256.New()
	hasher.Write(value)
	return hex.EncodeToString(hasher.Sum(nil))
}
