package apple

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

type verifyRequest struct {
	ReceiptData string `json:"receipt-data"`
	Password    string `json:"password,omitempty"`
}

type verifyResponse struct {
	Status             *int                  `json:"status"`
	Receipt            *receiptBody          `json:"receipt"`
	LatestReceipt      string                `json:"latest_receipt"`
	LatestReceiptInfo  []*transaction        `json:"latest_receipt_info"`
	PendingRenewalInfo []*pendingRenewalInfo `json:"pending_renewal_info"`
}

type receiptBody struct {
	BundleID          string         `json:"bundle_id"`
	InApp             []*transaction `json:"in_app"`
	LatestReceiptInfo []*transaction `json:"latest_receipt_info"`
}

type transaction struct {
	TransactionID         string   `json:"transaction_id"`
	OriginalTransactionID string   `json:"original_transaction_id"`
	ProductID             string   `json:"product_id"`
	PackageName           string   `json:"package_name"`
	Quantity              flexInt  `json:"quantity"`
	PurchaseDateMs        flexInt  `json:"purchase_date_ms"`
	ExpiresDateMs         flexInt  `json:"expires_date_ms"`
	ExpiresDate           flexText `json:"expires_date"`
	CancellationDateMs    flexInt  `json:"cancellation_date_ms"`
	CancellationDate      flexText `json:"cancellation_date"`
	AutoRenewStatus       flexInt  `json:"auto_renew_status"`
}

type pendingRenewalInfo struct {
	OriginalTransactionID string  `json:"original_transaction_id"`
	AutoRenewStatus       flexInt `json:"auto_renew_status"`
}

func decodeVerifyResponse(body []byte) (*verifyResponse, error) {
	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode verifyReceipt response")
	}
	if resp.Status == nil {
		return nil, errors.New("verifyReceipt response has no status")
	}
	return &resp, nil
}

// transactions returns in_app followed by latest_receipt_info. The App Store
// reports the current state of subscriptions in latest_receipt_info, either at
// the top level of the response or inside the receipt.
func (r *verifyResponse) transactions() []*transaction {
	var all []*transaction
	if r.Receipt != nil {
		all = append(all, r.Receipt.InApp...)
		all = append(all, r.Receipt.LatestReceiptInfo...)
	}
	all = append(all, r.LatestReceiptInfo...)
	return all
}

// flexInt is an integer the App Store encodes either as a JSON number or as
// a quoted decimal string.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	if text == "" || text == "null" {
		*f = flexInt{}
		return nil
	}

	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid integer %s", data)
	}

	*f = flexInt{Value: value, Valid: true}
	return nil
}

// flexText keeps the textual form of a string or number value.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexText(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrapf(err, "invalid value %s", data)
	}
	*f = flexText(n.String())
	return nil
}

const appleDateLayout = "2006-01-02 15:04:05 Etc/GMT"

// millis interprets the value as a millisecond timestamp, falling back to
// the App Store's GMT date format.
func (f flexText) millis() (int64, bool) {
	text := strings.TrimSpace(string(f))
	if text == "" {
		return 0, false
	}

	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return ms, true
	}

	if t, err := time.Parse(appleDateLayout, text); err == nil {
		return t.UnixMilli(), true
	}

	return 0, false
}
