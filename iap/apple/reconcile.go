package apple

import (
	"time"

	"github.com/code-payments/iap-validator/iap"
)

type reconcileOptions struct {
	excludeExpired bool
	now            time.Time
	environment    iap.Environment
}

type seenTransaction struct {
	purchaseDateMs int64
	index          int
}

// reconcile collapses the transaction history of a verified receipt into one
// purchase per original transaction id.
//
// When an id repeats, the entry with the larger purchase_date_ms replaces the
// earlier one at its first-seen position. Expired entries are skipped before
// that comparison when excludeExpired is set.
func reconcile(resp *verifyResponse, opts reconcileOptions) []*iap.Purchase {
	autoRenewing := make(map[string]bool)
	for _, info := range resp.PendingRenewalInfo {
		if info != nil && info.AutoRenewStatus.Valid && info.AutoRenewStatus.Value == 1 {
			autoRenewing[info.OriginalTransactionID] = true
		}
	}

	var bundleID string
	if resp.Receipt != nil {
		bundleID = resp.Receipt.BundleID
	}

	seen := make(map[string]seenTransaction)
	purchases := make([]*iap.Purchase, 0)

	for _, txn := range resp.transactions() {
		if txn == nil {
			continue
		}

		key := txn.OriginalTransactionID
		if key == "" {
			key = txn.TransactionID
		}

		expiry := txn.expiry()
		if opts.excludeExpired && expiry != nil && !expiry.After(opts.now) {
			continue
		}

		purchase := txn.toPurchase(expiry)
		purchase.Environment = opts.environment
		if purchase.PackageName == "" {
			purchase.PackageName = bundleID
		}
		if autoRenewing[key] {
			purchase.AutoRenewing = true
		}
		if resp.LatestReceipt != "" {
			purchase.OrderData = resp.LatestReceipt
		}

		prev, ok := seen[key]
		if !ok {
			seen[key] = seenTransaction{purchaseDateMs: txn.PurchaseDateMs.Value, index: len(purchases)}
			purchases = append(purchases, purchase)
			continue
		}

		if txn.PurchaseDateMs.Value > prev.purchaseDateMs {
			seen[key] = seenTransaction{purchaseDateMs: txn.PurchaseDateMs.Value, index: prev.index}
			purchases[prev.index] = purchase
		}
	}

	return purchases
}

func (t *transaction) expiry() *time.Time {
	if t.ExpiresDateMs.Valid {
		expiry := iap.TimeFromMillis(t.ExpiresDateMs.Value)
		return &expiry
	}
	if ms, ok := t.ExpiresDate.millis(); ok {
		expiry := iap.TimeFromMillis(ms)
		return &expiry
	}
	return nil
}

func (t *transaction) cancellation() *time.Time {
	if t.CancellationDateMs.Valid {
		cancelled := iap.TimeFromMillis(t.CancellationDateMs.Value)
		return &cancelled
	}
	if ms, ok := t.CancellationDate.millis(); ok {
		cancelled := iap.TimeFromMillis(ms)
		return &cancelled
	}
	return nil
}

func (t *transaction) toPurchase(expiry *time.Time) *iap.Purchase {
	return &iap.Purchase{
		TransactionID:         t.TransactionID,
		OriginalTransactionID: t.OriginalTransactionID,
		SKU:                   t.ProductID,
		PackageName:           t.PackageName,
		StoreCode:             iap.StoreCodeITunes,
		PurchaseDate:          iap.TimeFromMillis(t.PurchaseDateMs.Value),
		ExpiryDate:            expiry,
		CancellationDate:      t.cancellation(),
		Quantity:              int(t.Quantity.Value),
		AutoRenewing:          t.AutoRenewStatus.Valid && t.AutoRenewStatus.Value == 1,
	}
}
