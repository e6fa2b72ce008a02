package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-validator/iap"
)

// ValidReceipt returns a receipt the validator under test accepts.
type ValidReceipt func(sku string) *iap.Receipt

func RunGenericValidatorTests(t *testing.T, v iap.Validator, store iap.StoreCode, validReceiptFunc ValidReceipt, teardown func()) {
	for _, testFunc := range []func(t *testing.T, v iap.Validator, store iap.StoreCode, validReceiptFunc ValidReceipt){
		testValidReceipt,
		testInvalidReceipt,
		testMissingReceipt,
	} {
		testFunc(t, v, store, validReceiptFunc)
		teardown()
	}
}

func testValidReceipt(t *testing.T, v iap.Validator, store iap.StoreCode, validReceiptFunc ValidReceipt) {
	t.Run("ValidReceipt", func(t *testing.T) {
		purchases, err := v.Validate(context.Background(), validReceiptFunc("paid_feature"), false)
		require.NoError(t, err)
		require.NotEmpty(t, purchases)

		seen := make(map[string]struct{})
		for _, purchase := range purchases {
			require.NotEmpty(t, purchase.TransactionID)
			require.Equal(t, store, purchase.StoreCode)

			key := purchase.OriginalTransactionID
			if key == "" {
				key = purchase.TransactionID
			}
			_, dup := seen[key]
			require.False(t, dup, "duplicate purchase for %s", key)
			seen[key] = struct{}{}
		}
	})
}

func testInvalidReceipt(t *testing.T, v iap.Validator, store iap.StoreCode, _ ValidReceipt) {
	t.Run("InvalidReceipt", func(t *testing.T) {
		// Just use the word "invalid" as an invalid receipt.
		purchases, err := v.Validate(context.Background(), &iap.Receipt{StoreCode: store, OrderData: "invalid"}, false)
		require.Error(t, err)
		require.Empty(t, purchases)
		require.NotEqual(t, iap.KindUnknown, iap.KindOf(err))
	})
}

func testMissingReceipt(t *testing.T, v iap.Validator, store iap.StoreCode, _ ValidReceipt) {
	t.Run("MissingReceipt", func(t *testing.T) {
		_, err := v.Validate(context.Background(), &iap.Receipt{StoreCode: store}, false)
		require.True(t, iap.IsKind(err, iap.KindInput), "expected input error, got %v", err)
	})
}
