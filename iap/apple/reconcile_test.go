package apple

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-validator/iap"
)

func mustDecode(t *testing.T, body string) *verifyResponse {
	resp, err := decodeVerifyResponse([]byte(body))
	require.NoError(t, err)
	return resp
}

func TestReconcile_LatestPurchaseWinsAtFirstPosition(t *testing.T) {
	resp := mustDecode(t, `{"status":0,"receipt":{
		"in_app":[
			{"transaction_id":"A1","original_transaction_id":"A","product_id":"monthly","purchase_date_ms":"1000"},
			{"transaction_id":"B1","original_transaction_id":"B","product_id":"coins","purchase_date_ms":"1500","quantity":"3"}
		],
		"latest_receipt_info":[
			{"transaction_id":"A3","original_transaction_id":"A","product_id":"monthly","purchase_date_ms":"3000"},
			{"transaction_id":"A2","original_transaction_id":"A","product_id":"monthly","purchase_date_ms":"2000"}
		]
	}}`)

	purchases := reconcile(resp, reconcileOptions{now: time.Now()})
	require.Len(t, purchases, 2)

	require.Equal(t, "A3", purchases[0].TransactionID)
	require.Equal(t, "A", purchases[0].OriginalTransactionID)
	require.Equal(t, iap.TimeFromMillis(3000), purchases[0].PurchaseDate)

	require.Equal(t, "B1", purchases[1].TransactionID)
	require.Equal(t, 3, purchases[1].Quantity)
}

func TestReconcile_OnePurchasePerOriginalTransaction(t *testing.T) {
	resp := mustDecode(t, `{"status":0,"receipt":{"in_app":[
		{"transaction_id":"1","original_transaction_id":"X","purchase_date_ms":"500"},
		{"transaction_id":"2","original_transaction_id":"Y","purchase_date_ms":"100"},
		{"transaction_id":"3","original_transaction_id":"X","purchase_date_ms":"900"},
		{"transaction_id":"4","original_transaction_id":"Y","purchase_date_ms":"50"},
		{"transaction_id":"5","original_transaction_id":"X","purchase_date_ms":"700"}
	]}}`)

	purchases := reconcile(resp, reconcileOptions{now: time.Now()})
	require.Len(t, purchases, 2)
	require.Equal(t, "3", purchases[0].TransactionID)
	require.Equal(t, "2", purchases[1].TransactionID)
}

func TestReconcile_ExcludeExpired(t *testing.T) {
	now := iap.TimeFromMillis(10_000)
	resp := mustDecode(t, `{"status":0,"receipt":{"in_app":[
		{"transaction_id":"old","original_transaction_id":"S","purchase_date_ms":"1000","expires_date_ms":"20000"},
		{"transaction_id":"new","original_transaction_id":"S","purchase_date_ms":"2000","expires_date_ms":"10000"},
		{"transaction_id":"gone","original_transaction_id":"G","purchase_date_ms":"3000","expires_date_ms":"4000"},
		{"transaction_id":"forever","original_transaction_id":"F","purchase_date_ms":"3000"}
	]}}`)

	t.Run("Disabled", func(t *testing.T) {
		purchases := reconcile(resp, reconcileOptions{now: now})
		require.Len(t, purchases, 3)
		require.Equal(t, "new", purchases[0].TransactionID)
		require.True(t, purchases[0].IsExpired(now))
	})

	t.Run("Enabled", func(t *testing.T) {
		purchases := reconcile(resp, reconcileOptions{now: now, excludeExpired: true})
		require.Len(t, purchases, 2)

		// The newer entry expires exactly at now, so the older one survives.
		require.Equal(t, "old", purchases[0].TransactionID)
		require.Equal(t, iap.TimeFromMillis(20_000), *purchases[0].ExpiryDate)
		require.Equal(t, "forever", purchases[1].TransactionID)
		require.Nil(t, purchases[1].ExpiryDate)
	})
}

func TestReconcile_ExpiryFallbacks(t *testing.T) {
	resp := mustDecode(t, `{"status":0,"receipt":{"in_app":[
		{"transaction_id":"ms","original_transaction_id":"1","purchase_date_ms":"1","expires_date":"86400000"},
		{"transaction_id":"date","original_transaction_id":"2","purchase_date_ms":"1","expires_date":"2020-01-02 03:04:05 Etc/GMT"},
		{"transaction_id":"number","original_transaction_id":"3","purchase_date_ms":1,"expires_date_ms":5000,"quantity":2}
	]}}`)

	purchases := reconcile(resp, reconcileOptions{now: time.Now()})
	require.Len(t, purchases, 3)

	require.Equal(t, iap.TimeFromMillis(86_400_000), *purchases[0].ExpiryDate)
	require.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), *purchases[1].ExpiryDate)
	require.Equal(t, iap.TimeFromMillis(5000), *purchases[2].ExpiryDate)
	require.Equal(t, 2, purchases[2].Quantity)
}

func TestReconcile_LatestReceiptAndRenewalInfo(t *testing.T) {
	resp := mustDecode(t, `{"status":0,"latest_receipt":"bGF0ZXN0",
		"pending_renewal_info":[{"original_transaction_id":"S","auto_renew_status":"1"}],
		"receipt":{"bundle_id":"com.example.app","in_app":[
			{"transaction_id":"S1","original_transaction_id":"S","product_id":"monthly","purchase_date_ms":"1000","cancellation_date_ms":"1500"},
			{"transaction_id":"P1","original_transaction_id":"P","product_id":"lifetime","purchase_date_ms":"1000","package_name":"com.example.other"}
		]}}`)

	purchases := reconcile(resp, reconcileOptions{now: time.Now(), environment: iap.EnvironmentProduction})
	require.Len(t, purchases, 2)

	for _, purchase := range purchases {
		require.Equal(t, "bGF0ZXN0", purchase.OrderData)
		require.Equal(t, iap.EnvironmentProduction, purchase.Environment)
	}

	require.True(t, purchases[0].AutoRenewing)
	require.Equal(t, "com.example.app", purchases[0].PackageName)
	require.Equal(t, iap.TimeFromMillis(1500), *purchases[0].CancellationDate)

	require.False(t, purchases[1].AutoRenewing)
	require.Equal(t, "com.example.other", purchases[1].PackageName)
}

func TestReconcile_EmptyReceipt(t *testing.T) {
	require.Empty(t, reconcile(mustDecode(t, `{"status":0}`), reconcileOptions{now: time.Now()}))
	require.Empty(t, reconcile(mustDecode(t, `{"status":0,"receipt":{"in_app":[]}}`), reconcileOptions{now: time.Now()}))
}

func TestDecodeVerifyResponse_Malformed(t *testing.T) {
	for _, body := range []string{
		``,
		`not json`,
		`{"receipt":{}}`,
		`{"status":0,"receipt":{"in_app":[{"purchase_date_ms":"yesterday"}]}}`,
	} {
		_, err := decodeVerifyResponse([]byte(body))
		require.Error(t, err, body)
	}
}
