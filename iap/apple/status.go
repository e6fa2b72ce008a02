package apple

const (
	StatusOK = 0

	StatusValidNoPurchase         = 2
	StatusUnreadableJSON          = 21000
	StatusMalformedReceipt        = 21002
	StatusUnauthenticated         = 21003
	StatusSharedSecretMismatch    = 21004
	StatusServerUnavailable       = 21005
	StatusSubscriptionExpired     = 21006
	StatusSandboxReceiptOnProd    = 21007
	StatusProductionReceiptOnTest = 21008
)

var statusMessages = map[int]string{
	StatusUnreadableJSON:          "The App Store could not read the JSON object you provided.",
	StatusMalformedReceipt:        "The data in the receipt-data property was malformed.",
	StatusUnauthenticated:         "The receipt could not be authenticated.",
	StatusSharedSecretMismatch:    "The shared secret you provided does not match the shared secret on file for your account.",
	StatusServerUnavailable:       "The receipt server is not currently available.",
	StatusSubscriptionExpired:     "This receipt is valid but the subscription has expired. When this status code is returned to your server, the receipt data is also decoded and returned as part of the response.",
	StatusSandboxReceiptOnProd:    "This receipt is a sandbox receipt, but it was sent to the production service for verification.",
	StatusProductionReceiptOnTest: "This receipt is a production receipt, but it was sent to the sandbox service for verification.",
	StatusValidNoPurchase:         "The receipt is valid, but purchased nothing.",
}

// StatusMessage returns the App Store's description of a verifyReceipt
// status code, or "Unknown".
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return "Unknown"
}

// shouldRetryInSandbox reports whether a production status sends the receipt
// to the sandbox host. The production host reports some sandbox receipts as
// malformed (21002).
func shouldRetryInSandbox(status int) bool {
	return status == StatusSandboxReceiptOnProd || status == StatusMalformedReceipt
}
