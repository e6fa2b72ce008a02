package iap

import "context"

type Validator interface {

	// Validate checks a receipt against the storefront that issued it and
	// returns the purchases it proves. isSubscription selects subscription
	// rather than one-time product semantics where the storefront
	// distinguishes them.
	//
	// Errors are always *ValidationError values.
	Validate(ctx context.Context, receipt *Receipt, isSubscription bool) ([]*Purchase, error)
}
