package iap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher maps store codes to the Validator for that storefront.
type Dispatcher struct {
	log        *zap.Logger
	validators map[StoreCode]Validator
}

func NewDispatcher(
	log *zap.Logger,
	appleValidator Validator,
	googleValidator Validator,
) *Dispatcher {
	validators := make(map[StoreCode]Validator)
	if appleValidator != nil {
		validators[StoreCodeITunes] = appleValidator
	}
	if googleValidator != nil {
		validators[StoreCodePlay] = googleValidator
	}

	return &Dispatcher{
		log:        log,
		validators: validators,
	}
}

// ForStore returns the Validator for the store code, or nil if the store is
// not supported.
func (d *Dispatcher) ForStore(code StoreCode) Validator {
	return d.validators[code]
}

// Validate resolves the Validator for receipt.StoreCode and runs it.
func (d *Dispatcher) Validate(ctx context.Context, receipt *Receipt, isSubscription bool) ([]*Purchase, error) {
	if receipt == nil {
		return nil, NewInputError("receipt is required", nil)
	}

	validator := d.ForStore(receipt.StoreCode)
	if validator == nil {
		return nil, NewInputError(fmt.Sprintf("unsupported store code %q", receipt.StoreCode), nil)
	}

	log := d.log.With(
		zap.String("validation_id", uuid.NewString()),
		zap.String("store", string(receipt.StoreCode)),
		zap.String("transaction_id", receipt.TransactionID),
		zap.Bool("subscription", isSubscription),
	)

	log.Debug("Validating receipt")

	start := time.Now()
	purchases, err := validator.Validate(ctx, receipt, isSubscription)
	RecordValidation(receipt.StoreCode, err, time.Since(start))

	if err != nil {
		log.Warn("Receipt failed validation", zap.Error(err), zap.Stringer("kind", KindOf(err)))
		return nil, err
	}

	log.Debug("Receipt validated", zap.Int("purchases", len(purchases)))
	return purchases, nil
}
