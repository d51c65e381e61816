package payment

import (
	"context"
	"errors"

	"github.com/campusevents/registration-service/internal/domain"
)

// Noop is the provider for deployments without payments. Paid flows fail
// closed: nothing can be initiated and no reference ever verifies as
// completed; free and waived registrations are unaffected.
type Noop struct{}

func (Noop) Initiate(context.Context, domain.PaymentRequest) (*domain.PaymentIntent, error) {
	return nil, errors.New("payment provider not configured")
}

func (Noop) Verify(context.Context, string) (domain.PaymentState, error) {
	return domain.PaymentStateFailed, nil
}

func (Noop) Refund(context.Context, string, float64, string) error {
	return nil
}
