package payment

import (
	"context"
	"fmt"
	"math"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/campusevents/registration-service/internal/domain"
)

// Midtrans implements the payment provider port against the Midtrans gateway.
// Snap issues checkout tokens, CoreAPI answers status checks and refunds.
type Midtrans struct {
	snap snap.Client
	core coreapi.Client
}

func NewMidtrans(serverKey string, production bool) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	m := &Midtrans{}
	m.snap.New(serverKey, env)
	m.core.New(serverKey, env)
	return m
}

func (m *Midtrans) Initiate(_ context.Context, req domain.PaymentRequest) (*domain.PaymentIntent, error) {
	if req.Amount <= 0 {
		return nil, domain.Validationf("payment amount must be positive")
	}
	if req.OrderRef == "" {
		return nil, domain.Validationf("order reference is required")
	}

	gross := int64(math.Round(req.Amount))
	sreq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderRef,
			GrossAmt: gross,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:       req.OrderRef,
				Price:    gross,
				Qty:      1,
				Name:     truncate(req.EventTitle, 50),
				Category: "event-registration",
			},
		},
	}
	if req.StudentName != "" {
		sreq.CustomerDetail = &midtrans.CustomerDetails{FName: truncate(req.StudentName, 50)}
	}

	resp, err := m.snap.CreateTransaction(sreq)
	if err != nil {
		return nil, fmt.Errorf("midtrans snap: %w", err)
	}
	return &domain.PaymentIntent{
		OrderRef:    req.OrderRef,
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
		Amount:      req.Amount,
	}, nil
}

func (m *Midtrans) Verify(_ context.Context, orderRef string) (domain.PaymentState, error) {
	resp, err := m.core.CheckTransaction(orderRef)
	if err != nil {
		return "", fmt.Errorf("midtrans status: %w", err)
	}

	switch resp.TransactionStatus {
	case "capture":
		// card payments settle through fraud review first
		switch resp.FraudStatus {
		case "accept":
			return domain.PaymentStateCompleted, nil
		case "challenge":
			return domain.PaymentStatePending, nil
		default:
			return domain.PaymentStateFailed, nil
		}
	case "settlement":
		return domain.PaymentStateCompleted, nil
	case "pending":
		return domain.PaymentStatePending, nil
	case "deny", "cancel", "expire":
		return domain.PaymentStateFailed, nil
	default:
		return domain.PaymentStateFailed, nil
	}
}

func (m *Midtrans) Refund(_ context.Context, orderRef string, amount float64, reason string) error {
	req := &coreapi.RefundReq{
		Amount: int64(math.Round(amount)),
		Reason: reason,
	}
	if _, err := m.core.RefundTransaction(orderRef, req); err != nil {
		return fmt.Errorf("midtrans refund: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
