package payment

import (
	"context"
	"fmt"
	"math"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

// OmiseProvider implements the payment collaborator contract against Omise:
// a checkout session is a charge on a freshly created payment source, status
// polling retrieves the charge, refunds go through the refund API.
type OmiseProvider struct {
	client    *omise.Client
	returnURI string
}

func NewOmiseProvider(publicKey, secretKey, returnURI string) (*OmiseProvider, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return &OmiseProvider{client: client, returnURI: returnURI}, nil
}

func (p *OmiseProvider) CreateSession(ctx context.Context, amount float64, currency, reference string) (domain.PaymentSession, error) {
	source := &omise.Source{}
	err := p.client.Do(source, &operations.CreateSource{
		Type:     "promptpay",
		Amount:   toSubunits(amount),
		Currency: currency,
	})
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("create payment source: %w", err)
	}

	charge := &omise.Charge{}
	err = p.client.Do(charge, &operations.CreateCharge{
		Amount:    toSubunits(amount),
		Currency:  currency,
		Source:    source.ID,
		ReturnURI: p.returnURI,
		Metadata:  map[string]any{"booking_reference": reference},
	})
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("create charge: %w", err)
	}

	return domain.PaymentSession{
		PaymentID:   charge.ID,
		RedirectURL: charge.AuthorizeURI,
	}, nil
}

func (p *OmiseProvider) GetStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	charge := &omise.Charge{}
	if err := p.client.Do(charge, &operations.RetrieveCharge{ChargeID: paymentID}); err != nil {
		return "", fmt.Errorf("retrieve charge: %w", err)
	}

	switch string(charge.Status) {
	case "successful":
		return domain.PaymentStatusCaptured, nil
	case "pending", "awaiting_authorize":
		return domain.PaymentStatusPending, nil
	default:
		return domain.PaymentStatusFailed, nil
	}
}

func (p *OmiseProvider) Refund(ctx context.Context, paymentID string, amount float64, reason string) (string, error) {
	refund := &omise.Refund{}
	err := p.client.Do(refund, &operations.CreateRefund{
		ChargeID: paymentID,
		Amount:   toSubunits(amount),
		Metadata: map[string]any{"reason": reason},
	})
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return refund.ID, nil
}

// toSubunits converts a 2-decimal amount to the gateway's integer subunits.
func toSubunits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
