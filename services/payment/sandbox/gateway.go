// Package sandboxpay is a deterministic payment gateway for development and tests.
package sandboxpay

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/payment"
)

var NowFunc = time.Now // mockable

type decline struct {
	code    string
	message string
}

// declinedCards are the failure test cards published by Omise.
var declinedCards = map[string]decline{
	"4111111111140011": {"insufficient_fund", "insufficient funds in the account or the card has reached the credit limit"},
	"4111111111130012": {"stolen_or_lost_card", "card was stolen or lost"},
	"4111111111120013": {"failed_processing", "the payment could not be processed"},
	"4111111111110014": {"payment_rejected", "the payment was rejected by the issuer"},
	"4111111111190016": {"failed_fraud_check", "card was marked as fraudulent"},
	"4111111111180017": {"invalid_account_number", "the account number is not valid"},
}

// DeclinedToken is a card token the sandbox always declines.
const DeclinedToken = "tokn_test_declined"

type gateway struct {
	latency time.Duration
}

var _ payment.Gateway = (*gateway)(nil)

func NewGateway(conf *core.Config) payment.Gateway {
	return &gateway{latency: conf.Payment.SandboxLatency}
}

func (gw *gateway) Name() string { return "sandbox" }

func (gw *gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if gw.latency > 0 {
		timer := time.NewTimer(gw.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return payment.ChargeResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	res := payment.ChargeResult{Instrument: payment.Mask(req.Details)}
	if d, ok := gw.declined(req); ok {
		res.FailureCode, res.FailureMessage = d.code, d.message
		return res, nil
	}
	res.Success = true
	res.TransactionRef = "chrg_sandbox_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	return res, nil
}

func (gw *gateway) declined(req payment.ChargeRequest) (decline, bool) {
	if req.Method != payment.MethodCard {
		return decline{}, false
	}
	d := req.Details
	if d.CardToken == DeclinedToken {
		return decline{"payment_rejected", "the payment was rejected by the issuer"}, true
	}
	if d.CardNumber == "" {
		return decline{}, false
	}
	number := strings.ReplaceAll(d.CardNumber, " ", "")
	if dc, ok := declinedCards[number]; ok {
		return dc, true
	}
	now := NowFunc().UTC()
	if d.ExpiryYear < now.Year() || (d.ExpiryYear == now.Year() && d.ExpiryMonth < int(now.Month())) {
		return decline{"invalid_expiration_date", "the card has expired"}, true
	}
	return decline{}, false
}
