// Package omisepay charges through the Omise API.
package omisepay

import (
	"context"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/payment"
)

type gateway struct {
	// mockable
	createToken  func(op *operations.CreateToken) (*omise.Token, error)
	createCharge func(op *operations.CreateCharge) (*omise.Charge, error)
}

var _ payment.Gateway = (*gateway)(nil)

func NewGateway(conf *core.Config) (payment.Gateway, error) {
	client, err := omise.NewClient(conf.Payment.OmisePublicKey, conf.Payment.OmiseSecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "creating omise client")
	}
	if conf.Payment.OmiseAPIVersion != "" {
		client.APIVersion = conf.Payment.OmiseAPIVersion
	}
	client.SetDebug(conf.Debug && !conf.TestMode)

	return &gateway{
		createToken: func(op *operations.CreateToken) (*omise.Token, error) {
			tok := &omise.Token{}
			return tok, client.Do(tok, op)
		},
		createCharge: func(op *operations.CreateCharge) (*omise.Charge, error) {
			ch := &omise.Charge{}
			return ch, client.Do(ch, op)
		},
	}, nil
}

func (gw *gateway) Name() string { return "omise" }

// Charge runs the API calls in the background so the deadline of ctx is honored.
func (gw *gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	type outcome struct {
		res payment.ChargeResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := gw.charge(req)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return payment.ChargeResult{}, ctx.Err()
	case o := <-done:
		return o.res, o.err
	}
}

func (gw *gateway) charge(req payment.ChargeRequest) (payment.ChargeResult, error) {
	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    map[string]interface{}{"payment_id": req.PaymentID},
	}

	switch req.Method {
	case payment.MethodCard:
		op.Card = req.Details.CardToken
		if op.Card == "" {
			tok, err := gw.createToken(&operations.CreateToken{
				Name:            req.Details.HolderName,
				Number:          req.Details.CardNumber,
				ExpirationMonth: time.Month(req.Details.ExpiryMonth),
				ExpirationYear:  req.Details.ExpiryYear,
				SecurityCode:    req.Details.CVV,
			})
			if err != nil {
				if oerr, ok := err.(*omise.ErrorResponse); ok {
					return payment.ChargeResult{FailureCode: oerr.Code, FailureMessage: oerr.Message, Instrument: payment.Mask(req.Details)}, nil
				}
				return payment.ChargeResult{}, errors.Wrap(err, "tokenizing card")
			}
			op.Card = tok.ID
		}
	default:
		op.Source = req.Details.SourceID
	}

	ch, err := gw.createCharge(op)
	if err != nil {
		if oerr, ok := err.(*omise.ErrorResponse); ok {
			return payment.ChargeResult{FailureCode: oerr.Code, FailureMessage: oerr.Message, Instrument: payment.Mask(req.Details)}, nil
		}
		return payment.ChargeResult{}, errors.Wrap(err, "creating charge")
	}
	return chargeResult(ch, req.Details), nil
}

func chargeResult(ch *omise.Charge, d payment.Details) payment.ChargeResult {
	res := payment.ChargeResult{Instrument: payment.Mask(d)}
	if ch.Card != nil {
		res.Instrument.Last4 = ch.Card.LastDigits
		if ch.Card.Name != "" {
			res.Instrument.HolderName = ch.Card.Name
		}
	}
	if ch.Status == omise.ChargeSuccessful {
		res.Success = true
		res.TransactionRef = ch.ID
		return res
	}

	res.FailureCode = string(ch.Status)
	if ch.FailureCode != nil {
		res.FailureCode = *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		res.FailureMessage = *ch.FailureMessage
	}
	return res
}
