package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		d    Details
		want Instrument
	}{
		{name: "card", d: Details{CardNumber: "4242424242424242", CVV: "123", HolderName: " Jane Doe "}, want: Instrument{Last4: "4242", HolderName: "Jane Doe"}},
		{name: "spaced card", d: Details{CardNumber: "4111 1111 1114 0011"}, want: Instrument{Last4: "0011"}},
		{name: "bank reference", d: Details{BankReference: "KBANK-99812"}, want: Instrument{Last4: "9812"}},
		{name: "token only", d: Details{CardToken: "tokn_test_5g5mep1n7l3zrpq1ts2"}, want: Instrument{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.d))
		})
	}
}

func TestCheckDetails(t *testing.T) {
	tests := []struct {
		name      string
		method    Method
		d         Details
		wantField string
	}{
		{name: "card number", method: MethodCard, d: Details{CardNumber: "4242424242424242"}},
		{name: "card token", method: MethodCard, d: Details{CardToken: "tokn_test"}},
		{name: "card missing", method: MethodCard, wantField: "card_number"},
		{name: "wallet", method: MethodWallet, d: Details{SourceID: "src_test"}},
		{name: "wallet missing", method: MethodWallet, wantField: "source_id"},
		{name: "bank", method: MethodBankTransfer, d: Details{BankReference: "ref-1"}},
		{name: "bank missing", method: MethodBankTransfer, wantField: "bank_reference"},
		{name: "coupon is not chargeable", method: MethodCoupon, wantField: "method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := CheckDetails(tt.method, tt.d)
			if tt.wantField == "" {
				assert.Nil(t, fe)
				return
			}
			if assert.NotNil(t, fe) {
				assert.Equal(t, tt.wantField, fe.Field)
			}
		})
	}
}
