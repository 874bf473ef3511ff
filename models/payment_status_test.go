package models_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

func TestPaymentStatusForTiers(t *testing.T) {
	days := func(v string) *decimal.Decimal {
		d, _ := decimal.NewFromString(v)
		return &d
	}
	cases := []struct {
		name string
		in   *decimal.Decimal
		want string
	}{
		{"no paid invoices", nil, models.PaymentStatusAverage},
		{"fast payer", days("14.9"), models.PaymentStatusFastPayer},
		{"boundary 15 is average", days("15"), models.PaymentStatusAverage},
		{"average", days("30"), models.PaymentStatusAverage},
		{"boundary 45 is average", days("45"), models.PaymentStatusAverage},
		{"slow payer", days("45.1"), models.PaymentStatusSlowPayer},
	}
	for _, c := range cases {
		if got := models.PaymentStatusFor(c.in); got != c.want {
			t.Errorf("%s: PaymentStatusFor = %q, want %q", c.name, got, c.want)
		}
	}
}
