package payflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagsRoundTripThroughNames(t *testing.T) {
	f := FlagMerchantInitiated | FlagSaveToPlatform
	require.True(t, f.Has(FlagMerchantInitiated))
	require.False(t, f.Has(FlagSaveToStore))
	require.False(t, f.Has(0))
	require.Equal(t, []string{"merchant_initiated", "save_to_platform"}, f.Names())
	require.Equal(t, f, ParseFlags(f.Names()))
	require.Equal(t, "none", Flags(0).String())
	require.Equal(t, FlagRecurring, ParseFlags([]string{" Recurring ", "bogus"}))
}

func TestMarkMethodNotReusableClearsOnlySaveFlags(t *testing.T) {
	p := &Payment{state: newInitialState()}
	require.NoError(t, p.SetFlags(FlagSaveToStore|FlagSaveToPlatform|FlagRecurring))
	p.verified = true
	require.ErrorIs(t, p.UnsetFlags(FlagRecurring), ErrFlagsLocked)

	p.MarkMethodNotReusable()
	require.Equal(t, FlagRecurring, p.Flags())
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0.50 USD", FormatAmount(50, "usd"))
	require.Equal(t, "12.05 EUR", FormatAmount(1205, "EUR"))
	require.Equal(t, "50 JPY", FormatAmount(50, "jpy"))
}

func TestMethodTitle(t *testing.T) {
	require.Equal(t, "Credit / Debit Card", MethodTitle(MethodDetails{}))
	require.Equal(t, "SEPA Direct Debit", MethodTitle(MethodDetails{Type: "sepa_debit"}))
	require.Equal(t, "Google Pay", MethodTitle(MethodDetails{Type: "card", Wallet: "google_pay"}))
	require.Equal(t, "Credit / Debit Card", MethodTitle(MethodDetails{Type: "unknown"}))
	require.False(t, reusableMethod(MethodDetails{Type: "ideal"}))
	require.True(t, reusableMethod(MethodDetails{Type: "card"}))
}

func TestDefaultStrategySelection(t *testing.T) {
	saved := SavedMethod{Token: SavedToken{GatewayID: "pm_saved"}}
	cases := []struct {
		name string
		p    *Payment
		want string
	}{
		{"standard", &Payment{method: NewMethod{PaymentMethodID: "pm"}, meta: Metadata{Amount: 100}}, "standard"},
		{"zero total", &Payment{method: NewMethod{PaymentMethodID: "pm"}}, "setup"},
		{"renewal", &Payment{method: saved, flags: FlagMerchantInitiated, meta: Metadata{Amount: 100}}, "subscription_renewal"},
		{"saved shopper card", &Payment{method: saved, meta: Metadata{Amount: 100}}, "standard"},
		{"pre-checkout intent", &Payment{preCheckout: true, intentID: "pi_1", meta: Metadata{Amount: 100}}, "upe_update_intent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DefaultStrategy(tc.p).Name())
		})
	}
}

func TestAuthenticationRedirect(t *testing.T) {
	require.Equal(t, "https://bank.test", authenticationRedirect("o1", Intent{NextAction: &NextAction{RedirectURL: "https://bank.test"}}))
	require.Equal(t, "#confirm-si:o1:sec", authenticationRedirect("o1", Intent{ID: "seti_1", ClientSecret: "sec"}))
	require.Equal(t, "https://x.test/r?a=1&notice=previous-order-paid", withNotice("https://x.test/r?a=1", NoticePreviousOrderPaid))
	require.Equal(t, "https://x.test/r", withNotice("https://x.test/r", NoticeNone))
}

func TestLevel3TruncatesFields(t *testing.T) {
	l3 := level3(Order{ID: "o1", ShippingTotal: 500, Items: []OrderItem{{
		ProductID: "product-identifier-long",
		Name:      "A very long product description here",
		Quantity:  2,
	}}})
	require.NotNil(t, l3)
	require.Equal(t, "product-iden", l3.LineItems[0].ProductCode)
	require.Len(t, l3.LineItems[0].Description, 26)
	require.Nil(t, level3(Order{}))
}
