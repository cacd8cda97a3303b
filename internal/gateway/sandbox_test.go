package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/gateway"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

func TestSandboxOutcomesByMethod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb := gateway.NewSandbox()

	ok, err := sb.CreateAndConfirmIntent(ctx, payflow.IntentRequest{Amount: 2500, Currency: "usd", PaymentMethodID: gateway.SandboxCardSucceeds})
	require.NoError(t, err)
	require.Equal(t, payflow.StatusSucceeded, ok.Status)
	require.Equal(t, "USD", ok.Currency)
	require.NotEmpty(t, ok.ChargeID)
	require.Equal(t, "4242", ok.Method.Last4)

	challenge, err := sb.CreateAndConfirmIntent(ctx, payflow.IntentRequest{Amount: 2500, Currency: "USD", PaymentMethodID: gateway.SandboxCard3DS, ReturnURL: "https://shop.test/return"})
	require.NoError(t, err)
	require.Equal(t, payflow.StatusRequiresAction, challenge.Status)
	require.NotNil(t, challenge.NextAction)
	require.Contains(t, challenge.NextAction.RedirectURL, challenge.ID)

	authed, err := sb.Authenticate(challenge.ID, true)
	require.NoError(t, err)
	require.Equal(t, payflow.StatusSucceeded, authed.Status)

	declined, err := sb.CreateAndConfirmIntent(ctx, payflow.IntentRequest{Amount: 2500, Currency: "USD", PaymentMethodID: gateway.SandboxCardDeclined})
	var remote *payflow.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "card_declined", remote.Code)
	require.Equal(t, declined.ID, remote.IntentID)

	stored, err := sb.GetIntent(ctx, declined.ID)
	require.NoError(t, err)
	require.Equal(t, payflow.StatusRequiresPaymentMethod, stored.Status)
}

func TestSandboxRejectsAmountBelowMinimum(t *testing.T) {
	t.Parallel()
	sb := gateway.NewSandbox()

	_, err := sb.CreateAndConfirmIntent(context.Background(), payflow.IntentRequest{Amount: 20, Currency: "usd", PaymentMethodID: gateway.SandboxCardSucceeds})
	remote, ok := payflow.AsAmountTooSmall(err)
	require.True(t, ok)
	require.EqualValues(t, 50, remote.MinimumAmount)
	require.Equal(t, "USD", remote.Currency)
}

func TestSandboxManualCaptureAndSetup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb := gateway.NewSandbox()

	held, err := sb.CreateAndConfirmIntent(ctx, payflow.IntentRequest{Amount: 900, Currency: "EUR", PaymentMethodID: gateway.SandboxCardSucceeds, CaptureMethod: payflow.CaptureManual})
	require.NoError(t, err)
	require.Equal(t, payflow.StatusRequiresCapture, held.Status)

	setup, err := sb.CreateAndConfirmSetupIntent(ctx, payflow.SetupIntentRequest{PaymentMethodID: gateway.SandboxCardSucceeds, Usage: "off_session"})
	require.NoError(t, err)
	require.True(t, setup.IsSetup())
	require.Equal(t, payflow.StatusSucceeded, setup.Status)

	fetched, err := payflow.FetchIntent(ctx, sb, setup.ID)
	require.NoError(t, err)
	require.Equal(t, setup.ID, fetched.ID)
}

func TestSandboxUpdateAndBrowserConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb := gateway.NewSandbox()

	in, err := sb.CreateIntent(ctx, payflow.IntentRequest{Amount: 1000, Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, payflow.StatusRequiresPaymentMethod, in.Status)

	updated, err := sb.UpdateIntent(ctx, in.ID, payflow.IntentUpdate{Amount: 1500, Currency: "usd", Metadata: map[string]string{"order_id": "42"}})
	require.NoError(t, err)
	require.EqualValues(t, 1500, updated.Amount)
	require.Equal(t, "42", updated.Metadata["order_id"])

	confirmed, err := sb.Confirm(ctx, in.ID, gateway.SandboxCardApplePay)
	require.NoError(t, err)
	require.Equal(t, payflow.StatusSucceeded, confirmed.Status)
	require.Equal(t, "apple_pay", confirmed.Method.Wallet)

	_, err = sb.UpdateIntent(ctx, in.ID, payflow.IntentUpdate{Amount: 2000, Currency: "USD"})
	require.Error(t, err)

	_, err = sb.GetIntent(ctx, "pi_missing")
	require.True(t, gateway.IsNotFound(err))
}

func TestSandboxCustomersAndMethods(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb := gateway.NewSandbox()

	cus, err := sb.CreateCustomer(ctx, gateway.CustomerParams{Name: "Ana Lee", Email: "ana@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, cus.ID)

	pm, err := sb.AttachMethod(ctx, gateway.SandboxCardSucceeds, cus.ID)
	require.NoError(t, err)
	require.Equal(t, cus.ID, pm.CustomerID)

	token := pm.Token("user-1")
	require.Equal(t, gateway.SandboxCardSucceeds, token.GatewayID)
	require.Equal(t, "visa", token.Brand)

	_, err = sb.UpdateCustomer(ctx, "cus_unknown", gateway.CustomerParams{})
	require.True(t, gateway.IsNotFound(err))
}
