package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/payment"
)

func card(number string) payment.CardDetails {
	return payment.CardDetails{Number: number, ExpMonth: 12, ExpYear: 2030, CVC: "123"}
}

func TestSandboxSucceeds(t *testing.T) {
	sbx := payment.NewSandbox()
	ctx := context.Background()

	intent, err := sbx.CreateIntent(ctx, money.MustParse("12.50"))
	require.NoError(t, err)
	id, ok := payment.IntentIDFromSecret(intent.ClientSecret)
	require.True(t, ok)
	require.Equal(t, intent.ID, id)

	conf, err := sbx.ConfirmCardPayment(ctx, intent.ClientSecret, card("4242424242424242"), "Rae")
	require.NoError(t, err)
	require.True(t, conf.Succeeded())
	require.NotEmpty(t, conf.Reference)

	again, err := sbx.ConfirmCardPayment(ctx, intent.ClientSecret, card("4242424242424242"), "Rae")
	require.NoError(t, err)
	require.False(t, again.Succeeded())
}

func TestSandboxScriptedOutcomes(t *testing.T) {
	sbx := payment.NewSandbox()
	ctx := context.Background()

	intent, err := sbx.CreateIntent(ctx, money.MustParse("5"))
	require.NoError(t, err)
	conf, err := sbx.ConfirmCardPayment(ctx, intent.ClientSecret, card("4000000000000000"), "")
	require.NoError(t, err)
	require.False(t, conf.Succeeded())
	require.Equal(t, "Your card was declined.", conf.Message())

	intent, err = sbx.CreateIntent(ctx, money.MustParse("5"))
	require.NoError(t, err)
	_, err = sbx.ConfirmCardPayment(ctx, intent.ClientSecret, card("4000000000000119"), "")
	require.ErrorIs(t, err, payment.ErrSandboxTransport)

	conf, err = sbx.ConfirmCardPayment(ctx, intent.ClientSecret, card("42"), "")
	require.NoError(t, err)
	require.False(t, conf.Succeeded())
}

func TestSandboxRejectsBadInput(t *testing.T) {
	sbx := payment.NewSandbox()
	ctx := context.Background()

	_, err := sbx.CreateIntent(ctx, money.Zero)
	require.ErrorIs(t, err, payment.ErrInvalidAmount)

	_, err = sbx.ConfirmCardPayment(ctx, "pi_missing_secret_x", card("4242424242424242"), "")
	require.ErrorIs(t, err, payment.ErrUnknownIntent)
}

func TestSandboxCancel(t *testing.T) {
	sbx := payment.NewSandbox()
	ctx := context.Background()

	intent, err := sbx.CreateIntent(ctx, money.MustParse("3"))
	require.NoError(t, err)
	require.NoError(t, sbx.CancelIntent(ctx, intent.ID))
	status, ok := sbx.Status(intent.ID)
	require.True(t, ok)
	require.Equal(t, "canceled", status)

	conf, err := sbx.ConfirmCardPayment(ctx, intent.ClientSecret, card("4242424242424242"), "")
	require.NoError(t, err)
	require.False(t, conf.Succeeded())

	require.ErrorIs(t, sbx.CancelIntent(ctx, "pi_nope"), payment.ErrUnknownIntent)
}

func TestConfirmationOnlyExplicitSuccess(t *testing.T) {
	for _, status := range []string{"", "SUCCEEDED", "success", "processing", "failed"} {
		require.False(t, payment.Confirmation{Status: status}.Succeeded(), status)
	}
	require.True(t, payment.Confirmation{Status: "succeeded"}.Succeeded())
}

func TestCardDetailsMasking(t *testing.T) {
	c := card("4242424242421234")
	require.Equal(t, "1234", c.Last4())
	require.Equal(t, "card ending 1234", c.String())
	require.NoError(t, c.Validate())
	require.ErrorIs(t, payment.CardDetails{Number: "abcd"}.Validate(), payment.ErrInvalidCard)
}
