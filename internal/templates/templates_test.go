package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/locale"
	"relaypoint/internal/types"
)

func TestRegistry_RendersOTPInTurkish(t *testing.T) {
	r := NewRegistry()

	out, err := r.Render(types.KindOTP, locale.Turkish, map[string]string{
		"userName": "Ayşe",
		"code":     "123456",
	})
	require.NoError(t, err)

	assert.Equal(t, "Doğrulama kodunuz", out.Subject)
	assert.Contains(t, out.BodyHTML, "Ayşe")
	assert.Contains(t, out.BodyHTML, "123456")
}

func TestRegistry_AllMailKindsCoveredInAllLanguages(t *testing.T) {
	r := NewRegistry()

	kinds := []types.NotificationKind{
		types.KindOTP, types.KindWelcome, types.KindPasswordReset,
		types.KindSubscriptionStarted, types.KindSubscriptionExpired,
		types.KindPaymentFailed, types.KindPlanChanged, types.KindTrialEnding,
	}

	for _, kind := range kinds {
		for _, lang := range locale.All() {
			out, err := r.Render(kind, lang, map[string]string{"userName": "A"})
			require.NoError(t, err, "kind %s lang %s", kind, lang)
			assert.NotEmpty(t, out.Subject, "kind %s lang %s", kind, lang)
			assert.NotEmpty(t, out.BodyHTML, "kind %s lang %s", kind, lang)
		}
	}
}

func TestRegistry_MissingUserNameDefaults(t *testing.T) {
	r := NewRegistry()

	out, err := r.Render(types.KindWelcome, locale.English, nil)
	require.NoError(t, err)
	assert.Contains(t, out.BodyHTML, "User")
}

func TestRegistry_UnknownKindErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Render(types.NotificationKind("bogus"), locale.English, nil)
	assert.Error(t, err)
}

func TestRegistry_SubscriptionStartedTrialVariant(t *testing.T) {
	r := NewRegistry()

	paid, err := r.Render(types.KindSubscriptionStarted, locale.English, map[string]string{
		"userName": "Sam", "planName": "Standard Monthly", "expiryDate": "1 October 2026",
	})
	require.NoError(t, err)

	trial, err := r.Render(types.KindSubscriptionStarted, locale.English, map[string]string{
		"userName": "Sam", "planName": "Standard Monthly", "expiryDate": "1 October 2026", "isTrial": "true",
	})
	require.NoError(t, err)

	assert.NotEqual(t, paid.BodyHTML, trial.BodyHTML)
	assert.Contains(t, trial.BodyHTML, "trial")
}

func TestLocalizedPush_FallbackChain(t *testing.T) {
	titles := map[string]string{"en": "Hello", "tr": "Merhaba"}
	bodies := map[string]string{"en": "Body"}

	c := LocalizedPush(titles, bodies, locale.Turkish)
	assert.Equal(t, "Merhaba", c.Title)
	assert.Equal(t, "Body", c.Body) // no tr body, falls back to en

	c = LocalizedPush(map[string]string{}, map[string]string{}, locale.Russian)
	assert.Equal(t, "RelayPoint", c.Title)
	assert.Empty(t, c.Body)
}

func TestDeviceLogout_LocalizedWithFallback(t *testing.T) {
	assert.Equal(t, "Yeni Cihaz Girişi", DeviceLogout(locale.Turkish).Title)
	assert.Equal(t, DeviceLogout(locale.English), DeviceLogout(locale.Language("xx")))
}

func TestPlanName(t *testing.T) {
	assert.Equal(t, "Standard Aylık", PlanName("relaypoint_standard_monthly", locale.Turkish))
	assert.Equal(t, "Standard Monthly", PlanName("relaypoint_standard_monthly:base", locale.English))
	assert.Equal(t, "some_unknown_product", PlanName("some_unknown_product", locale.English))
	assert.Equal(t, "RelayPoint", PlanName("", locale.English))
}

func TestTierFromProduct(t *testing.T) {
	assert.Equal(t, "standard", TierFromProduct("relaypoint_standard_yearly"))
	assert.Equal(t, "lite", TierFromProduct("relaypoint_lite_monthly"))
	assert.Equal(t, "free", TierFromProduct("whatever"))
}

func TestFormatDate(t *testing.T) {
	d := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "March 5, 2026", FormatDate(d, locale.English))
	assert.Equal(t, "5 Mart 2026", FormatDate(d, locale.Turkish))
	assert.Empty(t, FormatDate(time.Time{}, locale.English))
}
