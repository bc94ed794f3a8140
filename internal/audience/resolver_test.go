package audience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/locale"
	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

func newResolver() *Resolver { return NewResolver(nopLogger{}) }

func TestResolve_Individual(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{Audience: types.AudienceIndividual, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Empty(t, res.Channels)
}

func TestResolve_IndividualWithoutUserIDRejected(t *testing.T) {
	r := newResolver()

	_, err := r.Resolve(&types.AudienceTarget{Audience: types.AudienceIndividual})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInvalidAudience, appErr.Code)
}

func TestResolve_UnknownAudienceRejected(t *testing.T) {
	r := newResolver()

	for _, tgt := range []*types.AudienceTarget{
		nil,
		{Audience: types.Audience("everyone")},
	} {
		_, err := r.Resolve(tgt)
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeInvalidAudience, appErr.Code)
	}
}

func TestResolve_AllIsUnfilteredBroadcast(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{Audience: types.AudienceAll})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.Empty(t, res.Channels[0].Condition)
	assert.Equal(t, locale.Default, res.Channels[0].Language)
}

func TestResolve_LanguageFansOutPerLanguage(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{
		Audience:  types.AudienceLanguage,
		Languages: []string{"en", "tr"},
	})
	require.NoError(t, err)
	require.Len(t, res.Channels, 2)

	assert.Equal(t, "'lang_en' in topics", res.Channels[0].Condition)
	assert.Equal(t, locale.English, res.Channels[0].Language)
	assert.Equal(t, "'lang_tr' in topics", res.Channels[1].Condition)
	assert.Equal(t, locale.Turkish, res.Channels[1].Language)
}

func TestResolve_LanguageFanOutCarriesOtherFacets(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{
		Audience:  types.AudienceLanguage,
		Languages: []string{"tr"},
		Tiers:     []string{"lite", "standard"},
		Platforms: []string{"ios"},
	})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)

	assert.Equal(t,
		"'lang_tr' in topics && ('tier_lite' in topics || 'tier_standard' in topics) && 'platform_ios' in topics",
		res.Channels[0].Condition,
	)
}

func TestResolve_LanguageWithNoSupportedLanguagesRejected(t *testing.T) {
	r := newResolver()

	_, err := r.Resolve(&types.AudienceTarget{
		Audience:  types.AudienceLanguage,
		Languages: []string{"de", "fr"},
	})
	assert.Error(t, err)
}

func TestResolve_CombinedFacetsSingleSend(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{
		Audience:  types.AudienceCustom,
		Languages: []string{"en", "ru"},
		Tiers:     []string{"standard"},
	})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)

	assert.Equal(t,
		"('lang_en' in topics || 'lang_ru' in topics) && 'tier_standard' in topics",
		res.Channels[0].Condition,
	)
	assert.Equal(t, locale.Default, res.Channels[0].Language)
}

func TestResolve_InvalidFacetValuesSilentlyFiltered(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{
		Audience:  types.AudienceTier,
		Tiers:     []string{"platinum", "lite", "all"},
		Platforms: []string{"windows"},
	})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)

	// "platinum"/"windows" dropped, "all" is a wildcard: only the tier
	// clause survives.
	assert.Equal(t, "'tier_lite' in topics", res.Channels[0].Condition)
}

func TestResolve_AllFacetsFilteredDegradesToUnfiltered(t *testing.T) {
	r := newResolver()

	res, err := r.Resolve(&types.AudienceTarget{
		Audience:  types.AudiencePlatform,
		Platforms: []string{"all"},
	})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.Empty(t, res.Channels[0].Condition)
}

func TestResolveBroadcastQuery(t *testing.T) {
	r := newResolver()

	res := r.ResolveBroadcastQuery(types.KindWaitlistAnnouncement, "qa@relaypoint.app")
	require.NotNil(t, res.Query)
	assert.True(t, res.Query.WaitlistMembers)
	assert.True(t, res.Query.MarketingConsentOnly)
	assert.Empty(t, res.Query.TestOverride)

	res = r.ResolveBroadcastQuery(types.KindWaitlistTest, "qa@relaypoint.app")
	require.NotNil(t, res.Query)
	assert.Equal(t, "qa@relaypoint.app", res.Query.TestOverride)
}

func TestCapClauses(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e", "f", "g"}
	out, truncated := capClauses(in)
	assert.True(t, truncated)
	assert.Len(t, out, MaxConditionClauses)

	out, truncated = capClauses([]string{"a"})
	assert.False(t, truncated)
	assert.Len(t, out, 1)
}
