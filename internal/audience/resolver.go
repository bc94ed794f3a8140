// Package audience computes concrete delivery targets from declarative
// audience specifications: a single user, a push topic-condition expression,
// or a recipient-collection query for broadcast mail.
package audience

import (
	"fmt"
	"strings"

	"relaypoint/internal/locale"
	"relaypoint/internal/types"
)

// MaxConditionClauses is the hard ceiling the push transport places on the
// number of clauses in one condition expression. Facet clauses beyond the
// cap are dropped (lossy truncation, surfaced via Resolved.Truncated).
const MaxConditionClauses = 5

// Supported facet values. "all" is a wildcard and contributes no clause.
var (
	validTiers     = map[string]bool{"all": true, "free": true, "lite": true, "standard": true}
	validPlatforms = map[string]bool{"all": true, "ios": true, "android": true}
)

// ChannelSend is one broadcast push dispatch: a topic-condition selector and
// the language to render content in. An empty Condition means an unfiltered
// broadcast to the default topic.
type ChannelSend struct {
	Condition string
	Language  locale.Language
}

// RecipientQuery is a declarative predicate over the persisted recipient
// collections for broadcast mail. WaitlistMembers pulls in waitlist signups;
// MarketingConsentOnly restricts registered users to those who opted in. The
// engine unions the selected collections and deduplicates by address.
// TestOverride, when set, short-circuits the query to a single recipient.
type RecipientQuery struct {
	WaitlistMembers      bool
	MarketingConsentOnly bool
	TestOverride         string
}

// Resolved is the outcome of audience resolution. Exactly one of UserID,
// Channels, or Query is populated.
type Resolved struct {
	// UserID is set for individual targets; the engine looks up the user's
	// current device registration.
	UserID string

	// Channels holds one entry per broadcast push dispatch. The "language"
	// audience produces one entry per requested language so each recipient
	// gets body text in their own language.
	Channels []ChannelSend

	// Query is set for broadcast mail over a recipient collection.
	Query *RecipientQuery

	// Truncated reports that facet clauses were dropped to respect
	// MaxConditionClauses. Callers should warn, not silently over-broadcast.
	Truncated bool
}

// Resolver computes Resolved targets from AudienceTarget specifications.
type Resolver struct {
	logger types.Logger
}

// NewResolver creates an audience Resolver.
func NewResolver(logger types.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve maps target to a concrete delivery selector.
//
// Errors: unknown audience value or individual-without-userID returns an
// ErrCodeInvalidAudience AppError. Facet values outside the supported
// enumerations are silently filtered out; a facet whose values all filter
// away simply contributes no clause.
func (r *Resolver) Resolve(target *types.AudienceTarget) (Resolved, error) {
	if target == nil {
		return Resolved{}, types.NewAppError(types.ErrCodeInvalidAudience, "target audience is required", nil)
	}

	switch target.Audience {
	case types.AudienceIndividual:
		if target.UserID == "" {
			return Resolved{}, types.NewAppError(types.ErrCodeInvalidAudience, "userId is required for individual target", nil)
		}
		return Resolved{UserID: target.UserID}, nil

	case types.AudienceAll:
		return Resolved{Channels: []ChannelSend{{Condition: "", Language: locale.Default}}}, nil

	case types.AudienceLanguage:
		return r.resolvePerLanguage(target)

	case types.AudienceTier, types.AudiencePlatform, types.AudienceCustom:
		return r.resolveCombined(target)

	default:
		return Resolved{}, types.NewAppError(types.ErrCodeInvalidAudience,
			fmt.Sprintf("invalid audience: %s", target.Audience), nil)
	}
}

// ResolveBroadcastQuery maps a broadcast-mail kind to a recipient query.
// Announcements target the waitlist plus registered users who consented to
// marketing mail. Test kinds short-circuit to the override recipient instead
// of the full collections.
func (r *Resolver) ResolveBroadcastQuery(kind types.NotificationKind, testRecipient string) Resolved {
	q := &RecipientQuery{WaitlistMembers: true, MarketingConsentOnly: true}
	if kind == types.KindWaitlistTest {
		q.TestOverride = testRecipient
	}
	return Resolved{Query: q}
}

// resolvePerLanguage fans a "language" audience out to one dispatch per
// requested language. Tier and platform facets still apply to every
// per-language condition; the language clause is baked in per send.
func (r *Resolver) resolvePerLanguage(target *types.AudienceTarget) (Resolved, error) {
	langs := filterLanguages(target.Languages)
	if len(langs) == 0 {
		return Resolved{}, types.NewAppError(types.ErrCodeInvalidAudience,
			"language audience requires at least one supported language", nil)
	}

	extra := []string{}
	if clause := facetClause("tier", filterFacet(target.Tiers, validTiers)); clause != "" {
		extra = append(extra, clause)
	}
	if clause := facetClause("platform", filterFacet(target.Platforms, validPlatforms)); clause != "" {
		extra = append(extra, clause)
	}

	sends := make([]ChannelSend, 0, len(langs))
	for _, lang := range langs {
		clauses := append([]string{fmt.Sprintf("'lang_%s' in topics", lang)}, extra...)
		clauses, truncated := capClauses(clauses)
		if truncated {
			r.logger.Warn("condition clause cap exceeded, truncating", "language", string(lang))
		}
		sends = append(sends, ChannelSend{
			Condition: strings.Join(clauses, " && "),
			Language:  lang,
		})
	}

	return Resolved{Channels: sends}, nil
}

// resolveCombined intersects the requested facets into a single condition.
// Each facet contributes an OR-combination of its values; facets are
// combined with AND. An empty clause list degrades to an unfiltered
// broadcast rather than failing.
func (r *Resolver) resolveCombined(target *types.AudienceTarget) (Resolved, error) {
	clauses := []string{}

	if langs := filterLanguages(target.Languages); len(langs) > 0 {
		values := make([]string, len(langs))
		for i, l := range langs {
			values[i] = string(l)
		}
		clauses = append(clauses, facetClause("lang", values))
	}
	if clause := facetClause("tier", filterFacet(target.Tiers, validTiers)); clause != "" {
		clauses = append(clauses, clause)
	}
	if clause := facetClause("platform", filterFacet(target.Platforms, validPlatforms)); clause != "" {
		clauses = append(clauses, clause)
	}

	clauses, truncated := capClauses(clauses)
	if truncated {
		r.logger.Warn("condition clause cap exceeded, truncating",
			"audience", string(target.Audience),
		)
	}

	lang := locale.Default
	if langs := filterLanguages(target.Languages); len(langs) == 1 {
		lang = langs[0]
	}

	return Resolved{
		Channels:  []ChannelSend{{Condition: strings.Join(clauses, " && "), Language: lang}},
		Truncated: truncated,
	}, nil
}

// filterLanguages keeps only supported language codes, preserving order.
func filterLanguages(langs []string) []locale.Language {
	out := []locale.Language{}
	for _, l := range langs {
		if locale.IsSupported(l) {
			out = append(out, locale.Language(l))
		}
	}
	return out
}

// filterFacet keeps values present in the valid set, dropping the "all"
// wildcard which contributes no clause.
func filterFacet(values []string, valid map[string]bool) []string {
	out := []string{}
	for _, v := range values {
		if valid[v] && v != "all" {
			out = append(out, v)
		}
	}
	return out
}

// facetClause builds the OR-combination clause for one facet. A single value
// stands alone; multiple values are parenthesized.
func facetClause(prefix string, values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("'%s_%s' in topics", prefix, values[0])
	default:
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("'%s_%s' in topics", prefix, v)
		}
		return "(" + strings.Join(parts, " || ") + ")"
	}
}

// capClauses enforces MaxConditionClauses, reporting whether truncation
// occurred.
func capClauses(clauses []string) ([]string, bool) {
	if len(clauses) > MaxConditionClauses {
		return clauses[:MaxConditionClauses], true
	}
	return clauses, false
}
