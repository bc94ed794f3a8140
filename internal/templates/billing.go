package templates

import (
	"strings"
	"time"

	"relaypoint/internal/locale"
)

// planNames maps store product IDs to localized display names. Unknown
// products fall back to the cleaned product ID so mail never renders empty.
var planNames = map[string]map[locale.Language]string{
	"relaypoint_lite_monthly": {
		locale.English: "Lite Monthly",
		locale.Turkish: "Lite Aylık",
		locale.Russian: "Lite Ежемесячный",
		locale.Hindi:   "Lite मासिक",
	},
	"relaypoint_standard_monthly": {
		locale.English: "Standard Monthly",
		locale.Turkish: "Standard Aylık",
		locale.Russian: "Standard Ежемесячный",
		locale.Hindi:   "Standard मासिक",
	},
	"relaypoint_standard_yearly": {
		locale.English: "Standard Yearly",
		locale.Turkish: "Standard Yıllık",
		locale.Russian: "Standard Годовой",
		locale.Hindi:   "Standard वार्षिक",
	},
}

// PlanName returns the localized display name for a product ID. Product IDs
// may carry a ":base_plan" suffix from the store; only the prefix matters.
func PlanName(productID string, lang locale.Language) string {
	if productID == "" {
		return "RelayPoint"
	}

	clean := productID
	if idx := strings.IndexByte(productID, ':'); idx >= 0 {
		clean = productID[:idx]
	}

	plan, ok := planNames[clean]
	if !ok {
		return clean
	}
	if name := plan[lang]; name != "" {
		return name
	}
	if name := plan[locale.Default]; name != "" {
		return name
	}
	return clean
}

// TierFromProduct derives the subscription tier topic value from a product ID.
func TierFromProduct(productID string) string {
	switch {
	case strings.Contains(productID, "standard"):
		return "standard"
	case strings.Contains(productID, "lite"):
		return "lite"
	default:
		return "free"
	}
}

// monthNames provides localized month names for date rendering. Go's stdlib
// formats month names in English only, and the rendered dates are
// user-facing mail content.
var monthNames = map[locale.Language][12]string{
	locale.Turkish: {"Ocak", "Şubat", "Mart", "Nisan", "Mayıs", "Haziran", "Temmuz", "Ağustos", "Eylül", "Ekim", "Kasım", "Aralık"},
	locale.Russian: {"января", "февраля", "марта", "апреля", "мая", "июня", "июля", "августа", "сентября", "октября", "ноября", "декабря"},
	locale.Hindi:   {"जनवरी", "फ़रवरी", "मार्च", "अप्रैल", "मई", "जून", "जुलाई", "अगस्त", "सितंबर", "अक्टूबर", "नवंबर", "दिसंबर"},
}

// FormatDate renders t as a long-form date in the given language.
// A zero time renders as the empty string.
func FormatDate(t time.Time, lang locale.Language) string {
	if t.IsZero() {
		return ""
	}

	months, ok := monthNames[lang]
	if !ok {
		return t.Format("January 2, 2006")
	}

	month := months[int(t.Month())-1]
	return t.Format("2 ") + month + t.Format(" 2006")
}
