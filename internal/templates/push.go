package templates

import (
	"relaypoint/internal/locale"
)

// PushContent is the localized title/body pair for one push send.
type PushContent struct {
	Title string
	Body  string
}

// LocalizedPush picks the content for lang from per-language title and body
// maps, falling back to the default language, then to a bare app title.
// Mirrors the fallback the mobile clients expect.
func LocalizedPush(titles, bodies map[string]string, lang locale.Language) PushContent {
	title := titles[string(lang)]
	if title == "" {
		title = titles[string(locale.Default)]
	}
	if title == "" {
		title = "RelayPoint"
	}

	body := bodies[string(lang)]
	if body == "" {
		body = bodies[string(locale.Default)]
	}

	return PushContent{Title: title, Body: body}
}

// deviceLogoutContent holds the fixed security-alert texts sent to the
// previous device when an account signs in elsewhere.
var deviceLogoutContent = map[locale.Language]PushContent{
	locale.English: {
		Title: "New Login Detected",
		Body:  "Your account was signed in from another device. If this wasn't you, please change your password.",
	},
	locale.Turkish: {
		Title: "Yeni Cihaz Girişi",
		Body:  "Hesabınıza başka bir cihazdan giriş yapıldı. Siz değilseniz şifrenizi değiştirin.",
	},
	locale.Russian: {
		Title: "Новый вход в аккаунт",
		Body:  "В ваш аккаунт вошли с другого устройства. Если это не вы, смените пароль.",
	},
	locale.Hindi: {
		Title: "नया लॉगिन",
		Body:  "आपके खाते में दूसरे डिवाइस से लॉगिन हुआ। अगर यह आप नहीं थे, तो पासवर्ड बदलें।",
	},
}

// DeviceLogout returns the localized device-logout alert content.
func DeviceLogout(lang locale.Language) PushContent {
	if c, ok := deviceLogoutContent[lang]; ok {
		return c
	}
	return deviceLogoutContent[locale.Default]
}
