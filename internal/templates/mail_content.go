package templates

import (
	"fmt"

	"relaypoint/internal/locale"
	"relaypoint/internal/types"
)

// mailStrings holds the localized subject and body format strings for the
// transactional mail kinds. Body markup is intentionally plain; visual
// styling is owned elsewhere.
type mailStrings struct {
	otpSubject string
	otpBody    string // userName, code

	welcomeSubject string
	welcomeBody    string // userName

	resetSubject string
	resetBody    string // userName, resetLink

	subStartedSubject    string // planName
	subStartedBody       string // userName, planName, expiryDate
	subStartedTrialBody  string // userName, planName, expiryDate
	subExpiredSubject    string
	subExpiredBody       string // userName, planName
	paymentFailedSubject string
	paymentFailedBody    string // userName, planName
	planChangedSubject   string
	planChangedBody      string // userName, oldPlan, newPlan
	planChangedDeferred  string // effectiveDate suffix
	trialEndingSubject   string
	trialEndingBody      string // userName, planName, expiryDate
}

var mailContent = map[locale.Language]mailStrings{
	locale.English: {
		otpSubject:           "Your verification code",
		otpBody:              "<p>Hi %s,</p><p>Your verification code is <strong>%s</strong>. It expires in 10 minutes.</p>",
		welcomeSubject:       "Welcome aboard",
		welcomeBody:          "<p>Hi %s,</p><p>Welcome! Your account is ready.</p>",
		resetSubject:         "Reset your password",
		resetBody:            `<p>Hi %s,</p><p>Click <a href="%s">here</a> to reset your password. If you did not request this, you can ignore this email.</p>`,
		subStartedSubject:    "Your %s subscription has started",
		subStartedBody:       "<p>Hi %s,</p><p>Your %s subscription is active until %s.</p>",
		subStartedTrialBody:  "<p>Hi %s,</p><p>Your %s trial is active until %s.</p>",
		subExpiredSubject:    "Your subscription has expired",
		subExpiredBody:       "<p>Hi %s,</p><p>Your %s subscription has expired.</p>",
		paymentFailedSubject: "Payment issue with your subscription",
		paymentFailedBody:    "<p>Hi %s,</p><p>We could not process the payment for your %s subscription. Please update your payment method.</p>",
		planChangedSubject:   "Your plan has changed",
		planChangedBody:      "<p>Hi %s,</p><p>Your plan changed from %s to %s.</p>",
		planChangedDeferred:  "<p>The change takes effect on %s.</p>",
		trialEndingSubject:   "Your trial ends tomorrow",
		trialEndingBody:      "<p>Hi %s,</p><p>Your %s trial ends on %s.</p>",
	},
	locale.Turkish: {
		otpSubject:           "Doğrulama kodunuz",
		otpBody:              "<p>Merhaba %s,</p><p>Doğrulama kodunuz: <strong>%s</strong>. Kod 10 dakika içinde geçerliliğini yitirir.</p>",
		welcomeSubject:       "Aramıza hoş geldiniz",
		welcomeBody:          "<p>Merhaba %s,</p><p>Hoş geldiniz! Hesabınız hazır.</p>",
		resetSubject:         "Şifrenizi sıfırlayın",
		resetBody:            `<p>Merhaba %s,</p><p>Şifrenizi sıfırlamak için <a href="%s">buraya</a> tıklayın. Bu isteği siz yapmadıysanız bu e-postayı yok sayabilirsiniz.</p>`,
		subStartedSubject:    "%s aboneliğiniz başladı",
		subStartedBody:       "<p>Merhaba %s,</p><p>%s aboneliğiniz %s tarihine kadar aktif.</p>",
		subStartedTrialBody:  "<p>Merhaba %s,</p><p>%s deneme süreniz %s tarihine kadar aktif.</p>",
		subExpiredSubject:    "Aboneliğiniz sona erdi",
		subExpiredBody:       "<p>Merhaba %s,</p><p>%s aboneliğiniz sona erdi.</p>",
		paymentFailedSubject: "Aboneliğinizde ödeme sorunu",
		paymentFailedBody:    "<p>Merhaba %s,</p><p>%s aboneliğinizin ödemesi alınamadı. Lütfen ödeme yönteminizi güncelleyin.</p>",
		planChangedSubject:   "Planınız değişti",
		planChangedBody:      "<p>Merhaba %s,</p><p>Planınız %s planından %s planına geçti.</p>",
		planChangedDeferred:  "<p>Değişiklik %s tarihinde geçerli olacak.</p>",
		trialEndingSubject:   "Deneme süreniz yarın bitiyor",
		trialEndingBody:      "<p>Merhaba %s,</p><p>%s deneme süreniz %s tarihinde sona eriyor.</p>",
	},
	locale.Russian: {
		otpSubject:           "Ваш код подтверждения",
		otpBody:              "<p>Здравствуйте, %s!</p><p>Ваш код подтверждения: <strong>%s</strong>. Код действителен 10 минут.</p>",
		welcomeSubject:       "Добро пожаловать",
		welcomeBody:          "<p>Здравствуйте, %s!</p><p>Добро пожаловать! Ваш аккаунт готов.</p>",
		resetSubject:         "Сброс пароля",
		resetBody:            `<p>Здравствуйте, %s!</p><p>Нажмите <a href="%s">сюда</a>, чтобы сбросить пароль. Если вы не запрашивали сброс, проигнорируйте это письмо.</p>`,
		subStartedSubject:    "Ваша подписка %s активирована",
		subStartedBody:       "<p>Здравствуйте, %s!</p><p>Ваша подписка %s активна до %s.</p>",
		subStartedTrialBody:  "<p>Здравствуйте, %s!</p><p>Ваш пробный период %s активен до %s.</p>",
		subExpiredSubject:    "Срок подписки истёк",
		subExpiredBody:       "<p>Здравствуйте, %s!</p><p>Срок вашей подписки %s истёк.</p>",
		paymentFailedSubject: "Проблема с оплатой подписки",
		paymentFailedBody:    "<p>Здравствуйте, %s!</p><p>Не удалось провести оплату подписки %s. Пожалуйста, обновите способ оплаты.</p>",
		planChangedSubject:   "Ваш тариф изменён",
		planChangedBody:      "<p>Здравствуйте, %s!</p><p>Ваш тариф изменён с %s на %s.</p>",
		planChangedDeferred:  "<p>Изменение вступит в силу %s.</p>",
		trialEndingSubject:   "Пробный период заканчивается завтра",
		trialEndingBody:      "<p>Здравствуйте, %s!</p><p>Ваш пробный период %s заканчивается %s.</p>",
	},
	locale.Hindi: {
		otpSubject:           "आपका सत्यापन कोड",
		otpBody:              "<p>नमस्ते %s,</p><p>आपका सत्यापन कोड <strong>%s</strong> है। यह 10 मिनट में समाप्त हो जाएगा।</p>",
		welcomeSubject:       "स्वागत है",
		welcomeBody:          "<p>नमस्ते %s,</p><p>स्वागत है! आपका खाता तैयार है।</p>",
		resetSubject:         "अपना पासवर्ड रीसेट करें",
		resetBody:            `<p>नमस्ते %s,</p><p>पासवर्ड रीसेट करने के लिए <a href="%s">यहाँ</a> क्लिक करें। यदि आपने यह अनुरोध नहीं किया है, तो इस ईमेल को अनदेखा करें।</p>`,
		subStartedSubject:    "आपकी %s सदस्यता शुरू हो गई है",
		subStartedBody:       "<p>नमस्ते %s,</p><p>आपकी %s सदस्यता %s तक सक्रिय है।</p>",
		subStartedTrialBody:  "<p>नमस्ते %s,</p><p>आपका %s ट्रायल %s तक सक्रिय है।</p>",
		subExpiredSubject:    "आपकी सदस्यता समाप्त हो गई है",
		subExpiredBody:       "<p>नमस्ते %s,</p><p>आपकी %s सदस्यता समाप्त हो गई है।</p>",
		paymentFailedSubject: "सदस्यता भुगतान में समस्या",
		paymentFailedBody:    "<p>नमस्ते %s,</p><p>आपकी %s सदस्यता का भुगतान संसाधित नहीं हो सका। कृपया अपनी भुगतान विधि अपडेट करें।</p>",
		planChangedSubject:   "आपका प्लान बदल गया है",
		planChangedBody:      "<p>नमस्ते %s,</p><p>आपका प्लान %s से %s में बदल गया है।</p>",
		planChangedDeferred:  "<p>यह परिवर्तन %s से प्रभावी होगा।</p>",
		trialEndingSubject:   "आपका ट्रायल कल समाप्त हो रहा है",
		trialEndingBody:      "<p>नमस्ते %s,</p><p>आपका %s ट्रायल %s को समाप्त हो रहा है।</p>",
	},
}

// registerMailContent wires the per-language renderFuncs for every
// transactional mail kind into the registry.
func registerMailContent(r *Registry) {
	for lang, s := range mailContent {
		s := s

		r.register(types.KindOTP, lang, func(d map[string]string) Rendered {
			return Rendered{
				Subject:  s.otpSubject,
				BodyHTML: fmt.Sprintf(s.otpBody, field(d, "userName", "User"), field(d, "code", "")),
			}
		})

		r.register(types.KindWelcome, lang, func(d map[string]string) Rendered {
			return Rendered{
				Subject:  s.welcomeSubject,
				BodyHTML: fmt.Sprintf(s.welcomeBody, field(d, "userName", "User")),
			}
		})

		r.register(types.KindPasswordReset, lang, func(d map[string]string) Rendered {
			return Rendered{
				Subject:  s.resetSubject,
				BodyHTML: fmt.Sprintf(s.resetBody, field(d, "userName", "User"), field(d, "resetLink", "")),
			}
		})

		r.register(types.KindSubscriptionStarted, lang, func(d map[string]string) Rendered {
			plan := field(d, "planName", "")
			body := s.subStartedBody
			if d["isTrial"] == "true" {
				body = s.subStartedTrialBody
			}
			return Rendered{
				Subject:  fmt.Sprintf(s.subStartedSubject, plan),
				BodyHTML: fmt.Sprintf(body, field(d, "userName", "User"), plan, field(d, "expiryDate", "")),
			}
		})

		r.register(types.KindSubscriptionExpired, lang, func(d map[string]string) Rendered {
			return Rendered{
				Subject:  s.subExpiredSubject,
				BodyHTML: fmt.Sprintf(s.subExpiredBody, field(d, "userName", "User"), field(d, "planName", "")),
			}
		})

		r.register(types.KindPaymentFailed, lang, func(d map[string]string) Rendered {
			return Rendered{
				Subject:  s.paymentFailedSubject,
				BodyHTML: fmt.Sprintf(s.paymentFailedBody, field(d, "userName", "User"), field(d, "planName", "")),
			}
		})

		r.register(types.KindPlanChanged, lang, func(d map[string]string) Rendered {
			body := fmt.Sprintf(s.planChangedBody,
				field(d, "userName", "User"),
				field(d, "oldPlan", ""),
				field(d, "newPlan", ""),
			)
			if d["effectiveDate"] != "" {
				body += fmt.Sprintf(s.planChangedDeferred, d["effectiveDate"])
			}
			return Rendered{Subject: s.planChangedSubject, BodyHTML: body}
		})

		r.register(types.KindTrialEnding, lang, func(d map[string]string) Rendered {
			return Rendered{
				Subject:  s.trialEndingSubject,
				BodyHTML: fmt.Sprintf(s.trialEndingBody, field(d, "userName", "User"), field(d, "planName", ""), field(d, "expiryDate", "")),
			}
		})
	}
}
