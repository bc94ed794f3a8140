// Package dispatch owns the notification request lifecycle: validation,
// governance, audience fan-out, provider calls, and terminal status
// transitions. Per-recipient soft failures (stale push tokens, individual
// broadcast addresses bouncing) never fail sibling recipients; a request is
// 'sent' when at least one attempt succeeded.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"relaypoint/internal/audience"
	"relaypoint/internal/external"
	"relaypoint/internal/governor"
	"relaypoint/internal/locale"
	"relaypoint/internal/templates"
	"relaypoint/internal/types"
)

// Admitter is the governance gate. Satisfied by *governor.Governor.
type Admitter interface {
	Admit(ctx context.Context, req governor.AdmitRequest) (governor.Decision, error)
}

// UserStore is the user view the engine needs. Satisfied by
// *store.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	ClearDevice(ctx context.Context, id string) error
	ListBroadcastRecipients(ctx context.Context, q audience.RecipientQuery) ([]string, error)
}

// WaitlistSource provides the waitlist recipient list. Satisfied by
// *store.IntakeRepository.
type WaitlistSource interface {
	ListWaitlistEmails(ctx context.Context) ([]string, error)
}

// Renderer is the mail template surface. Satisfied by *templates.Registry.
type Renderer interface {
	Render(kind types.NotificationKind, lang locale.Language, data map[string]string) (templates.Rendered, error)
}

// Config holds the engine's delivery parameters.
type Config struct {
	FromAddress      string
	DefaultTopic     string
	AndroidChannelID string

	// BroadcastConcurrency bounds concurrent per-recipient mail sends and
	// per-channel push sends. Zero means the default of 8.
	BroadcastConcurrency int
}

// Engine processes notification requests end to end. Process methods return
// an error only for transient infrastructure failures where the request is
// still pending and redelivery should retry; every deliverable outcome
// (sent, failed, cancelled, error) is settled through the recorder and
// returns nil.
type Engine struct {
	governor  Admitter
	resolver  *audience.Resolver
	templates Renderer
	mail      external.MailProvider
	push      external.PushProvider
	users     UserStore
	waitlist  WaitlistSource
	recorder  *Recorder
	cfg       Config
	logger    types.Logger
}

// NewEngine creates an Engine.
func NewEngine(
	gov Admitter,
	resolver *audience.Resolver,
	tmpl Renderer,
	mail external.MailProvider,
	push external.PushProvider,
	users UserStore,
	waitlist WaitlistSource,
	recorder *Recorder,
	cfg Config,
	logger types.Logger,
) *Engine {
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = 8
	}
	return &Engine{
		governor:  gov,
		resolver:  resolver,
		templates: tmpl,
		mail:      mail,
		push:      push,
		users:     users,
		waitlist:  waitlist,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Broadcast mail kinds fan one request out to a recipient collection.
func isBroadcastMailKind(kind types.NotificationKind) bool {
	return kind == types.KindWaitlistAnnouncement || kind == types.KindWaitlistTest
}

// ProcessMail handles one email notification request through its terminal
// status.
func (e *Engine) ProcessMail(ctx context.Context, req *types.NotificationRequest) error {
	if !types.MailKinds[req.Kind] {
		e.recorder.Errored(ctx, req, types.NewAppError(types.ErrCodeValidationInvalidKind,
			"kind not deliverable by mail: "+string(req.Kind), nil))
		return nil
	}

	if isBroadcastMailKind(req.Kind) {
		return e.processBroadcastMail(ctx, req)
	}

	to := req.Recipient.To
	if to == "" {
		e.recorder.Errored(ctx, req, types.NewAppError(types.ErrCodeValidationMissingField,
			"mail request has no recipient address", nil))
		return nil
	}

	dec, err := e.governor.Admit(ctx, governor.AdmitRequest{
		EventID:      req.EventID,
		Kind:         req.Kind,
		RecipientKey: to,
		Channel:      types.ChannelEmail,
	})
	if err != nil {
		// Transient: leave pending so redelivery retries.
		return err
	}
	if !dec.Admitted {
		e.recorder.Cancelled(ctx, req, dec.Reason)
		return nil
	}

	subject, bodyHTML := req.Subject, req.BodyHTML
	if subject == "" || bodyHTML == "" {
		rendered, rerr := e.templates.Render(req.Kind, locale.Resolve(req.LanguageHint), req.Data)
		if rerr != nil {
			e.recorder.Errored(ctx, req, rerr)
			return nil
		}
		subject, bodyHTML = rendered.Subject, rendered.BodyHTML
	}

	msgID, sendErr := e.mail.Send(ctx, types.SendInput{
		From:        e.cfg.FromAddress,
		To:          to,
		Subject:     subject,
		BodyHTML:    bodyHTML,
		ReferenceID: req.ID,
	})
	if sendErr != nil {
		e.recorder.Failed(ctx, req, types.DeliveryOutcome{
			FailureCount:        1,
			RecipientsAttempted: 1,
		}, sendErr.Error())
		return nil
	}

	e.recorder.Success(ctx, req, dec.Token, types.DeliveryOutcome{
		SuccessCount:        1,
		RecipientsAttempted: 1,
	}, msgID)
	return nil
}

// processBroadcastMail fans one pre-rendered announcement out to the resolved
// recipient collections, one send per recipient. Individual failures are
// independent: the request is 'sent' when at least one recipient got the mail.
func (e *Engine) processBroadcastMail(ctx context.Context, req *types.NotificationRequest) error {
	if req.Subject == "" || req.BodyHTML == "" {
		e.recorder.Errored(ctx, req, types.NewAppError(types.ErrCodeValidationMissingField,
			"broadcast mail requires pre-rendered subject and body", nil))
		return nil
	}

	dec, err := e.governor.Admit(ctx, governor.AdmitRequest{
		EventID: req.EventID,
		Kind:    req.Kind,
		Channel: types.ChannelEmail,
	})
	if err != nil {
		return err
	}
	if !dec.Admitted {
		e.recorder.Cancelled(ctx, req, dec.Reason)
		return nil
	}

	resolved := e.resolver.ResolveBroadcastQuery(req.Kind, req.Recipient.To)

	recipients, err := e.broadcastRecipients(ctx, resolved.Query)
	if err != nil {
		return err
	}

	if len(recipients) == 0 {
		e.recorder.Errored(ctx, req, types.NewAppError(types.ErrCodeNoActiveRecipient,
			"broadcast resolved to zero recipients", nil))
		return nil
	}

	var (
		mu           sync.Mutex
		successCount int
		failureCount int
		firstMsgID   string
		lastErr      string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BroadcastConcurrency)
	for _, to := range recipients {
		to := to
		g.Go(func() error {
			msgID, sendErr := e.mail.Send(gctx, types.SendInput{
				From:        e.cfg.FromAddress,
				To:          to,
				Subject:     req.Subject,
				BodyHTML:    req.BodyHTML,
				ReferenceID: req.ID,
			})

			mu.Lock()
			defer mu.Unlock()
			if sendErr != nil {
				failureCount++
				lastErr = sendErr.Error()
				e.logger.Warn("broadcast recipient failed", "request_id", req.ID, "error", sendErr.Error())
				return nil
			}
			successCount++
			if firstMsgID == "" {
				firstMsgID = msgID
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := types.DeliveryOutcome{
		SuccessCount:        successCount,
		FailureCount:        failureCount,
		RecipientsAttempted: len(recipients),
	}
	if successCount > 0 {
		e.recorder.Success(ctx, req, dec.Token, outcome, firstMsgID)
	} else {
		e.recorder.Failed(ctx, req, outcome, lastErr)
	}
	return nil
}

// broadcastRecipients materializes a recipient query into concrete addresses.
// A test override short-circuits to its single address; otherwise the query's
// collections are unioned and deduplicated, so an address on the waitlist and
// registered with consent gets the mail once.
func (e *Engine) broadcastRecipients(ctx context.Context, q *audience.RecipientQuery) ([]string, error) {
	if q == nil {
		return nil, nil
	}
	if q.TestOverride != "" {
		return []string{q.TestOverride}, nil
	}

	seen := map[string]bool{}
	recipients := []string{}
	add := func(emails []string) {
		for _, email := range emails {
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true
			recipients = append(recipients, email)
		}
	}

	if q.WaitlistMembers {
		emails, err := e.waitlist.ListWaitlistEmails(ctx)
		if err != nil {
			return nil, err
		}
		add(emails)
	}

	emails, err := e.users.ListBroadcastRecipients(ctx, *q)
	if err != nil {
		return nil, err
	}
	add(emails)

	return recipients, nil
}

// ProcessPush handles one push notification request through its terminal
// status.
func (e *Engine) ProcessPush(ctx context.Context, req *types.NotificationRequest) error {
	resolved, err := e.resolver.Resolve(req.Recipient.Target)
	if err != nil {
		e.recorder.Errored(ctx, req, err)
		return nil
	}

	dec, err := e.governor.Admit(ctx, governor.AdmitRequest{
		EventID:      req.EventID,
		Kind:         req.Kind,
		RecipientKey: req.UserID,
		Channel:      types.ChannelPush,
	})
	if err != nil {
		return err
	}
	if !dec.Admitted {
		e.recorder.Cancelled(ctx, req, dec.Reason)
		return nil
	}

	if resolved.UserID != "" {
		return e.pushToUser(ctx, req, dec.Token, resolved.UserID)
	}
	return e.pushToChannels(ctx, req, dec.Token, resolved)
}

// pushToUser delivers to an individual user's active device registration.
func (e *Engine) pushToUser(ctx context.Context, req *types.NotificationRequest, token *governor.Token, userID string) error {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			e.recorder.Errored(ctx, req, err)
			return nil
		}
		return err
	}

	if user.ActiveDevice == nil || user.ActiveDevice.Token == "" {
		e.recorder.Errored(ctx, req, types.NewAppError(types.ErrCodeNoActiveRecipient,
			"user has no active device registration", nil))
		return nil
	}

	lang := locale.Resolve(req.LanguageHint)
	if req.LanguageHint == "" {
		lang = locale.Resolve(user.PreferredLanguage)
	}

	var content templates.PushContent
	if req.Kind == types.KindDeviceLogout {
		content = templates.DeviceLogout(lang)
	} else {
		content = templates.LocalizedPush(req.Titles, req.Bodies, lang)
	}

	msgID, sendErr := e.push.Send(ctx, e.tokenMessage(user.ActiveDevice.Token, content, req.Data))
	if sendErr != nil {
		var appErr *types.AppError
		if errors.As(sendErr, &appErr) && appErr.Code == types.ErrCodePushTokenStale {
			// Expected during normal operation: the registration went
			// stale. Clear it so future sends short-circuit.
			if clearErr := e.users.ClearDevice(ctx, userID); clearErr != nil {
				e.logger.Error("failed to clear stale device", "user_id", userID, "error", clearErr.Error())
			}
		}
		e.recorder.Failed(ctx, req, types.DeliveryOutcome{
			FailureCount:        1,
			RecipientsAttempted: 1,
		}, sendErr.Error())
		return nil
	}

	e.recorder.Success(ctx, req, token, types.DeliveryOutcome{
		SuccessCount:        1,
		RecipientsAttempted: 1,
	}, msgID)
	return nil
}

// pushToChannels fans a broadcast out to its resolved channel sends, one
// push per (condition, language) pair, with per-channel failures independent.
func (e *Engine) pushToChannels(ctx context.Context, req *types.NotificationRequest, token *governor.Token, resolved audience.Resolved) error {
	if resolved.Truncated {
		e.logger.Warn("broadcast condition truncated", "request_id", req.ID)
	}

	var (
		mu           sync.Mutex
		successCount int
		failureCount int
		firstMsgID   string
		lastErr      string
		selectors    []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BroadcastConcurrency)
	for _, ch := range resolved.Channels {
		ch := ch
		g.Go(func() error {
			content := templates.LocalizedPush(req.Titles, req.Bodies, ch.Language)

			var msg *types.PushMessage
			if ch.Condition == "" {
				msg = e.topicMessage(content, req.Data)
			} else {
				msg = e.conditionMessage(ch.Condition, content, req.Data)
			}

			msgID, sendErr := e.push.Send(gctx, msg)

			mu.Lock()
			defer mu.Unlock()
			selectors = append(selectors, selectorFor(msg))
			if sendErr != nil {
				failureCount++
				lastErr = sendErr.Error()
				e.logger.Warn("broadcast channel failed",
					"request_id", req.ID,
					"selector", selectorFor(msg),
					"error", sendErr.Error(),
				)
				return nil
			}
			successCount++
			if firstMsgID == "" {
				firstMsgID = msgID
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := types.DeliveryOutcome{
		SuccessCount:        successCount,
		FailureCount:        failureCount,
		RecipientsAttempted: len(resolved.Channels),
		Selector:            strings.Join(selectors, "; "),
	}
	if successCount > 0 {
		e.recorder.Success(ctx, req, token, outcome, firstMsgID)
	} else {
		e.recorder.Failed(ctx, req, outcome, lastErr)
	}
	return nil
}

func selectorFor(msg *types.PushMessage) string {
	switch msg.TargetKind {
	case types.PushTargetTopic:
		return "topic:" + msg.Topic
	case types.PushTargetCondition:
		return msg.Condition
	default:
		return "token"
	}
}
