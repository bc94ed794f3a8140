package dispatch

import (
	"relaypoint/internal/templates"
	"relaypoint/internal/types"
)

// Platform hint defaults applied to every outgoing push message.
const (
	androidPriorityHigh = "high"
	apnsDefaultSound    = "default"
)

// tokenMessage assembles a push message addressed to a single registration
// token.
func (e *Engine) tokenMessage(token string, content templates.PushContent, data map[string]string) *types.PushMessage {
	msg := e.baseMessage(content, data)
	msg.TargetKind = types.PushTargetToken
	msg.Token = token
	return msg
}

// topicMessage assembles a push message addressed to the default broadcast
// topic.
func (e *Engine) topicMessage(content templates.PushContent, data map[string]string) *types.PushMessage {
	msg := e.baseMessage(content, data)
	msg.TargetKind = types.PushTargetTopic
	msg.Topic = e.cfg.DefaultTopic
	return msg
}

// conditionMessage assembles a push message addressed by a topic-condition
// expression.
func (e *Engine) conditionMessage(condition string, content templates.PushContent, data map[string]string) *types.PushMessage {
	msg := e.baseMessage(content, data)
	msg.TargetKind = types.PushTargetCondition
	msg.Condition = condition
	return msg
}

func (e *Engine) baseMessage(content templates.PushContent, data map[string]string) *types.PushMessage {
	return &types.PushMessage{
		Title:            content.Title,
		Body:             content.Body,
		Data:             data,
		AndroidChannelID: e.cfg.AndroidChannelID,
		AndroidPriority:  androidPriorityHigh,
		APNSSound:        apnsDefaultSound,
	}
}
