package model

import (
	"encoding/json"
	"fmt"
)

// ActorKind discriminates the actor union.
type ActorKind string

const (
	ActorUser    ActorKind = "user"
	ActorWebhook ActorKind = "webhook"
)

// Actor identifies who or what initiated a workflow run. It is an explicit
// tagged union: exactly one of User or Webhook is non-nil, matching Kind.
//
// The two variants link to structurally different entities on purpose:
// a user-id lookup can never match a webhook-initiated run, even when the
// webhook sender's numeric id collides with a user id. Consumers must
// switch on Kind exhaustively.
type Actor struct {
	Kind    ActorKind     `json:"type"`
	User    *UserActor    `json:"user,omitempty"`
	Webhook *WebhookActor `json:"webhook,omitempty"`
}

// UserActor is the human-initiated variant.
type UserActor struct {
	UserID string `json:"user_id"`
}

// WebhookActor is the webhook-initiated variant. Sender identifies the
// external account the upstream platform attributed the event to.
type WebhookActor struct {
	Source         string        `json:"source"`
	Event          string        `json:"event"`
	Action         string        `json:"action,omitempty"`
	Sender         WebhookSender `json:"sender"`
	InstallationID int64         `json:"installation_id,omitempty"`
}

// WebhookSender is the upstream account that triggered a webhook delivery.
type WebhookSender struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// NewUserActor builds the user variant.
func NewUserActor(userID string) *Actor {
	return &Actor{Kind: ActorUser, User: &UserActor{UserID: userID}}
}

// NewWebhookActor builds the webhook variant.
func NewWebhookActor(w WebhookActor) *Actor {
	return &Actor{Kind: ActorWebhook, Webhook: &w}
}

// Validate checks that the union is well-formed: the variant matching Kind
// is present and the other is absent.
func (a *Actor) Validate() error {
	switch a.Kind {
	case ActorUser:
		if a.User == nil || a.Webhook != nil {
			return fmt.Errorf("model: user actor requires user variant only")
		}
		if a.User.UserID == "" {
			return fmt.Errorf("model: user actor requires user_id")
		}
	case ActorWebhook:
		if a.Webhook == nil || a.User != nil {
			return fmt.Errorf("model: webhook actor requires webhook variant only")
		}
		if a.Webhook.Sender.Login == "" {
			return fmt.Errorf("model: webhook actor requires sender login")
		}
	default:
		return fmt.Errorf("model: unknown actor kind %q", a.Kind)
	}
	return nil
}

// UnmarshalJSON enforces union well-formedness on decode.
func (a *Actor) UnmarshalJSON(data []byte) error {
	type alias Actor
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Actor(raw)
	return a.Validate()
}
