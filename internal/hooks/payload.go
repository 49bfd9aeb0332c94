package hooks

import (
	"fmt"

	"github.com/google/go-github/v68/github"
)

// ParsePayload decodes a raw webhook body into the typed payload for its
// event kind and checks the minimal fields the routers depend on. Events
// outside the supported set are rejected at ingress.
func ParsePayload(event string, body []byte) (any, error) {
	payload, err := github.ParseWebHook(event, body)
	if err != nil {
		return nil, fmt.Errorf("hooks: parse %s payload: %w", event, err)
	}
	if err := validatePayload(event, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// validatePayload enforces the minimal required fields per event kind.
func validatePayload(event string, payload any) error {
	switch p := payload.(type) {
	case *github.IssuesEvent:
		if p.GetAction() == "" {
			return fmt.Errorf("hooks: issues payload missing action")
		}
		if p.GetRepo().GetFullName() == "" {
			return fmt.Errorf("hooks: issues payload missing repository.full_name")
		}
		if p.GetIssue().GetNumber() == 0 {
			return fmt.Errorf("hooks: issues payload missing issue.number")
		}
		if p.GetSender().GetLogin() == "" {
			return fmt.Errorf("hooks: issues payload missing sender.login")
		}
	case *github.PullRequestEvent:
		if p.GetAction() == "" {
			return fmt.Errorf("hooks: pull_request payload missing action")
		}
		if p.GetRepo().GetName() == "" {
			return fmt.Errorf("hooks: pull_request payload missing repository.name")
		}
		if p.GetRepo().GetOwner().GetLogin() == "" {
			return fmt.Errorf("hooks: pull_request payload missing repository.owner.login")
		}
	case *github.PushEvent:
		if p.GetRef() == "" {
			return fmt.Errorf("hooks: push payload missing ref")
		}
		if p.GetRepo().GetFullName() == "" {
			return fmt.Errorf("hooks: push payload missing repository.full_name")
		}
	default:
		return fmt.Errorf("hooks: unsupported event %q", event)
	}
	return nil
}
