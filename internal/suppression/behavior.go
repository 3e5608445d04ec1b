package suppression

import (
	"context"
	"fmt"

	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/settings"
)

// statusNotInterested is written by the set_not_interested behavior.
const statusNotInterested = "Not-Interested"

// unsubscribedTag is appended by the tag_unsubscribed behavior.
const unsubscribedTag = "Unsubscribed"

// ContactMutator is the slice of the contact store the unsubscribe
// flow needs.
type ContactMutator interface {
	FindContactByEmail(ctx context.Context, companyID, email string) (*contacts.Contact, error)
	SetDoNotEmail(ctx context.Context, contactID string, v bool) error
	SetStatus(ctx context.Context, contactID, status string) error
	AddTag(ctx context.Context, contactID, tag string) error
}

// Applier runs a company's configured unsubscribe behavior.
type Applier struct {
	store    *Store
	contacts ContactMutator
}

// NewApplier creates an unsubscribe applier.
func NewApplier(store *Store, contactStore ContactMutator) *Applier {
	return &Applier{store: store, contacts: contactStore}
}

// Apply records the opt-out. The suppression row is always written,
// whether or not a matching contact exists; the contact mutation
// depends on the company's configured behavior.
func (a *Applier) Apply(ctx context.Context, s *settings.Settings, companyID, email, source string) error {
	if err := a.store.Add(ctx, companyID, email, ReasonUnsubscribe, source); err != nil {
		return err
	}

	contact, err := a.contacts.FindContactByEmail(ctx, companyID, email)
	if err != nil {
		return err
	}
	if contact == nil {
		logger.Info("unsubscribe applied without contact",
			"companyId", companyID, "email", email)
		return nil
	}

	behavior := s.UnsubscribeBehavior
	if behavior == "" {
		behavior = settings.BehaviorDoNotEmail
	}

	switch behavior {
	case settings.BehaviorDoNotEmail:
		if err := a.contacts.SetDoNotEmail(ctx, contact.ID, true); err != nil {
			return err
		}
	case settings.BehaviorSetNotInterested:
		if err := a.contacts.SetDoNotEmail(ctx, contact.ID, true); err != nil {
			return err
		}
		if err := a.contacts.SetStatus(ctx, contact.ID, statusNotInterested); err != nil {
			return err
		}
	case settings.BehaviorTagUnsubscribed:
		if err := a.contacts.SetDoNotEmail(ctx, contact.ID, true); err != nil {
			return err
		}
		if err := a.contacts.AddTag(ctx, contact.ID, unsubscribedTag); err != nil {
			return err
		}
	default:
		return fmt.Errorf("suppression: unknown unsubscribe behavior %q", behavior)
	}

	logger.Info("unsubscribe applied",
		"companyId", companyID, "email", email, "behavior", behavior)
	return nil
}
