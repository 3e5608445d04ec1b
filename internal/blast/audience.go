package blast

import (
	"context"
	"regexp"

	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/suppression"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether an address is shaped like an email.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Excluded breaks down why matched recipients were dropped. Exclusion
// happens server side so a stale client list can never widen a blast.
type Excluded struct {
	Suppressed   int `json:"suppressed"`
	InvalidEmail int `json:"invalidEmail"`
	NoEmail      int `json:"noEmail"`
	DoNotEmail   int `json:"doNotEmail"`
	Duplicates   int `json:"duplicates"`
	Paused       int `json:"paused"`
}

// Total is every exclusion added up.
func (e Excluded) Total() int {
	return e.Suppressed + e.InvalidEmail + e.NoEmail + e.DoNotEmail + e.Duplicates + e.Paused
}

// Entry is one resolved recipient with its merge source attached.
type Entry struct {
	Email   string
	Contact *contacts.Contact
	Realtor *contacts.Realtor
}

// Resolution is the outcome of audience resolution.
type Resolution struct {
	Recipients   []Entry
	Excluded     Excluded
	TotalMatched int
}

// Resolver snapshots blast audiences.
type Resolver struct {
	contactStore *contacts.Store
	suppressions *suppression.Store
}

// NewResolver creates an audience resolver.
func NewResolver(contactStore *contacts.Store, suppressions *suppression.Store) *Resolver {
	return &Resolver{contactStore: contactStore, suppressions: suppressions}
}

// ResolveContacts loads the contacts matching the filter and applies
// exclusions: missing or malformed addresses, do-not-email, paused
// contacts, suppressed addresses, then duplicates by normalized email.
func (r *Resolver) ResolveContacts(ctx context.Context, companyID string, f contacts.Filter) (*Resolution, error) {
	matched, err := r.contactStore.ListContacts(ctx, companyID, f)
	if err != nil {
		return nil, err
	}
	suppressed, err := r.suppressions.EmailSet(ctx, companyID)
	if err != nil {
		return nil, err
	}

	res := &Resolution{TotalMatched: len(matched)}
	seen := make(map[string]struct{}, len(matched))
	for _, c := range matched {
		email := contacts.NormalizeEmail(c.Email)
		switch {
		case email == "":
			res.Excluded.NoEmail++
		case !ValidEmail(email):
			res.Excluded.InvalidEmail++
		case c.DoNotEmail:
			res.Excluded.DoNotEmail++
		case c.Paused:
			res.Excluded.Paused++
		default:
			if _, ok := suppressed[email]; ok {
				res.Excluded.Suppressed++
				continue
			}
			if _, ok := seen[email]; ok {
				res.Excluded.Duplicates++
				continue
			}
			seen[email] = struct{}{}
			res.Recipients = append(res.Recipients, Entry{Email: email, Contact: c})
		}
	}
	return res, nil
}

// ResolveRealtors is the realtor-audience counterpart.
func (r *Resolver) ResolveRealtors(ctx context.Context, companyID string) (*Resolution, error) {
	matched, err := r.contactStore.ListRealtors(ctx, companyID)
	if err != nil {
		return nil, err
	}
	suppressed, err := r.suppressions.EmailSet(ctx, companyID)
	if err != nil {
		return nil, err
	}

	res := &Resolution{TotalMatched: len(matched)}
	seen := make(map[string]struct{}, len(matched))
	for _, rt := range matched {
		email := contacts.NormalizeEmail(rt.Email)
		switch {
		case email == "":
			res.Excluded.NoEmail++
		case !ValidEmail(email):
			res.Excluded.InvalidEmail++
		case rt.Paused:
			res.Excluded.Paused++
		default:
			if _, ok := suppressed[email]; ok {
				res.Excluded.Suppressed++
				continue
			}
			if _, ok := seen[email]; ok {
				res.Excluded.Duplicates++
				continue
			}
			seen[email] = struct{}{}
			res.Recipients = append(res.Recipients, Entry{Email: email, Realtor: rt})
		}
	}
	return res, nil
}
