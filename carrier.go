package onboard

import (
	"context"
	"errors"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// RegistrationCarrier is the per-flow state threaded across the registration
// pages. The calling layer persists it between requests through a CarrierStore.
type RegistrationCarrier struct {
	Code            string     `json:"code"`
	Email           string     `json:"email"`
	TelephoneNumber string     `json:"telephone_number,omitempty"`
	UserExternalID  string     `json:"user_external_id,omitempty"`
	Recovered       *Recovered `json:"recovered,omitempty"`
}

// Recovered holds the values and field errors of a rejected submission.
type Recovered struct {
	Values map[string]string `json:"values,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// NewRegistrationCarrier starts a fresh flow for an invite.
func NewRegistrationCarrier(invite *Invite) *RegistrationCarrier {
	if invite == nil {
		return &RegistrationCarrier{}
	}
	return &RegistrationCarrier{
		Code:  invite.Code,
		Email: invite.Email,
	}
}

// Validate checks the fields every step after the first depends on.
func (c *RegistrationCarrier) Validate() error {
	if c == nil {
		return ErrCarrierMissing
	}
	err := validation.ValidateStruct(c,
		validation.Field(&c.Code, validation.Required),
		validation.Field(&c.Email, validation.Required, is.Email),
	)
	if err != nil {
		return withMeta(ErrCarrierMissing, map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
	}
	return nil
}

// Clone returns a copy safe to mutate.
func (c *RegistrationCarrier) Clone() *RegistrationCarrier {
	if c == nil {
		return nil
	}
	out := *c
	if c.Recovered != nil {
		out.Recovered = &Recovered{
			Values: copyStrings(c.Recovered.Values),
			Errors: copyStrings(c.Recovered.Errors),
		}
	}
	return &out
}

func (c *RegistrationCarrier) withRecovered(values, errs map[string]string) *RegistrationCarrier {
	out := c.Clone()
	out.Recovered = &Recovered{Values: values, Errors: errs}
	return out
}

func (c *RegistrationCarrier) cleared() *RegistrationCarrier {
	out := c.Clone()
	out.Recovered = nil
	return out
}

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// FormatValidationErrorToMap flattens ozzo validation errors into field → message.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// MemoryCarrierStore keeps carriers in process memory with a TTL.
type MemoryCarrierStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     Clock
	entries map[string]memoryCarrierEntry
}

type memoryCarrierEntry struct {
	carrier   *RegistrationCarrier
	expiresAt time.Time
}

// NewMemoryCarrierStore returns an in-memory CarrierStore.
func NewMemoryCarrierStore(ttl time.Duration, now Clock) *MemoryCarrierStore {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	return &MemoryCarrierStore{
		ttl:     ttl,
		now:     now,
		entries: map[string]memoryCarrierEntry{},
	}
}

var _ CarrierStore = (*MemoryCarrierStore)(nil)

// Read returns nil, nil when no carrier is stored under key.
func (s *MemoryCarrierStore) Read(_ context.Context, key string) (*RegistrationCarrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry.carrier.Clone(), nil
}

func (s *MemoryCarrierStore) Write(_ context.Context, key string, carrier *RegistrationCarrier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if carrier == nil {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = memoryCarrierEntry{
		carrier:   carrier.Clone(),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryCarrierStore) Destroy(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
