// Package session tracks which exporter, if any, is signed in. Export
// packaging asks it before releasing documents.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/otherjamesbrown/tradedoc-cli/credentials"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// ErrAuthenticationRequired is returned by gated operations when nobody is signed in.
var ErrAuthenticationRequired = fmt.Errorf("exporter sign-in required: %w", tderrors.ErrUnauthorized)

// Identity reports the signed-in exporter and can ask the user to sign in.
type Identity interface {
	// Current returns the signed-in profile, or false when anonymous.
	Current() (*shipment.ExporterProfile, bool)
	// RequestAuthentication prompts for sign-in. It does not block for the result.
	RequestAuthentication(ctx context.Context) error
}

// Authenticator is an Identity whose state can be toggled.
type Authenticator interface {
	Identity
	Login(profile shipment.ExporterProfile) error
	Logout() error
}

func validateProfile(p shipment.ExporterProfile) error {
	if strings.TrimSpace(p.CompanyName) == "" {
		return fmt.Errorf("company name is required: %w", tderrors.ErrValidation)
	}
	return nil
}

// StaticIdentity keeps the profile in memory. It backs `tradedoc serve`.
type StaticIdentity struct {
	mu       sync.RWMutex
	profile  *shipment.ExporterProfile
	requests int
	logger   logging.Logger
}

// NewStaticIdentity returns an identity signed in as profile, or anonymous when profile is nil.
func NewStaticIdentity(profile *shipment.ExporterProfile, logger logging.Logger) *StaticIdentity {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	s := &StaticIdentity{logger: logger.With(logging.F("component", "session"))}
	if profile != nil {
		p := *profile
		s.profile = &p
	}
	return s
}

// Current implements Identity.
func (s *StaticIdentity) Current() (*shipment.ExporterProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, false
	}
	p := *s.profile
	return &p, true
}

// RequestAuthentication records the request. Clients learn about it from the 401 response.
func (s *StaticIdentity) RequestAuthentication(ctx context.Context) error {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	s.logger.WithContext(ctx).Info("Sign-in requested")
	return nil
}

// Requests returns how many times sign-in was requested.
func (s *StaticIdentity) Requests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

// Login signs in as profile.
func (s *StaticIdentity) Login(profile shipment.ExporterProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile = &profile
	s.mu.Unlock()
	s.logger.Info("Signed in", logging.F("company", profile.CompanyName))
	return nil
}

// Logout returns to the anonymous state.
func (s *StaticIdentity) Logout() error {
	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
	s.logger.Info("Signed out")
	return nil
}

// CredentialStore is the subset of credentials.Store used by CredentialIdentity.
type CredentialStore interface {
	Exporter() (*shipment.ExporterProfile, error)
	SignIn(profile shipment.ExporterProfile) error
	SignOut() error
}

var _ CredentialStore = (*credentials.Store)(nil)

// CredentialIdentity reads the signed-in exporter from the encrypted credentials file.
type CredentialIdentity struct {
	store  CredentialStore
	prompt func(ctx context.Context) error
	logger logging.Logger
}

// CredentialOption configures a CredentialIdentity.
type CredentialOption func(*CredentialIdentity)

// WithPrompt sets what RequestAuthentication does, such as printing a login hint.
func WithPrompt(fn func(ctx context.Context) error) CredentialOption {
	return func(c *CredentialIdentity) {
		c.prompt = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) CredentialOption {
	return func(c *CredentialIdentity) {
		c.logger = logger
	}
}

// NewCredentialIdentity wraps store.
func NewCredentialIdentity(store CredentialStore, opts ...CredentialOption) *CredentialIdentity {
	c := &CredentialIdentity{
		store:  store,
		logger: logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "session"))
	return c
}

// Current implements Identity. Unreadable credentials count as anonymous.
func (c *CredentialIdentity) Current() (*shipment.ExporterProfile, bool) {
	p, err := c.store.Exporter()
	if err != nil {
		if !errors.Is(err, credentials.ErrNotSignedIn) {
			c.logger.Warn("Failed to read credentials", logging.Err(err))
		}
		return nil, false
	}
	return p, true
}

// RequestAuthentication runs the configured prompt.
func (c *CredentialIdentity) RequestAuthentication(ctx context.Context) error {
	c.logger.WithContext(ctx).Debug("Sign-in requested")
	if c.prompt == nil {
		return nil
	}
	return c.prompt(ctx)
}

// Login persists profile as the signed-in exporter.
func (c *CredentialIdentity) Login(profile shipment.ExporterProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	return c.store.SignIn(profile)
}

// Logout forgets the stored profile.
func (c *CredentialIdentity) Logout() error {
	return c.store.SignOut()
}
