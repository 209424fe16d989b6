package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"
)

// ErrRoleNotPermitted is returned when the upstream accepted the credentials
// but the account role does not match the scheme being tried.
var ErrRoleNotPermitted = errors.New("authz: account role not permitted")

const (
	msgLoginFailed   = "Login failed"
	msgRoleForbidden = "This account cannot sign in to the console"
)

// StepError describes why one negotiation step failed.
type StepError struct {
	Scheme  Kind
	Message string
	Err     error
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s login: %s", e.Scheme, e.Message)
}

func (e StepError) Unwrap() error {
	return e.Err
}

// LoginObserver is notified of every step outcome.
type LoginObserver func(scheme Kind, ok bool)

// Negotiator resolves an email/password submission into exactly one
// authenticated identity by trying the administrator scheme first and the
// staff scheme second.
type Negotiator struct {
	store    *Store
	gateway  Gateway
	activity ActivityStore
	clock    clock.PassiveClock
	logger   *slog.Logger
	observe  LoginObserver
}

// NegotiatorOption customises a Negotiator.
type NegotiatorOption func(*Negotiator)

// WithNegotiatorClock overrides the clock used to stamp activity.
func WithNegotiatorClock(c clock.PassiveClock) NegotiatorOption {
	return func(n *Negotiator) { n.clock = c }
}

// WithLoginObserver installs a step outcome hook.
func WithLoginObserver(fn LoginObserver) NegotiatorOption {
	return func(n *Negotiator) { n.observe = fn }
}

// NewNegotiator builds a Negotiator committing into store.
func NewNegotiator(store *Store, gateway Gateway, activity ActivityStore, logger *slog.Logger, opts ...NegotiatorOption) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Negotiator{
		store:    store,
		gateway:  gateway,
		activity: activity,
		clock:    clock.RealClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type loginStep struct {
	scheme Kind
	run    func(ctx context.Context, attempt *credentialAttempt) (Identity, error)
}

// credentialAttempt memoizes a successful upstream login so the staff step
// does not post the same credentials twice.
type credentialAttempt struct {
	email    string
	password string
	user     User
	opened   bool
}

func (a *credentialAttempt) login(ctx context.Context, gw Gateway) (User, error) {
	if a.opened {
		return a.user, nil
	}
	user, err := gw.Login(ctx, a.email, a.password)
	if err != nil {
		return User{}, err
	}
	a.user = user
	a.opened = true
	return user, nil
}

// Negotiate runs the login pipeline. The first successful step commits its
// identity; when every step fails the most recent step error is returned.
func (n *Negotiator) Negotiate(ctx context.Context, email, password string) (Identity, error) {
	attempt := &credentialAttempt{email: email, password: password}
	steps := []loginStep{
		{scheme: KindAdmin, run: n.adminStep},
		{scheme: KindStaff, run: n.staffStep},
	}

	var lastErr error
	for _, step := range steps {
		identity, err := step.run(ctx, attempt)
		if n.observe != nil {
			n.observe(step.scheme, err == nil)
		}
		if err == nil {
			n.stamp(ctx)
			return identity, nil
		}
		lastErr = err
	}

	if attempt.opened {
		// The upstream opened a session for an account neither scheme accepts.
		if err := n.gateway.Logout(ctx); err != nil {
			n.logger.Debug("logout rejected account", slog.Any("error", err))
		}
	}
	return Anonymous(), lastErr
}

func (n *Negotiator) adminStep(ctx context.Context, attempt *credentialAttempt) (Identity, error) {
	n.store.BeginAdminLogin()
	user, err := attempt.login(ctx, n.gateway)
	if err == nil && user.Role != RoleSuperAdmin {
		err = fmt.Errorf("%w: %s", ErrRoleNotPermitted, user.Role)
	}
	if err != nil {
		stepErr := n.stepError(KindAdmin, err)
		n.store.FailAdminLogin(stepErr.Message)
		return Anonymous(), stepErr
	}
	n.store.ClearStaff()
	n.store.SetAdminAuthenticated(user)
	return AdminSession(user), nil
}

func (n *Negotiator) staffStep(ctx context.Context, attempt *credentialAttempt) (Identity, error) {
	n.store.BeginStaffLogin()
	user, err := attempt.login(ctx, n.gateway)
	if err == nil && user.Role != RoleStaff {
		err = fmt.Errorf("%w: %s", ErrRoleNotPermitted, user.Role)
	}
	if err != nil {
		stepErr := n.stepError(KindStaff, err)
		n.store.FailStaffLogin(stepErr.Message)
		return Anonymous(), stepErr
	}
	body, fetchErr := n.gateway.MyPermissions(ctx)
	if fetchErr != nil {
		n.logger.Info("staff permissions unavailable, using default grant",
			slog.String("user_id", user.ID), slog.Any("error", fetchErr))
	}
	grant := Resolve(body, fetchErr)
	n.store.ClearAdmin()
	n.store.SetStaffAuthenticated(user, grant)
	return StaffSession(user, grant), nil
}

func (n *Negotiator) stepError(scheme Kind, err error) StepError {
	msg := MessageOf(err, msgLoginFailed)
	if errors.Is(err, ErrRoleNotPermitted) {
		msg = msgRoleForbidden
	}
	return StepError{Scheme: scheme, Message: msg, Err: err}
}

func (n *Negotiator) stamp(ctx context.Context) {
	if n.activity == nil {
		return
	}
	if err := n.activity.Touch(ctx, n.clock.Now()); err != nil {
		n.logger.Warn("stamp activity after login", slog.Any("error", err))
	}
}
