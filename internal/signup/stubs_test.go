package signup

import (
	"context"
	"errors"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/repository"
)

var errNotStubbed = errors.New("not stubbed")

type providerStub struct {
	createAccountFn func(ctx context.Context, email, password string) (*auth.Session, error)
	sendVerifyFn    func(ctx context.Context, identity auth.Identity) error
	checkVerifiedFn func(ctx context.Context, identity auth.Identity) (bool, error)
	signOutFn       func(ctx context.Context, session *auth.Session) error

	createCalls  int
	sendCalls    int
	signOutCalls int
}

func (p *providerStub) CreateAccount(ctx context.Context, email, password string) (*auth.Session, error) {
	p.createCalls++
	if p.createAccountFn != nil {
		return p.createAccountFn(ctx, email, password)
	}
	return &auth.Session{Token: "tok", Identity: auth.Identity{UID: "uid-1", Email: email}}, nil
}

func (p *providerStub) SignIn(context.Context, string, string) (*auth.Session, error) {
	return nil, errNotStubbed
}

func (p *providerStub) SignOut(ctx context.Context, session *auth.Session) error {
	p.signOutCalls++
	if p.signOutFn != nil {
		return p.signOutFn(ctx, session)
	}
	return nil
}

func (p *providerStub) SendVerificationEmail(ctx context.Context, identity auth.Identity) error {
	p.sendCalls++
	if p.sendVerifyFn != nil {
		return p.sendVerifyFn(ctx, identity)
	}
	return nil
}

func (p *providerStub) RefreshAndCheckVerified(ctx context.Context, identity auth.Identity) (bool, error) {
	if p.checkVerifiedFn != nil {
		return p.checkVerifiedFn(ctx, identity)
	}
	return true, nil
}

func (p *providerStub) CurrentSession(ctx context.Context) *auth.Session {
	return auth.SessionFromContext(ctx)
}

func (p *providerStub) OnSessionChange(func(auth.SessionEvent)) func() { return func() {} }

func (p *providerStub) VerifyToken(context.Context, string) (*auth.Session, error) {
	return nil, errNotStubbed
}

func (p *providerStub) SendPasswordReset(context.Context, string) error { return nil }

type profileStoreStub struct {
	findByFieldFn func(ctx context.Context, field repository.ProfileField, value string) (*models.Profile, error)
	upsertFn      func(ctx context.Context, uid string, fields models.ProfileFields) error

	lookups     []repository.ProfileField
	upsertCalls int
}

func (s *profileStoreStub) FindByField(ctx context.Context, field repository.ProfileField, value string) (*models.Profile, error) {
	s.lookups = append(s.lookups, field)
	if s.findByFieldFn != nil {
		return s.findByFieldFn(ctx, field, value)
	}
	return nil, nil
}

func (s *profileStoreStub) Upsert(ctx context.Context, uid string, fields models.ProfileFields) error {
	s.upsertCalls++
	if s.upsertFn != nil {
		return s.upsertFn(ctx, uid, fields)
	}
	return nil
}
