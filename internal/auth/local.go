package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/repository"
	"marketplace/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer   = "marketplace-api"
	tokenAudience = "marketplace-client"

	purposeSession = "session"
	purposeVerify  = "verify-email"
	purposeReset   = "reset-password"

	verifyTTL = 24 * time.Hour
	resetTTL  = time.Hour

	minPasswordLength = 6
)

// LocalConfig configures the self-hosted provider.
type LocalConfig struct {
	Secret        []byte
	SessionTTL    time.Duration
	SignupEnabled bool
	// BaseURL prefixes the links sent by mail.
	BaseURL string
	// ResendInterval throttles verification mails per account.
	ResendInterval time.Duration
}

type claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	Epoch   int    `json:"epoch"`
	jwt.RegisteredClaims
}

// LocalProvider stores accounts in the database, hashes passwords with
// bcrypt and issues HS256 session tokens. Signing out bumps the account's
// session epoch, which invalidates every token issued before.
type LocalProvider struct {
	sessionHub

	accounts repository.AccountRepository
	mailer   Mailer
	cfg      LocalConfig
	now      func() time.Time

	mu       sync.Mutex
	lastMail map[string]time.Time
}

// NewLocalProvider creates a provider over the given account store.
func NewLocalProvider(accounts repository.AccountRepository, mailer Mailer, cfg LocalConfig) *LocalProvider {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 72 * time.Hour
	}
	return &LocalProvider{
		accounts: accounts,
		mailer:   mailer,
		cfg:      cfg,
		now:      time.Now,
		lastMail: make(map[string]time.Time),
	}
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	if !p.cfg.SignupEnabled {
		return nil, newError(CategoryDisabledFeature, "email sign-up is disabled")
	}
	if len(p.cfg.Secret) == 0 {
		return nil, newError(CategoryMisconfiguration, "token secret is not configured")
	}
	email = strings.TrimSpace(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, &Error{Category: CategoryInvalidFormat, Err: err}
	}
	if len(password) < minPasswordLength {
		return nil, newError(CategoryWeakCredential, "password shorter than %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &models.Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		if models.ErrorCode(err) == models.CodeConflict {
			return nil, &Error{Category: CategoryAlreadyInUse, Err: err}
		}
		return nil, err
	}

	session, err := p.issueSession(account)
	if err != nil {
		return nil, err
	}
	p.emit(SessionEvent{Kind: SignedIn, Identity: session.Identity})
	return session, nil
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	account, err := p.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if account == nil || account.Disabled {
		return nil, newError(CategoryInvalidCredentials, "unknown or disabled account")
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, newError(CategoryInvalidCredentials, "password mismatch")
	}

	session, err := p.issueSession(account)
	if err != nil {
		return nil, err
	}
	p.emit(SessionEvent{Kind: SignedIn, Identity: session.Identity})
	return session, nil
}

func (p *LocalProvider) SignOut(ctx context.Context, session *Session) error {
	if session == nil {
		return nil
	}
	if err := p.accounts.BumpSessionEpoch(ctx, session.Identity.UID); err != nil {
		return err
	}
	p.emit(SessionEvent{Kind: SignedOut, Identity: session.Identity})
	return nil
}

func (p *LocalProvider) SendVerificationEmail(ctx context.Context, identity Identity) error {
	if err := p.throttle(identity.UID); err != nil {
		return err
	}
	token, err := p.sign(claims{Email: identity.Email, Purpose: purposeVerify}, identity.UID, verifyTTL)
	if err != nil {
		return err
	}
	link := p.cfg.BaseURL + "/api/auth/verify-email?token=" + url.QueryEscape(token)
	return p.mailer.Send(ctx, verificationMail(identity.Email, link))
}

// ConfirmEmail marks the account behind a verification token as verified.
func (p *LocalProvider) ConfirmEmail(ctx context.Context, token string) error {
	c, err := p.parse(token, purposeVerify)
	if err != nil {
		return err
	}
	return p.accounts.MarkVerified(ctx, c.Subject)
}

func (p *LocalProvider) RefreshAndCheckVerified(ctx context.Context, identity Identity) (bool, error) {
	account, err := p.accounts.GetByUID(ctx, identity.UID)
	if err != nil {
		return false, err
	}
	if account == nil {
		return false, models.NewNotFoundError("Account", identity.UID)
	}
	return account.EmailVerified, nil
}

func (p *LocalProvider) VerifyToken(ctx context.Context, token string) (*Session, error) {
	c, err := p.parse(token, purposeSession)
	if err != nil {
		return nil, err
	}
	account, err := p.accounts.GetByUID(ctx, c.Subject)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Disabled || account.SessionEpoch != c.Epoch {
		return nil, newError(CategoryInvalidCredentials, "session revoked")
	}
	return &Session{
		Token:     token,
		Identity:  identityOf(account),
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// SendPasswordReset mails a reset link. Unknown addresses succeed silently.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	account, err := p.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil || account == nil {
		return err
	}
	if err := p.throttle("reset:" + account.UID); err != nil {
		return err
	}
	token, err := p.sign(claims{Email: account.Email, Purpose: purposeReset, Epoch: account.SessionEpoch}, account.UID, resetTTL)
	if err != nil {
		return err
	}
	link := p.cfg.BaseURL + "/reset-password?token=" + url.QueryEscape(token)
	return p.mailer.Send(ctx, passwordResetMail(account.Email, link))
}

// ResetPassword sets a new password from a reset token and revokes sessions.
func (p *LocalProvider) ResetPassword(ctx context.Context, token, newPassword string) error {
	c, err := p.parse(token, purposeReset)
	if err != nil {
		return err
	}
	if err := validation.ValidatePassword(newPassword); err != nil {
		return &Error{Category: CategoryWeakCredential, Err: err}
	}
	account, err := p.accounts.GetByUID(ctx, c.Subject)
	if err != nil {
		return err
	}
	if account == nil || account.SessionEpoch != c.Epoch {
		return newError(CategoryInvalidCredentials, "reset link already used")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := p.accounts.UpdatePassword(ctx, account.UID, string(hash)); err != nil {
		return err
	}
	return p.accounts.BumpSessionEpoch(ctx, account.UID)
}

func (p *LocalProvider) throttle(key string) error {
	if p.cfg.ResendInterval <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if last, ok := p.lastMail[key]; ok && now.Sub(last) < p.cfg.ResendInterval {
		return newError(CategoryRateLimited, "mail sent %s ago", now.Sub(last).Round(time.Second))
	}
	p.lastMail[key] = now
	return nil
}

func (p *LocalProvider) issueSession(account *models.Account) (*Session, error) {
	token, err := p.sign(claims{Email: account.Email, Purpose: purposeSession, Epoch: account.SessionEpoch}, account.UID, p.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		Identity:  identityOf(account),
		ExpiresAt: p.now().Add(p.cfg.SessionTTL),
	}, nil
}

func (p *LocalProvider) sign(c claims, subject string, ttl time.Duration) (string, error) {
	if len(p.cfg.Secret) == 0 {
		return "", newError(CategoryMisconfiguration, "token secret is not configured")
	}
	now := p.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.cfg.Secret)
}

func (p *LocalProvider) parse(token, purpose string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.cfg.Secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, &Error{Category: CategoryInvalidCredentials, Err: err}
	}
	if c.Purpose != purpose {
		return nil, &Error{Category: CategoryInvalidCredentials, Err: errors.New("token purpose mismatch")}
	}
	return &c, nil
}

func identityOf(a *models.Account) Identity {
	return Identity{UID: a.UID, Email: a.Email, EmailVerified: a.EmailVerified}
}
