package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/validation"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"google.golang.org/api/option"
)

const defaultSignInEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// FirebaseConfig configures the Firebase backed provider.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// APIKey is the web API key used for password sign-in.
	APIKey         string
	SignInEndpoint string
	HTTPClient     *http.Client
}

// adminClient is the subset of the Firebase Admin auth client in use.
type adminClient interface {
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	EmailVerificationLink(ctx context.Context, email string) (string, error)
	PasswordResetLink(ctx context.Context, email string) (string, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseProvider delegates identity to Firebase Auth. The Admin SDK has
// no password sign-in, so SignIn calls the Identity Toolkit REST endpoint.
// Verification and reset links are generated by Firebase and delivered
// through the configured Mailer.
type FirebaseProvider struct {
	sessionHub

	client adminClient
	mailer Mailer
	cfg    FirebaseConfig
	http   *http.Client
}

// NewFirebaseProvider initialises the Admin SDK from a service account file.
func NewFirebaseProvider(ctx context.Context, cfg FirebaseConfig, mailer Mailer) (*FirebaseProvider, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID},
		option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return newFirebaseProvider(client, cfg, mailer), nil
}

func newFirebaseProvider(client adminClient, cfg FirebaseConfig, mailer Mailer) *FirebaseProvider {
	if cfg.SignInEndpoint == "" {
		cfg.SignInEndpoint = defaultSignInEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseProvider{client: client, mailer: mailer, cfg: cfg, http: httpClient}
}

func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, &Error{Category: CategoryInvalidFormat, Err: err}
	}
	if len(password) < minPasswordLength {
		return nil, newError(CategoryWeakCredential, "password shorter than %d characters", minPasswordLength)
	}
	params := (&fbauth.UserToCreate{}).
		Email(email).
		Password(password).
		EmailVerified(false)
	if _, err := p.client.CreateUser(ctx, params); err != nil {
		return nil, classifyAdminError(err)
	}
	return p.SignIn(ctx, email, password)
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	IDToken   string `json:"idToken"`
	LocalID   string `json:"localId"`
	Email     string `json:"email"`
	ExpiresIn string `json:"expiresIn"`
}

type restError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if p.cfg.APIKey == "" {
		return nil, newError(CategoryMisconfiguration, "firebase api key is not configured")
	}
	body, err := json.Marshal(signInRequest{Email: strings.TrimSpace(email), Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.SignInEndpoint+"?key="+p.cfg.APIKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firebase sign-in: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var re restError
		_ = json.NewDecoder(resp.Body).Decode(&re)
		return nil, classifyRESTError(resp.StatusCode, re.Error.Message)
	}

	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode firebase sign-in: %w", err)
	}
	ttl, _ := strconv.Atoi(out.ExpiresIn)

	user, err := p.client.GetUser(ctx, out.LocalID)
	if err != nil {
		return nil, classifyAdminError(err)
	}
	session := &Session{
		Token:     out.IDToken,
		Identity:  Identity{UID: out.LocalID, Email: out.Email, EmailVerified: user.EmailVerified},
		ExpiresAt: time.Now().Add(time.Duration(ttl) * time.Second),
	}
	p.emit(SessionEvent{Kind: SignedIn, Identity: session.Identity})
	return session, nil
}

func (p *FirebaseProvider) SignOut(ctx context.Context, session *Session) error {
	if session == nil {
		return nil
	}
	if err := p.client.RevokeRefreshTokens(ctx, session.Identity.UID); err != nil {
		return classifyAdminError(err)
	}
	p.emit(SessionEvent{Kind: SignedOut, Identity: session.Identity})
	return nil
}

func (p *FirebaseProvider) SendVerificationEmail(ctx context.Context, identity Identity) error {
	link, err := p.client.EmailVerificationLink(ctx, identity.Email)
	if err != nil {
		return classifyAdminError(err)
	}
	return p.mailer.Send(ctx, verificationMail(identity.Email, link))
}

func (p *FirebaseProvider) RefreshAndCheckVerified(ctx context.Context, identity Identity) (bool, error) {
	user, err := p.client.GetUser(ctx, identity.UID)
	if err != nil {
		return false, classifyAdminError(err)
	}
	return user.EmailVerified, nil
}

func (p *FirebaseProvider) VerifyToken(ctx context.Context, token string) (*Session, error) {
	t, err := p.client.VerifyIDTokenAndCheckRevoked(ctx, token)
	if err != nil {
		return nil, &Error{Category: CategoryInvalidCredentials, Err: err}
	}
	email, _ := t.Claims["email"].(string)
	verified, _ := t.Claims["email_verified"].(bool)
	return &Session{
		Token:     token,
		Identity:  Identity{UID: t.UID, Email: email, EmailVerified: verified},
		ExpiresAt: time.Unix(t.Expires, 0),
	}, nil
}

func (p *FirebaseProvider) SendPasswordReset(ctx context.Context, email string) error {
	link, err := p.client.PasswordResetLink(ctx, strings.TrimSpace(email))
	if err != nil {
		if fbauth.IsUserNotFound(err) {
			return nil
		}
		return classifyAdminError(err)
	}
	return p.mailer.Send(ctx, passwordResetMail(email, link))
}

func classifyAdminError(err error) error {
	switch {
	case err == nil:
		return nil
	case fbauth.IsEmailAlreadyExists(err):
		return &Error{Category: CategoryAlreadyInUse, Err: err}
	case errorutils.IsResourceExhausted(err):
		return &Error{Category: CategoryRateLimited, Err: err}
	case fbauth.IsConfigurationNotFound(err), fbauth.IsProjectNotFound(err),
		errorutils.IsPermissionDenied(err), errorutils.IsUnauthenticated(err):
		return &Error{Category: CategoryMisconfiguration, Err: err}
	case fbauth.IsUserNotFound(err):
		return &Error{Category: CategoryInvalidCredentials, Err: err}
	}
	return err
}

// classifyRESTError maps Identity Toolkit error codes. Messages may carry a
// suffix such as "WEAK_PASSWORD : Password should be at least 6 characters".
func classifyRESTError(status int, message string) error {
	code := strings.TrimSpace(strings.SplitN(message, ":", 2)[0])
	err := fmt.Errorf("firebase rest %d: %s", status, message)
	switch {
	case code == "EMAIL_EXISTS":
		return &Error{Category: CategoryAlreadyInUse, Err: err}
	case code == "INVALID_EMAIL":
		return &Error{Category: CategoryInvalidFormat, Err: err}
	case code == "TOO_MANY_ATTEMPTS_TRY_LATER":
		return &Error{Category: CategoryRateLimited, Err: err}
	case code == "WEAK_PASSWORD":
		return &Error{Category: CategoryWeakCredential, Err: err}
	case code == "OPERATION_NOT_ALLOWED" || code == "PASSWORD_LOGIN_DISABLED":
		return &Error{Category: CategoryDisabledFeature, Err: err}
	case code == "EMAIL_NOT_FOUND" || code == "INVALID_PASSWORD" ||
		code == "INVALID_LOGIN_CREDENTIALS" || code == "USER_DISABLED":
		return &Error{Category: CategoryInvalidCredentials, Err: err}
	case strings.HasPrefix(message, "API key not valid") || code == "CONFIGURATION_NOT_FOUND":
		return &Error{Category: CategoryMisconfiguration, Err: err}
	}
	return err
}
