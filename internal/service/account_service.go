package service

import (
	"context"
	"log/slog"
	"strings"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/repository"

	"golang.org/x/sync/errgroup"
)

// NoEmailDomain forms the sign-in address of accounts registered without
// an email.
const NoEmailDomain = "noemail.local"

const msgInvalidLogin = "Invalid id or password."

// AccountService handles login by user id and account recovery.
type AccountService struct {
	provider    auth.Provider
	profileRepo repository.ProfileRepository
	products    *ProductService
	chats       *ChatService
	log         *slog.Logger
}

// NewAccountService returns a new AccountService.
func NewAccountService(
	provider auth.Provider,
	profileRepo repository.ProfileRepository,
	products *ProductService,
	chats *ChatService,
	log *slog.Logger,
) *AccountService {
	if log == nil {
		log = slog.Default()
	}
	return &AccountService{
		provider:    provider,
		profileRepo: profileRepo,
		products:    products,
		chats:       chats,
		log:         log,
	}
}

// signInEmail resolves the address the auth provider knows the user by.
func signInEmail(p *models.Profile) string {
	switch {
	case p.AuthEmail != "":
		return p.AuthEmail
	case p.Email != "":
		return p.Email
	default:
		return p.LoginID + "@" + NoEmailDomain
	}
}

// Login signs in with the user-chosen id. Unknown ids and wrong passwords
// are indistinguishable to the caller.
func (s *AccountService) Login(ctx context.Context, loginID, password string) (*auth.Session, error) {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" || password == "" {
		return nil, models.NewValidationError("Please enter your id and password.")
	}

	profile, err := s.profileRepo.FindByField(ctx, repository.ProfileLoginID, loginID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, models.NewUnauthorizedError(msgInvalidLogin)
	}

	session, err := s.provider.SignIn(ctx, signInEmail(profile), password)
	if err != nil {
		switch auth.CategoryOf(err) {
		case auth.CategoryInvalidCredentials:
			return nil, models.NewUnauthorizedError(msgInvalidLogin)
		case auth.CategoryRateLimited:
			msg, _ := auth.UserMessage(err)
			return nil, models.NewRateLimitedError(msg)
		case auth.CategoryDisabledFeature, auth.CategoryMisconfiguration:
			msg, _ := auth.UserMessage(err)
			return nil, models.NewForbiddenError(msg)
		}
		s.log.ErrorContext(ctx, "sign in failed", "login_id", loginID, "err", err)
		return nil, err
	}
	return session, nil
}

// Logout revokes the caller's session.
func (s *AccountService) Logout(ctx context.Context) error {
	session := auth.SessionFromContext(ctx)
	if session == nil {
		return models.NewUnauthorizedError("You are not logged in.")
	}
	return s.provider.SignOut(ctx, session)
}

// FindLoginID returns the id registered with email.
func (s *AccountService) FindLoginID(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", models.NewValidationError("Please enter an email address.")
	}
	profile, err := s.profileRepo.FindByField(ctx, repository.ProfileEmail, email)
	if err != nil {
		return "", err
	}
	if profile == nil {
		return "", models.NewNotFoundError("Account", email)
	}
	return profile.LoginID, nil
}

// VerifyUser reports whether a profile with loginID has the given email.
func (s *AccountService) VerifyUser(ctx context.Context, loginID, email string) (bool, error) {
	profile, err := s.matchingProfile(ctx, loginID, email)
	return profile != nil, err
}

func (s *AccountService) matchingProfile(ctx context.Context, loginID, email string) (*models.Profile, error) {
	profile, err := s.profileRepo.FindByField(ctx, repository.ProfileLoginID, strings.TrimSpace(loginID))
	if err != nil || profile == nil {
		return nil, err
	}
	if !strings.EqualFold(profile.Email, strings.TrimSpace(email)) {
		return nil, nil
	}
	return profile, nil
}

// ResetPassword mails a reset link once id and email match one account.
func (s *AccountService) ResetPassword(ctx context.Context, loginID, email string) error {
	profile, err := s.matchingProfile(ctx, loginID, email)
	if err != nil {
		return err
	}
	if profile == nil {
		return models.NewNotFoundError("Account", loginID)
	}
	return s.provider.SendPasswordReset(ctx, signInEmail(profile))
}

// MyPage is everything shown on the caller's own page.
type MyPage struct {
	Profile  *models.Profile   `json:"profile"`
	Products []*models.Product `json:"products"`
	Chats    []ChatSummary     `json:"chats"`
}

// Me loads the caller's profile, listings and chats concurrently.
func (s *AccountService) Me(ctx context.Context) (*MyPage, error) {
	uid, err := callerID(ctx, "see your page")
	if err != nil {
		return nil, err
	}

	page := &MyPage{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := s.profileRepo.Get(gctx, uid)
		if err != nil {
			return err
		}
		if profile == nil {
			return models.NewNotFoundError("Profile", uid)
		}
		page.Profile = profile
		return nil
	})
	g.Go(func() error {
		products, err := s.products.MySales(gctx)
		page.Products = products
		return err
	})
	g.Go(func() error {
		chats, err := s.chats.ListMyChatSummaries(gctx)
		page.Chats = chats
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}
