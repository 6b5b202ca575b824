package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/featureflags"
	"marketplace/internal/models"
	"marketplace/internal/notifications"
	"marketplace/internal/repository"
	"marketplace/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func asUser(uid string) context.Context {
	return auth.WithSession(context.Background(), &auth.Session{
		Token:    "token-" + uid,
		Identity: auth.Identity{UID: uid, Email: uid + "@example.com", EmailVerified: true},
	})
}

type fixture struct {
	db       *gorm.DB
	chats    repository.ChatRepository
	products repository.ProductRepository
	profiles repository.ProfileRepository
	broker   *notifications.MemoryBroker
	notifier *notifications.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	broker := notifications.NewMemoryBroker()
	return &fixture{
		db:       db,
		chats:    repository.NewChatRepository(db),
		products: repository.NewProductRepository(db),
		profiles: repository.NewProfileRepository(db),
		broker:   broker,
		notifier: notifications.NewNotifier(broker),
	}
}

func (f *fixture) chatService(flags string) *ChatService {
	svc := NewChatService(f.chats, f.products, f.profiles, f.notifier, featureflags.NewManager(flags), testutil.DiscardLogger())
	var mu sync.Mutex
	clock := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return svc
}

func (f *fixture) addProfile(t *testing.T, uid, loginID, nickname, email string) {
	t.Helper()
	require.NoError(t, f.profiles.Upsert(context.Background(), uid, models.ProfileFields{
		LoginID:   loginID,
		Nickname:  nickname,
		Email:     email,
		AuthEmail: email,
		CreatedAt: time.Now(),
	}))
}

func (f *fixture) addProduct(t *testing.T, sellerID, title, category string, createdAt int64) *models.Product {
	t.Helper()
	p := &models.Product{
		Title:       title,
		Description: title + " in good condition",
		Price:       1000,
		Category:    category,
		SellerID:    sellerID,
		CreatedAt:   createdAt,
	}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

var errNotStubbed = errors.New("not stubbed")

type providerStub struct {
	signInFn        func(ctx context.Context, email, password string) (*auth.Session, error)
	signOutFn       func(ctx context.Context, session *auth.Session) error
	passwordResetFn func(ctx context.Context, email string) error
}

func (p *providerStub) CreateAccount(context.Context, string, string) (*auth.Session, error) {
	return nil, errNotStubbed
}

func (p *providerStub) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	return p.signInFn(ctx, email, password)
}

func (p *providerStub) SignOut(ctx context.Context, session *auth.Session) error {
	return p.signOutFn(ctx, session)
}

func (p *providerStub) SendVerificationEmail(context.Context, auth.Identity) error {
	return errNotStubbed
}

func (p *providerStub) RefreshAndCheckVerified(context.Context, auth.Identity) (bool, error) {
	return false, errNotStubbed
}

func (p *providerStub) CurrentSession(ctx context.Context) *auth.Session {
	return auth.SessionFromContext(ctx)
}

func (p *providerStub) OnSessionChange(func(auth.SessionEvent)) func() { return func() {} }

func (p *providerStub) VerifyToken(context.Context, string) (*auth.Session, error) {
	return nil, errNotStubbed
}

func (p *providerStub) SendPasswordReset(ctx context.Context, email string) error {
	return p.passwordResetFn(ctx, email)
}
