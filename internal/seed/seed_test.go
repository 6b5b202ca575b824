package seed

import (
	"context"
	"testing"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/repository"
	"marketplace/internal/testutil"
	"marketplace/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newFactory(t *testing.T) (*Factory, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	f, err := NewFactory(db, Options{RandSeed: 42})
	require.NoError(t, err)
	return f, db
}

func TestNewFactoryRejectsWeakPassword(t *testing.T) {
	t.Parallel()
	_, err := NewFactory(testutil.NewTestDB(t), Options{Password: "short"})
	assert.Error(t, err)
}

func TestSeedGeneratesValidRecords(t *testing.T) {
	t.Parallel()
	f, db := newFactory(t)
	ctx := context.Background()

	res, err := f.Seed(ctx, Counts{Profiles: 5, Products: 8, Chats: 4}, testutil.DiscardLogger())
	require.NoError(t, err)
	require.Len(t, res.Profiles, 5)
	require.Len(t, res.Products, 8)
	require.Len(t, res.Rooms, 4)

	for _, p := range res.Profiles {
		assert.NoError(t, validation.ValidateID(p.LoginID), p.LoginID)
		assert.NoError(t, validation.ValidateNickname(p.Nickname))
		assert.NoError(t, validation.ValidateEmail(p.Email))
	}
	for _, p := range res.Products {
		assert.True(t, models.IsCategory(p.Category), p.Category)
		assert.NotEmpty(t, p.Images)
		assert.LessOrEqual(t, p.CreatedAt, time.Now().UnixMilli())
	}

	chats := repository.NewChatRepository(db)
	for _, room := range res.Rooms {
		assert.Len(t, room.Participants(), 2)
		msgs, err := chats.ListMessages(ctx, room.ID)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, last.Text, room.LastMessage)
		assert.Equal(t, last.CreatedAt, room.UpdatedAt)
		assert.Zero(t, room.UnreadCounts()[last.SenderID])
		assert.Positive(t, room.UnreadCounts()[room.Partner(last.SenderID)])
	}
}

func TestSeededAccountsCanSignIn(t *testing.T) {
	t.Parallel()
	f, db := newFactory(t)
	ctx := context.Background()

	p, err := f.CreateProfile(ctx, f.RandomProfile())
	require.NoError(t, err)

	provider := auth.NewLocalProvider(repository.NewAccountRepository(db), nil, auth.LocalConfig{
		Secret:     []byte("seed-test-secret"),
		SessionTTL: time.Hour,
	})
	session, err := provider.SignIn(ctx, p.AuthEmail, DefaultPassword)
	require.NoError(t, err)
	assert.Equal(t, p.UID, session.Identity.UID)
	assert.True(t, session.Identity.EmailVerified)
}

func TestCreateProfileValidates(t *testing.T) {
	t.Parallel()
	f, _ := newFactory(t)

	tests := []struct {
		name string
		spec ProfileSpec
	}{
		{"short id", ProfileSpec{LoginID: "ab1", Nickname: "Nick", Email: "a@example.com"}},
		{"short nickname", ProfileSpec{LoginID: "abcd1", Nickname: "N", Email: "a@example.com"}},
		{"bad email", ProfileSpec{LoginID: "abcd1", Nickname: "Nick", Email: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.CreateProfile(context.Background(), tt.spec)
			assert.Error(t, err)
		})
	}
}

const fixtureYAML = `
profiles:
  - {id: sellerone, nickname: Seller, email: seller@example.com}
  - {id: buyerone, nickname: Buyer, email: buyer@example.com, password: "Other1!x"}
products:
  - key: bike
    title: Bicycle
    description: Barely used
    price: 120000
    category: sports
    seller: sellerone
chats:
  - product: bike
    buyer: buyerone
    messages:
      - {from: buyer, text: Is it still available?}
      - {from: seller, text: Yes}
      - {from: buyer, text: "  Great  "}
`

func TestApplyFixtures(t *testing.T) {
	t.Parallel()
	f, db := newFactory(t)
	ctx := context.Background()

	fx, err := ParseFixtures([]byte(fixtureYAML))
	require.NoError(t, err)
	res, err := f.Apply(ctx, fx)
	require.NoError(t, err)
	require.Len(t, res.Profiles, 2)
	require.Len(t, res.Products, 1)
	require.Len(t, res.Rooms, 1)

	seller, buyer, room := res.Profiles[0], res.Profiles[1], res.Rooms[0]
	assert.Equal(t, seller.UID, res.Products[0].SellerID)
	assert.Equal(t, int64(120000), res.Products[0].Price)
	assert.Equal(t, "Great", room.LastMessage)
	assert.Equal(t, map[string]int{seller.UID: 1, buyer.UID: 0}, room.UnreadCounts())

	msgs, err := repository.NewChatRepository(db).ListMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, seller.UID, msgs[1].SenderID)

	provider := auth.NewLocalProvider(repository.NewAccountRepository(db), nil, auth.LocalConfig{Secret: []byte("s")})
	_, err = provider.SignIn(ctx, "buyer@example.com", "Other1!x")
	assert.NoError(t, err)
}

func TestApplyFixturesRejectsDanglingReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown seller", `
products:
  - {title: Lamp, category: furniture, seller: ghost}
`},
		{"unknown product", `
profiles:
  - {id: buyerone, nickname: Buyer, email: buyer@example.com}
chats:
  - {product: missing, buyer: buyerone}
`},
		{"unknown category", `
profiles:
  - {id: sellerone, nickname: Seller, email: seller@example.com}
products:
  - {title: Lamp, category: lamps, seller: sellerone}
`},
		{"seller chats with self", `
profiles:
  - {id: sellerone, nickname: Seller, email: seller@example.com}
products:
  - {key: lamp, title: Lamp, category: furniture, seller: sellerone}
chats:
  - {product: lamp, buyer: sellerone}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, _ := newFactory(t)
			fx, err := ParseFixtures([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = f.Apply(context.Background(), fx)
			assert.Error(t, err)
		})
	}
}

func TestParseFixturesRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := ParseFixtures([]byte("users:\n  - {id: x}\n"))
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	t.Parallel()
	f, db := newFactory(t)
	ctx := context.Background()

	_, err := f.Seed(ctx, Counts{Profiles: 3, Products: 3, Chats: 2}, testutil.DiscardLogger())
	require.NoError(t, err)
	require.NoError(t, Clean(ctx, db))

	for _, table := range []interface{}{
		&models.Profile{}, &models.Account{}, &models.Product{},
		&models.ChatRoom{}, &models.ChatMember{}, &models.ChatMessage{},
	} {
		var n int64
		require.NoError(t, db.Model(table).Count(&n).Error)
		assert.Zero(t, n, "%T", table)
	}
}
