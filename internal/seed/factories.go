// Package seed provides helpers to create demo data for the marketplace
// database. These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/repository"
	"marketplace/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is given to every generated account.
const DefaultPassword = "Market1!"

// Options configures a Factory.
type Options struct {
	// Password for generated accounts. Must pass validation.ValidatePassword.
	Password string
	// MaxDays spreads created_at timestamps over the last MaxDays days.
	MaxDays int
	// RandSeed makes generated content reproducible when non-zero.
	RandSeed int64
}

// Factory builds marketplace records and persists them through the
// repositories the API uses.
type Factory struct {
	db       *gorm.DB
	opts     Options
	faker    *gofakeit.Faker
	now      func() time.Time
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	products repository.ProductRepository
	chats    repository.ChatRepository

	// counter keeps generated login ids and nicknames unique within a run
	counter int
}

// NewFactory creates a Factory bound to db.
func NewFactory(db *gorm.DB, opts Options) (*Factory, error) {
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if err := validation.ValidatePassword(opts.Password); err != nil {
		return nil, fmt.Errorf("seed password: %w", err)
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		db:       db,
		opts:     opts,
		faker:    gofakeit.New(seed),
		now:      time.Now,
		accounts: repository.NewAccountRepository(db),
		profiles: repository.NewProfileRepository(db),
		products: repository.NewProductRepository(db),
		chats:    repository.NewChatRepository(db),
	}, nil
}

// ProfileSpec describes one account plus its public profile.
type ProfileSpec struct {
	LoginID  string `yaml:"id"`
	Nickname string `yaml:"nickname"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// CreateProfile stores a verified account and the matching profile, as if
// the user had finished signup.
func (f *Factory) CreateProfile(ctx context.Context, spec ProfileSpec) (*models.Profile, error) {
	if err := validation.ValidateID(spec.LoginID); err != nil {
		return nil, fmt.Errorf("profile %q: %w", spec.LoginID, err)
	}
	if err := validation.ValidateNickname(spec.Nickname); err != nil {
		return nil, fmt.Errorf("profile %q: %w", spec.LoginID, err)
	}
	if err := validation.ValidateEmail(spec.Email); err != nil {
		return nil, fmt.Errorf("profile %q: %w", spec.LoginID, err)
	}
	password := spec.Password
	if password == "" {
		password = f.opts.Password
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &models.Account{
		UID:           uuid.NewString(),
		Email:         spec.Email,
		PasswordHash:  string(hash),
		EmailVerified: true,
	}
	if err := f.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("create account %s: %w", spec.Email, err)
	}

	fields := models.ProfileFields{
		LoginID:   spec.LoginID,
		Nickname:  spec.Nickname,
		Email:     spec.Email,
		AuthEmail: spec.Email,
		CreatedAt: f.pastTime(),
	}
	if err := f.profiles.Upsert(ctx, account.UID, fields); err != nil {
		return nil, fmt.Errorf("create profile %s: %w", spec.LoginID, err)
	}
	return f.profiles.Get(ctx, account.UID)
}

// RandomProfile builds a spec with a valid, unique login id and nickname.
func (f *Factory) RandomProfile() ProfileSpec {
	f.counter++
	loginID := strings.ToLower(f.faker.LetterN(5)) + fmt.Sprintf("%03d", f.counter)
	return ProfileSpec{
		LoginID:  loginID,
		Nickname: fmt.Sprintf("%s%d", f.faker.FirstName(), f.counter),
		Email:    loginID + "@example.com",
	}
}

// ProductSpec describes one listing. Images are stored URLs or paths.
type ProductSpec struct {
	Key         string   `yaml:"key"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Price       int64    `yaml:"price"`
	Category    string   `yaml:"category"`
	Seller      string   `yaml:"seller"`
	Images      []string `yaml:"images"`
}

// CreateProduct stores a listing owned by seller.
func (f *Factory) CreateProduct(ctx context.Context, seller *models.Profile, spec ProductSpec) (*models.Product, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, fmt.Errorf("product for %s: title is required", seller.LoginID)
	}
	if !models.IsCategory(spec.Category) {
		return nil, fmt.Errorf("product %q: unknown category %q", spec.Title, spec.Category)
	}
	if spec.Price < 0 {
		return nil, fmt.Errorf("product %q: negative price", spec.Title)
	}
	p := &models.Product{
		Title:       spec.Title,
		Description: spec.Description,
		Price:       spec.Price,
		Category:    spec.Category,
		Images:      models.StringList(spec.Images),
		SellerID:    seller.UID,
		CreatedAt:   f.pastTime().UnixMilli(),
	}
	if p.Images == nil {
		p.Images = models.StringList{}
	}
	if err := f.products.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create product %q: %w", spec.Title, err)
	}
	return p, nil
}

// RandomProduct builds a listing spec in a random category.
func (f *Factory) RandomProduct() ProductSpec {
	images := make([]string, f.faker.Number(1, 3))
	for i := range images {
		images[i] = fmt.Sprintf("https://picsum.photos/seed/%s/800/800", f.faker.UUID())
	}
	return ProductSpec{
		Title:       strings.TrimSuffix(f.faker.Adjective()+" "+f.faker.Noun(), "."),
		Description: f.faker.Paragraph(1, 3, 8, "\n"),
		Price:       int64(f.faker.Number(1, 500)) * 1000,
		Category:    f.faker.RandomString(models.Categories),
		Images:      images,
	}
}

// ChatLine is one message in a seeded conversation.
type ChatLine struct {
	// From is "buyer" or "seller".
	From string `yaml:"from"`
	Text string `yaml:"text"`
}

// CreateChat opens a room between buyer and the product's seller and
// replays lines into it. The recipient of the last line is left with one
// unread message per trailing line they did not send.
func (f *Factory) CreateChat(ctx context.Context, buyer *models.Profile, product *models.Product, lines []ChatLine) (*models.ChatRoom, error) {
	if buyer.UID == product.SellerID {
		return nil, fmt.Errorf("chat on %q: buyer is the seller", product.Title)
	}
	start := f.pastTime()
	room, err := f.chats.CreateRoom(ctx, []string{buyer.UID, product.SellerID}, product.ID, start.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create room for %q: %w", product.Title, err)
	}

	unread := map[string]int{buyer.UID: 0, product.SellerID: 0}
	var last string
	at := start
	for _, line := range lines {
		sender, recipient := buyer.UID, product.SellerID
		switch line.From {
		case "buyer", "":
		case "seller":
			sender, recipient = recipient, sender
		default:
			return nil, fmt.Errorf("chat on %q: unknown sender %q", product.Title, line.From)
		}
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		at = at.Add(time.Duration(f.faker.Number(1, 90)) * time.Minute)
		msg := &models.ChatMessage{RoomID: room.ID, SenderID: sender, Text: text, CreatedAt: at.UnixMilli()}
		if err := f.chats.AppendMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
		unread[recipient]++
		unread[sender] = 0
		last = text
	}

	meta := repository.RoomMeta{LastMessage: last, UpdatedAt: at.UnixMilli(), UnreadCounts: unread}
	if err := f.chats.UpdateRoomMeta(ctx, room.ID, meta); err != nil {
		return nil, err
	}
	return f.chats.GetRoom(ctx, room.ID)
}

// RandomChat builds a short back-and-forth starting with the buyer.
func (f *Factory) RandomChat() []ChatLine {
	lines := make([]ChatLine, f.faker.Number(2, 6))
	for i := range lines {
		from := "buyer"
		if i%2 == 1 {
			from = "seller"
		}
		lines[i] = ChatLine{From: from, Text: f.faker.Sentence(f.faker.Number(3, 10))}
	}
	return lines
}

func (f *Factory) pastTime() time.Time {
	back := time.Duration(f.faker.Number(0, f.opts.MaxDays*24*60)) * time.Minute
	return f.now().Add(-back)
}
