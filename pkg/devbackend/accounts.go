package devbackend

import (
	"context"
	stderrors "errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const minPasswordLength = 8

// Account is a registered marketplace account
type Account struct {
	ID            uuid.UUID
	FirstName     string
	LastName      string
	Email         string
	Role          string
	Location      string
	Phone         string
	PasswordHash  []byte
	EmailVerified bool
	CreatedAt     time.Time
}

// DisplayName is the name shown for the account
func (a Account) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// AccountRepository stores accounts. Emails are unique.
type AccountRepository interface {
	Create(ctx context.Context, account Account) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (Account, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// InMemoryAccountRepository keeps accounts in memory
type InMemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	byEmail  map[string]uuid.UUID
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	return &InMemoryAccountRepository{
		accounts: make(map[uuid.UUID]Account),
		byEmail:  make(map[string]uuid.UUID),
	}
}

func (r *InMemoryAccountRepository) Create(ctx context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[account.Email]; exists {
		return ErrAccountExists
	}
	r.accounts[account.ID] = account
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *InMemoryAccountRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return r.accounts[id], nil
}

func (r *InMemoryAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (r *InMemoryAccountRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.EmailVerified = true
	r.accounts[id] = account
	return nil
}

// AccountService registers accounts
type AccountService struct {
	repo       AccountRepository
	bcryptCost int
	clock      func() time.Time
}

// AccountOption configures an AccountService
type AccountOption func(*AccountService)

// WithBcryptCost sets the password hashing cost
func WithBcryptCost(cost int) AccountOption {
	return func(s *AccountService) {
		s.bcryptCost = cost
	}
}

func NewAccountService(repo AccountRepository, opts ...AccountOption) *AccountService {
	s := &AccountService{
		repo:       repo,
		bcryptCost: bcrypt.DefaultCost,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateAccount(req api.CreateAccountRequest) error {
	for _, r := range []struct{ field, label, value string }{
		{"first_name", "First name", req.FirstName},
		{"last_name", "Last name", req.LastName},
		{"email", "Email", req.Email},
		{"password", "Password", req.Password},
		{"role", "Role", req.Role},
	} {
		if strings.TrimSpace(r.value) == "" {
			return errors.MissingRequired(r.field, r.label)
		}
	}
	if !emailRegex.MatchString(strings.TrimSpace(req.Email)) {
		return errors.Validation("email", "Enter a valid email address.")
	}
	if len(req.Password) < minPasswordLength {
		return errors.Validation("password", "Password must be at least 8 characters.")
	}
	if req.Role != "client" && req.Role != "freelancer" {
		return errors.Validation("role", "Role must be client or freelancer.")
	}
	return nil
}

// Create registers a new account. A taken email fails with ErrCodeConflict.
func (s *AccountService) Create(ctx context.Context, req api.CreateAccountRequest) (Account, error) {
	if err := validateAccount(req); err != nil {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return Account{}, errors.InternalWrap(err, "failed to hash password")
	}

	account := Account{
		ID:           uuid.New(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        normalizeEmail(req.Email),
		Role:         req.Role,
		Location:     strings.TrimSpace(req.Location),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if stderrors.Is(err, ErrAccountExists) {
			slog.Info("Duplicate account rejected", "email", account.Email)
			return Account{}, errors.Conflict("email", "An account with this email already exists.")
		}
		slog.Error("Failed to create account", "email", account.Email, "err", err)
		return Account{}, errors.InternalWrap(err, "failed to create account")
	}

	slog.Info("Account created", "id", account.ID, "role", account.Role)
	return account, nil
}

// FindByEmail returns the account registered with email
func (s *AccountService) FindByEmail(ctx context.Context, email string) (Account, error) {
	account, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if stderrors.Is(err, ErrAccountNotFound) {
		return Account{}, errors.Wrap(err, errors.ErrCodeNotFound, "account not found")
	}
	return account, err
}

// FindByID returns the account with id
func (s *AccountService) FindByID(ctx context.Context, id uuid.UUID) (Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if stderrors.Is(err, ErrAccountNotFound) {
		return Account{}, errors.Wrap(err, errors.ErrCodeNotFound, "account not found")
	}
	return account, err
}

// MarkVerified records that the account proved ownership of its email
func (s *AccountService) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkVerified(ctx, id)
}

// CheckPassword reports whether password matches the account's hash
func CheckPassword(account Account, password string) bool {
	return bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)) == nil
}
