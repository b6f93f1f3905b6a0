package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var errBadCredentials = httpx.E("auth.Login", httpx.ErrUnauthenticated, "invalid email or password")

// Welcomer sends the registration e-mails. Calls must not block.
type Welcomer interface {
	Welcome(u domain.User)
	StoreWelcome(u domain.User, s domain.Store)
}

// Service implements registration, login and profile management.
type Service struct {
	repo     storage.Repository
	tokens   *Tokens
	mail     Welcomer
	plans    domain.Plans
	log      *slog.Logger
	hashCost int
	now      func() time.Time
}

func NewService(repo storage.Repository, tokens *Tokens, mail Welcomer, plans domain.Plans, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		mail:     mail,
		plans:    plans,
		log:      log,
		hashCost: bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

type RegisterStoreRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	Phone            string `json:"phone"`
	StoreName        string `json:"storeName"`
	StoreDescription string `json:"storeDescription"`
	StoreEmail       string `json:"storeEmail"`
	StorePhone       string `json:"storePhone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateStoreRequest holds the owner-editable store fields. Nil means unchanged.
type UpdateStoreRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Email       *string         `json:"email"`
	Phone       *string         `json:"phone"`
	Address     *domain.Address `json:"address"`
	Logo        *string         `json:"logo"`
	Banner      *string         `json:"banner"`
	Currency    *string         `json:"currency"`
	Language    *string         `json:"language"`
	Timezone    *string         `json:"timezone"`
}

type UpdateProfileRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword"`
}

// Session is what a successful registration or login returns.
type Session struct {
	User  domain.User   `json:"user"`
	Store *domain.Store `json:"store,omitempty"`
	Token string        `json:"token"`
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func validateAccount(op, name, email, password string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" {
		return httpx.Invalid(op, "name, email and password are required")
	}
	if !strings.Contains(email, "@") {
		return httpx.Invalid(op, "email is not valid")
	}
	if len(password) < MinPasswordLength {
		return httpx.Invalid(op, "password must be at least 6 characters")
	}
	return nil
}

func (s *Service) emailFree(ctx context.Context, op, email string) error {
	_, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return httpx.Invalid(op, "email is already registered")
	case storage.IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (s *Service) newUser(name, email, hash, phone string, role domain.Role) domain.User {
	now := s.now()
	return domain.User{
		ID:           domain.NewID("usr"),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Phone:        strings.TrimSpace(phone),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// duplicate maps storage uniqueness errors to the client message.
func duplicate(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrDuplicateEmail):
		return httpx.Wrap(op, httpx.ErrValidation, "email is already registered", err)
	case errors.Is(err, storage.ErrDuplicateStore):
		return httpx.Wrap(op, httpx.ErrValidation, "store name is already taken", err)
	}
	return err
}

// Register creates a customer account. Only the customer role may self-register.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	const op = "auth.Register"
	if role := strings.TrimSpace(req.Role); role != "" && domain.Role(role) != domain.RoleCustomer {
		return Session{}, httpx.Invalid(op, "only customer accounts can be registered")
	}
	return s.registerCustomer(ctx, op, req, false)
}

// RegisterCustomer creates a customer account and sends the welcome e-mail.
func (s *Service) RegisterCustomer(ctx context.Context, req RegisterRequest) (Session, error) {
	return s.registerCustomer(ctx, "auth.RegisterCustomer", req, true)
}

func (s *Service) registerCustomer(ctx context.Context, op string, req RegisterRequest, welcome bool) (Session, error) {
	email := domain.NormalizeEmail(req.Email)
	if err := validateAccount(op, req.Name, email, req.Password); err != nil {
		return Session{}, err
	}
	if err := s.emailFree(ctx, op, email); err != nil {
		return Session{}, err
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return Session{}, err
	}
	u := s.newUser(req.Name, email, hash, req.Phone, domain.RoleCustomer)
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return Session{}, duplicate(op, err)
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	if welcome {
		s.mail.Welcome(u)
	}
	s.log.Info("customer registered", "user_id", u.ID)
	return Session{User: u, Token: token}, nil
}

// RegisterStore creates a store owner and their store in one write.
func (s *Service) RegisterStore(ctx context.Context, req RegisterStoreRequest) (Session, error) {
	const op = "auth.RegisterStore"
	email := domain.NormalizeEmail(req.Email)
	storeName := strings.TrimSpace(req.StoreName)
	if err := validateAccount(op, req.Name, email, req.Password); err != nil {
		return Session{}, err
	}
	if storeName == "" {
		return Session{}, httpx.Invalid(op, "store name is required")
	}
	if err := s.emailFree(ctx, op, email); err != nil {
		return Session{}, err
	}
	taken, err := s.repo.StoreNameTaken(ctx, storeName, "")
	if err != nil {
		return Session{}, err
	}
	if taken {
		return Session{}, httpx.Invalid(op, "store name is already taken")
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return Session{}, err
	}

	u := s.newUser(req.Name, email, hash, req.Phone, domain.RoleStoreOwner)
	free := s.plans.Get(domain.PlanFree)
	store := domain.Store{
		ID:          domain.NewID("st"),
		Name:        storeName,
		Slug:        domain.Slugify(storeName),
		Description: strings.TrimSpace(req.StoreDescription),
		Email:       firstNonEmpty(domain.NormalizeEmail(req.StoreEmail), email),
		Phone:       firstNonEmpty(strings.TrimSpace(req.StorePhone), u.Phone),
		OwnerID:     u.ID,
		Settings:    domain.DefaultStoreSettings(),
		Subscription: domain.Subscription{
			Plan:   domain.PlanFree,
			Status: "active",
		},
		Limits:    free.Limits,
		IsActive:  true,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.CreatedAt,
	}
	if store.Slug == "" {
		store.Slug = store.ID
	}
	u.StoreID = store.ID

	if err := s.repo.CreateUserWithStore(ctx, u, store); err != nil {
		return Session{}, duplicate(op, err)
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	s.mail.StoreWelcome(u, store)
	s.log.Info("store registered", "user_id", u.ID, "store_id", store.ID)
	return Session{User: u, Store: &store, Token: token}, nil
}

// Login exchanges credentials for a token and stamps lastLogin.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	const op = "auth.Login"
	email := domain.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return Session{}, httpx.Invalid(op, "email and password are required")
	}
	u, err := s.repo.GetUserByEmail(ctx, email)
	if storage.IsNotFound(err) {
		return Session{}, errBadCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return Session{}, errBadCredentials
	}
	if !u.IsActive {
		return Session{}, httpx.Forbidden(op, "account is disabled, contact support")
	}
	now := s.now()
	if err := s.repo.TouchLogin(ctx, u.ID, now); err != nil {
		return Session{}, err
	}
	u.LastLogin = &now
	token, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: token}, nil
}

// Me returns the user with their store, if any.
func (s *Service) Me(ctx context.Context, u domain.User) (domain.User, *domain.Store, error) {
	if u.StoreID == "" {
		return u, nil, nil
	}
	store, err := s.repo.GetStore(ctx, u.StoreID)
	if storage.IsNotFound(err) {
		return u, nil, nil
	}
	if err != nil {
		return domain.User{}, nil, err
	}
	return u, &store, nil
}

// GetStore returns the acting user's store.
func (s *Service) GetStore(ctx context.Context, u domain.User) (domain.Store, error) {
	const op = "auth.GetStore"
	if u.StoreID == "" {
		return domain.Store{}, httpx.Forbidden(op, "you must own a store")
	}
	store, err := s.repo.GetStore(ctx, u.StoreID)
	if storage.IsNotFound(err) {
		return domain.Store{}, httpx.NotFound(op, "store not found")
	}
	return store, err
}

// UpdateStore applies req to the acting user's store. The slug never changes.
func (s *Service) UpdateStore(ctx context.Context, u domain.User, req UpdateStoreRequest) (domain.Store, error) {
	const op = "auth.UpdateStore"
	store, err := s.GetStore(ctx, u)
	if err != nil {
		return domain.Store{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Store{}, httpx.Invalid(op, "store name cannot be empty")
		}
		if !strings.EqualFold(name, store.Name) {
			taken, err := s.repo.StoreNameTaken(ctx, name, store.ID)
			if err != nil {
				return domain.Store{}, err
			}
			if taken {
				return domain.Store{}, httpx.Invalid(op, "store name is already taken")
			}
		}
		store.Name = name
	}
	setString(&store.Description, req.Description)
	if req.Email != nil {
		store.Email = domain.NormalizeEmail(*req.Email)
	}
	setString(&store.Phone, req.Phone)
	if req.Address != nil {
		store.Address = *req.Address
	}
	setString(&store.Logo, req.Logo)
	setString(&store.Banner, req.Banner)
	if req.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if len(c) != 3 {
			return domain.Store{}, httpx.Invalid(op, "currency must be a 3-letter code")
		}
		store.Settings.Currency = c
	}
	if req.Language != nil {
		lang := strings.ToLower(strings.TrimSpace(*req.Language))
		if !domain.ValidLanguage(lang) {
			return domain.Store{}, httpx.Invalid(op, "language must be one of en, ar, fr")
		}
		store.Settings.Language = lang
		store.Settings.IsRTL = lang == "ar"
	}
	if req.Timezone != nil {
		tz := strings.TrimSpace(*req.Timezone)
		if _, err := time.LoadLocation(tz); err != nil {
			return domain.Store{}, httpx.Invalid(op, "unknown timezone")
		}
		store.Settings.Timezone = tz
	}
	store.UpdatedAt = s.now()
	if err := s.repo.UpdateStoreProfile(ctx, store); err != nil {
		return domain.Store{}, duplicate(op, err)
	}
	return store, nil
}

// UpdateProfile changes the acting user's own details. A new password needs the
// current one.
func (s *Service) UpdateProfile(ctx context.Context, actor domain.User, req UpdateProfileRequest) (domain.User, error) {
	const op = "auth.UpdateProfile"
	u, err := s.repo.GetUser(ctx, actor.ID)
	if storage.IsNotFound(err) {
		return domain.User{}, httpx.NotFound(op, "user not found")
	}
	if err != nil {
		return domain.User{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.User{}, httpx.Invalid(op, "name cannot be empty")
		}
		u.Name = name
	}
	if req.Email != nil {
		email := domain.NormalizeEmail(*req.Email)
		if !strings.Contains(email, "@") {
			return domain.User{}, httpx.Invalid(op, "email is not valid")
		}
		if email != u.Email {
			if err := s.emailFree(ctx, op, email); err != nil {
				return domain.User{}, err
			}
		}
		u.Email = email
	}
	setString(&u.Phone, req.Phone)
	if req.NewPassword != "" {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)) != nil {
			return domain.User{}, httpx.Invalid(op, "current password is incorrect")
		}
		if len(req.NewPassword) < MinPasswordLength {
			return domain.User{}, httpx.Invalid(op, "password must be at least 6 characters")
		}
		hash, err := s.hash(req.NewPassword)
		if err != nil {
			return domain.User{}, err
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = s.now()
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return domain.User{}, duplicate(op, err)
	}
	return u, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
