package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/loader"
	"github.com/vedran77/lobby/internal/membership"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository"
	"github.com/vedran77/lobby/internal/session"
	"golang.org/x/crypto/argon2"
)

const tokenTTL = 24 * time.Hour

type AuthService struct {
	applier   *Applier
	jwtSecret []byte
	isAdmin   func(username string) bool
	mailer    Mailer
	verifier  HumanVerifier
}

func NewAuthService(applier *Applier, jwtSecret string, isAdmin func(username string) bool, mailer Mailer, verifier HumanVerifier) *AuthService {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &AuthService{
		applier:   applier,
		jwtSecret: []byte(jwtSecret),
		isAdmin:   isAdmin,
		mailer:    mailer,
		verifier:  verifier,
	}
}

type RegisterInput struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token,omitempty"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
}

// Claims are the verified contents of an access token.
type Claims struct {
	Actor     domain.Actor
	SessionID string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	users := s.applier.store.Users()

	existing, err := users.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, storage(err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	existing, err = users.GetByUsername(ctx, input.Username)
	if err != nil {
		return nil, storage(err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	role := domain.RoleUser
	if s.isAdmin(input.Username) {
		role = domain.RoleAdmin
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        input.Email,
		Username:     input.Username,
		DisplayName:  input.DisplayName,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, s.takenBy(ctx, input.Email)
		}
		return nil, storage(fmt.Errorf("creating user: %w", err))
	}

	s.sideCalls(ctx, *user, input.CaptchaToken)

	return s.openSession(ctx, user)
}

// takenBy reports which unique field a concurrent registration claimed.
func (s *AuthService) takenBy(ctx context.Context, email string) error {
	existing, err := s.applier.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return storage(err)
	}
	if existing != nil {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

// sideCalls runs captcha verification and the welcome mail without holding
// up registration.
func (s *AuthService) sideCalls(ctx context.Context, user domain.User, captcha string) {
	ctx = context.WithoutCancel(ctx)
	logger := s.applier.logger.With(slog.String("user_id", user.ID.String()))
	go func() {
		if s.verifier != nil {
			ok, err := s.verifier.Verify(ctx, captcha)
			if err != nil || !ok {
				logger.Warn("captcha not verified", slog.Bool("ok", ok), slog.Any("error", err))
			}
		}
		if s.mailer != nil {
			if err := s.mailer.SendWelcome(ctx, user); err != nil {
				logger.Warn("welcome mail failed", slog.String("error", err.Error()))
			}
		}
	}()
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	user, err := s.applier.store.Users().GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, storage(err)
	}
	if user == nil {
		return nil, ErrInvalidCreds
	}

	if !verifyPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCreds
	}

	return s.openSession(ctx, user)
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User) (*AuthResponse, error) {
	m := s.applier.sessions.Open(*user)
	s.applier.openSession(context.WithoutCancel(ctx), m)

	token, err := s.generateToken(user, m.ID())
	if err != nil {
		s.applier.sessions.Close(m.ID())
		return nil, fmt.Errorf("generating token: %w", err)
	}

	return &AuthResponse{User: user, AccessToken: token}, nil
}

// Me returns the actor's current user row.
func (s *AuthService) Me(ctx context.Context, actor domain.Actor) (*domain.User, error) {
	user, err := s.applier.store.Users().GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, storage(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers returns every registered user.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.applier.store.Users().List(ctx)
	if err != nil {
		return nil, storage(err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// User resolves one user through the request's loaders.
func (s *AuthService) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := loaderFrom(ctx, s.applier.store).Users.Load(ctx, id)()
	if errors.Is(err, loader.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return user, nil
}

// Logout leaves the actor's channel, if any, and destroys the session.
func (s *AuthService) Logout(ctx context.Context, actor domain.Actor, sid string) error {
	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		user, ch, err := currentMembership(ctx, tx, actor.UserID)
		if err != nil {
			return membership.Effects{}, err
		}
		tr := membership.Evict(*user, ch)
		if err := tr.Apply(ctx, tx); err != nil {
			return membership.Effects{}, err
		}
		return tr.Effects, nil
	})
	if err != nil {
		return err
	}

	s.applier.sessions.Close(sid)
	s.applier.closeSessions(context.WithoutCancel(ctx), sid)
	return nil
}

// DeleteAccount removes the actor's account. Leaving the channel, deleting
// the actor's messages and deleting the user commit together; every session
// of the user is destroyed afterwards.
func (s *AuthService) DeleteAccount(ctx context.Context, actor domain.Actor) error {
	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		user, ch, err := currentMembership(ctx, tx, actor.UserID)
		if err != nil {
			return membership.Effects{}, err
		}

		tr := membership.Evict(*user, ch)
		if err := tr.Apply(ctx, tx); err != nil {
			return membership.Effects{}, err
		}
		effects := tr.Effects

		authored, err := tx.Messages().ListBySender(ctx, user.ID)
		if err != nil {
			return membership.Effects{}, err
		}
		for _, m := range authored {
			effects.Merge(membership.MessagesChanged(m.ChannelID))
			removed := m.Sealed()
			effects.Events = append(effects.Events, pubsub.Event{Topic: pubsub.TopicRemovedMessage, ChannelID: m.ChannelID, Message: &removed})
		}
		if err := tx.Messages().DeleteBySender(ctx, user.ID); err != nil {
			return membership.Effects{}, err
		}
		if err := tx.Users().Delete(ctx, user.ID); err != nil {
			return membership.Effects{}, err
		}
		return effects, nil
	})
	if err != nil {
		return err
	}

	sids := s.applier.sessions.CloseUser(actor.UserID)
	s.applier.closeSessions(context.WithoutCancel(ctx), sids...)
	return nil
}

func currentMembership(ctx context.Context, tx repository.Tx, userID uuid.UUID) (*domain.User, *domain.Channel, error) {
	user, err := tx.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}
	if user.ChannelID == nil {
		return user, nil, nil
	}
	ch, err := tx.Channels().GetByID(ctx, *user.ChannelID)
	if err != nil {
		return nil, nil, err
	}
	return user, ch, nil
}

// Authenticate verifies token and returns its actor with the session mirror.
// A session unknown to this process, such as one issued before a restart, is
// rebuilt from the store if its cached pointer still exists; logout deletes
// that pointer.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Actor, *session.Mirror, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return domain.Actor{}, nil, err
	}

	if m, ok := s.applier.sessions.Get(claims.SessionID); ok {
		return claims.Actor, m, nil
	}

	if _, err := s.applier.cache.SessionChannel(ctx, claims.SessionID); err != nil {
		return domain.Actor{}, nil, ErrSessionExpired
	}
	user, err := s.applier.store.Users().GetByID(ctx, claims.Actor.UserID)
	if err != nil {
		return domain.Actor{}, nil, storage(err)
	}
	if user == nil {
		return domain.Actor{}, nil, ErrSessionExpired
	}
	m := s.applier.sessions.Restore(claims.SessionID, *user)
	s.applier.openSession(context.WithoutCancel(ctx), m)
	return claims.Actor, m, nil
}

func (s *AuthService) ParseToken(tokenStr string) (Claims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Claims{}, ErrSessionExpired
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrSessionExpired
	}

	sub, _ := claims.GetSubject()
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, ErrSessionExpired
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return Claims{}, ErrSessionExpired
	}
	username, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	return Claims{
		Actor:     domain.Actor{UserID: userID, Username: username, Role: role},
		SessionID: sid,
	}, nil
}

func (s *AuthService) generateToken(user *domain.User, sid string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"sid":  sid,
		"name": user.Username,
		"role": user.Role,
		"exp":  time.Now().Add(tokenTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	return fmt.Sprintf("%s:%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyPassword(password, encoded string) bool {
	saltB64, hashB64, ok := strings.Cut(encoded, ":")
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(hash, expectedHash) == 1
}
