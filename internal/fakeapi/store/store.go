// Package store – Store
//
// This file implements the backend rules on top of GORM: bcrypt passwords,
// opaque access and refresh tokens with expiry, one thread per item and
// participant pair, close flags and idempotent message appends.
//
// Error semantics:
//   - Missing rows map to ErrNotFound.
//   - Rule violations use the package sentinels (ErrSelfThread, ErrThreadClosed, ...).
//   - Other database errors are returned as-is.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/repo"
)

// Errors returned by Store. Handlers map them to HTTP statuses.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrEmailTaken     = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrTokenInvalid   = errors.New("token invalid or expired")
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("not a participant")
	ErrSelfThread     = errors.New("cannot open a thread with yourself")
	ErrThreadClosed   = errors.New("thread closed")
)

// Store wraps the database handle and token lifetimes.
type Store struct {
	DB         *gorm.DB
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
	BcryptCost int
}

// New returns a Store over db. Zero TTLs default to 15 minutes and 7 days.
func New(db *gorm.DB, accessTTL, refreshTTL time.Duration) *Store {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Store{
		DB:         db,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		Now:        func() time.Time { return time.Now().UTC() },
		BcryptCost: bcrypt.DefaultCost,
	}
}

// Migrate creates the backend tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Token{}, &Item{}, &Thread{}, &Message{})
}

func (s *Store) db(ctx context.Context) *gorm.DB { return s.DB.WithContext(ctx) }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---------- users & tokens ----------

// CreateUser registers an account.
func (s *Store) CreateUser(ctx context.Context, r domain.Registration) (User, error) {
	email := strings.ToLower(strings.TrimSpace(r.Email))
	if email == "" || !strings.Contains(email, "@") || len(r.Password) < 6 {
		return User{}, ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.BcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		Email:        email,
		Name:         strings.TrimSpace(r.Name),
		Surname:      strings.TrimSpace(r.Surname),
		PasswordHash: string(hash),
		CreatedAt:    s.Now(),
	}
	if err := s.db(ctx).Create(&u).Error; err != nil {
		if repo.IsDuplicate(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

// Authenticate checks email and password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	var u User
	err := s.db(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrBadCredentials
		}
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// User loads an account by id.
func (s *Store) User(ctx context.Context, id int64) (User, error) {
	var u User
	if err := s.db(ctx).First(&u, id).Error; err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

func (s *Store) issue(ctx context.Context, userID int64, kind string, ttl time.Duration) (string, error) {
	now := s.Now()
	t := Token{Value: uuid.NewString(), UserID: userID, Kind: kind, ExpiresAt: now.Add(ttl), CreatedAt: now}
	if err := s.db(ctx).Create(&t).Error; err != nil {
		return "", err
	}
	return t.Value, nil
}

// IssueSession creates an access token and a refresh token for userID.
func (s *Store) IssueSession(ctx context.Context, userID int64) (access, refresh string, err error) {
	if access, err = s.issue(ctx, userID, KindAccess, s.AccessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = s.issue(ctx, userID, KindRefresh, s.RefreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Store) lookup(ctx context.Context, value, kind string) (Token, error) {
	if value == "" {
		return Token{}, ErrTokenInvalid
	}
	var t Token
	err := s.db(ctx).Where("value = ? AND kind = ?", value, kind).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Token{}, ErrTokenInvalid
		}
		return Token{}, err
	}
	if !s.Now().Before(t.ExpiresAt) {
		return Token{}, ErrTokenInvalid
	}
	return t, nil
}

// UserForAccess resolves a bearer token to its user.
func (s *Store) UserForAccess(ctx context.Context, token string) (User, error) {
	t, err := s.lookup(ctx, token, KindAccess)
	if err != nil {
		return User{}, err
	}
	return s.User(ctx, t.UserID)
}

// Renew issues a new access token for a valid refresh token.
func (s *Store) Renew(ctx context.Context, refresh string) (string, error) {
	t, err := s.lookup(ctx, refresh, KindRefresh)
	if err != nil {
		return "", err
	}
	return s.issue(ctx, t.UserID, KindAccess, s.AccessTTL)
}

// Revoke deletes a refresh token and every access token of its user.
func (s *Store) Revoke(ctx context.Context, refresh string) error {
	var t Token
	err := s.db(ctx).Where("value = ? AND kind = ?", refresh, KindRefresh).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db(ctx).Where("user_id = ?", t.UserID).Delete(&Token{}).Error
}

// ExpireAccessTokens makes every access token invalid. Refresh tokens are
// kept, so clients must renew.
func (s *Store) ExpireAccessTokens(ctx context.Context) error {
	return s.db(ctx).Model(&Token{}).
		Where("kind = ?", KindAccess).
		Update("expires_at", s.Now().Add(-time.Second)).Error
}

// ---------- items ----------

// ListItems returns all items, newest first.
func (s *Store) ListItems(ctx context.Context) ([]Item, error) {
	var out []Item
	err := s.db(ctx).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

// Item loads one item.
func (s *Store) Item(ctx context.Context, id int64) (Item, error) {
	var it Item
	if err := s.db(ctx).First(&it, id).Error; err != nil {
		return Item{}, notFound(err)
	}
	return it, nil
}

// CreateItem posts an item owned by ownerID.
func (s *Store) CreateItem(ctx context.Context, ownerID int64, in domain.NewItem) (Item, error) {
	title := strings.TrimSpace(in.Title)
	typ := strings.ToLower(strings.TrimSpace(in.Type))
	if title == "" || (typ != domain.ItemLost && typ != domain.ItemFound) {
		return Item{}, ErrInvalidInput
	}
	it := Item{
		OwnerID:     ownerID,
		Title:       title,
		Type:        typ,
		Status:      domain.StatusOpen,
		Category:    strings.TrimSpace(in.Category),
		RoomID:      in.RoomID,
		RoomLabel:   in.RoomLabel,
		FloorLabel:  in.FloorLabel,
		Description: strings.TrimSpace(in.Description),
		ImageURL:    in.ImageURL,
		CreatedAt:   s.Now(),
	}
	if err := s.db(ctx).Create(&it).Error; err != nil {
		return Item{}, err
	}
	return it, nil
}

// ---------- threads ----------

func orderPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// EnsureThread returns the thread for (item, self, peer), creating it on
// first use. Concurrent calls converge on one row.
func (s *Store) EnsureThread(ctx context.Context, itemID, self, peer int64) (Thread, error) {
	if self == peer {
		return Thread{}, ErrSelfThread
	}
	if _, err := s.Item(ctx, itemID); err != nil {
		return Thread{}, err
	}
	if _, err := s.User(ctx, peer); err != nil {
		return Thread{}, err
	}
	a, b := orderPair(self, peer)
	now := s.Now()
	th := Thread{ItemID: itemID, UserA: a, UserB: b, CreatedAt: now, UpdatedAt: now}

	err := s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&th).Error
	if err != nil && !repo.IsDuplicate(err) {
		return Thread{}, err
	}
	var out Thread
	err = s.db(ctx).Where("item_id = ? AND user_a = ? AND user_b = ?", itemID, a, b).First(&out).Error
	return out, notFound(err)
}

// Thread loads a thread and checks that userID participates.
func (s *Store) Thread(ctx context.Context, id, userID int64) (Thread, error) {
	var th Thread
	if err := s.db(ctx).First(&th, id).Error; err != nil {
		return Thread{}, notFound(err)
	}
	if !th.Has(userID) {
		return Thread{}, ErrNotParticipant
	}
	return th, nil
}

// ThreadsFor lists the threads of userID, most recent activity first.
func (s *Store) ThreadsFor(ctx context.Context, userID int64) ([]Thread, error) {
	var out []Thread
	err := s.db(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("updated_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// RequestClose sets userID's close flag. It is idempotent.
func (s *Store) RequestClose(ctx context.Context, threadID, userID int64) (Thread, error) {
	th, err := s.Thread(ctx, threadID, userID)
	if err != nil {
		return Thread{}, err
	}
	col := "close_b"
	if th.UserA == userID {
		col = "close_a"
	}
	if err := s.db(ctx).Model(&Thread{}).Where("id = ?", th.ID).
		Updates(map[string]any{col: true, "updated_at": s.Now()}).Error; err != nil {
		return Thread{}, err
	}
	return s.Thread(ctx, threadID, userID)
}

// ---------- messages ----------

// AppendMessage stores a message. A repeated (thread, sender, key) returns
// the stored row and created=false.
func (s *Store) AppendMessage(ctx context.Context, threadID, senderID int64, text, key string) (msg Message, created bool, err error) {
	th, err := s.Thread(ctx, threadID, senderID)
	if err != nil {
		return Message{}, false, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false, ErrInvalidInput
	}
	if key == "" {
		key = uuid.NewString()
	}

	var existing Message
	err = s.db(ctx).Where("thread_id = ? AND sender_id = ? AND client_key = ?", threadID, senderID, key).First(&existing).Error
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, false, err
	}
	if th.Closed() {
		return Message{}, false, ErrThreadClosed
	}

	now := s.Now()
	msg = Message{ThreadID: threadID, SenderID: senderID, ClientKey: key, Text: text, CreatedAt: now}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		preview := text
		if r := []rune(preview); len(r) > 200 {
			preview = string(r[:200])
		}
		return tx.Model(&Thread{}).Where("id = ?", threadID).
			Updates(map[string]any{"last_text": preview, "last_at": now, "updated_at": now}).Error
	})
	if err != nil {
		if repo.IsDuplicate(err) {
			err = s.db(ctx).Where("thread_id = ? AND sender_id = ? AND client_key = ?", threadID, senderID, key).First(&existing).Error
			return existing, false, err
		}
		return Message{}, false, err
	}
	return msg, true, nil
}

// Messages returns the latest limit messages of a thread, oldest first.
// A limit <= 0 returns all of them.
func (s *Store) Messages(ctx context.Context, threadID int64, limit int) ([]Message, error) {
	q := s.db(ctx).Where("thread_id = ?", threadID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Message
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
