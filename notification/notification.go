package notification

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a notification id is unknown.
	ErrNotFound = errors.New("notification not found")
	// ErrInvalidKind is returned for a kind outside the enumeration.
	ErrInvalidKind = errors.New("invalid notification kind")
)

// Notification kinds.
const (
	KindComment = "comment"
	KindView    = "view"
)

var validKinds = map[string]struct{}{
	KindComment: {},
	KindView:    {},
}

// Notification is a durable delivery-worthy event for one user. It
// exists independently of any live connection: it is created before
// the live broadcast and read back on reconnect.
type Notification struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	Recipient string    `gorm:"size:36;not null;index" json:"recipient"`
	Kind      string    `gorm:"size:20;not null" json:"kind"`
	Message   string    `gorm:"size:500;not null" json:"message"`
	IsRead    bool      `gorm:"not null;default:false" json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName returns the table name for the Notification model.
func (Notification) TableName() string {
	return "notifications"
}

// Store persists notifications.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the notifications table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Notification{})
}

// Create saves a new unread notification.
func (s *Store) Create(recipient, kind, message string) (*Notification, error) {
	if _, ok := validKinds[kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	n := &Notification{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Kind:      kind,
		Message:   message,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(n).Error; err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// MarkRead sets IsRead. The transition is terminal and idempotent:
// repeating it on an already-read notification is not an error.
func (s *Store) MarkRead(id string) error {
	result := s.db.Model(&Notification{}).Where("id = ?", id).Update("is_read", true)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.Model(&Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ListUnread returns the recipient's unread notifications, newest
// first. Used on reconnect to reconcile missed live events.
func (s *Store) ListUnread(recipient string) ([]*Notification, error) {
	var notifications []*Notification
	err := s.db.
		Where("recipient = ? AND is_read = ?", recipient, false).
		Order("created_at desc").
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}
