package realtime

import (
	"time"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/models"
)

// GormPresence persists presence flags on the users table.
type GormPresence struct{}

// NewGormPresence returns a PresenceStore backed by the users table.
func NewGormPresence() *GormPresence {
	return &GormPresence{}
}

// SetOnline flips the user online and stamps last-seen.
func (p *GormPresence) SetOnline(userID string) error {
	now := time.Now().UTC()
	return database.DB.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_online":    true,
		"last_seen_at": now,
	}).Error
}

// SetOffline flips the user offline and stamps last-seen.
func (p *GormPresence) SetOffline(userID string, lastSeen time.Time) error {
	return database.DB.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_online":    false,
		"last_seen_at": lastSeen,
	}).Error
}
