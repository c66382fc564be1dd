// Package seed fills the database with realistic development data.
package seed

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pulsefeed/backend/internal/models"
)

// Seeder generates fake users, posts, and conversations.
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a seeder over an initialized database.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// SeedDev creates a full development dataset: users, posts with engagement,
// and direct-message history. Every account's password is "password123".
func (s *Seeder) SeedDev() error {
	users, err := s.seedUsers(25)
	if err != nil {
		return err
	}

	posts, err := s.seedPosts(users, 4)
	if err != nil {
		return err
	}

	if err := s.seedEngagement(users, posts); err != nil {
		return err
	}

	return s.seedConversations(users, 15)
}

// SeedTest creates a minimal dataset for integration testing.
func (s *Seeder) SeedTest() error {
	users, err := s.seedUsers(3)
	if err != nil {
		return err
	}
	_, err = s.seedPosts(users, 2)
	return err
}

// Clean removes every seeded row. Destructive; development only.
func (s *Seeder) Clean() error {
	for _, model := range []interface{}{
		&models.Notification{},
		&models.ChatMessage{},
		&models.Conversation{},
		&models.Like{},
		&models.Comment{},
		&models.Post{},
		&models.User{},
	} {
		if err := s.db.Unscoped().Where("1 = 1").Delete(model).Error; err != nil {
			return fmt.Errorf("cleaning %T: %w", model, err)
		}
	}
	return nil
}

func (s *Seeder) seedUsers(n int) ([]models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		username := fmt.Sprintf("%s%d", gofakeit.Username(), i)
		user := models.User{
			ID:           uuid.New().String(),
			Email:        fmt.Sprintf("%s@%s", username, gofakeit.DomainName()),
			Username:     username,
			DisplayName:  gofakeit.Name(),
			Bio:          gofakeit.Sentence(10),
			PasswordHash: string(hash),
			AvatarURL:    gofakeit.ImageURL(256, 256),
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("creating user %s: %w", username, err)
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Seeder) seedPosts(users []models.User, perUser int) ([]models.Post, error) {
	var posts []models.Post
	for _, user := range users {
		for i := 0; i < perUser; i++ {
			post := models.Post{
				ID:        uuid.New().String(),
				UserID:    user.ID,
				Text:      gofakeit.Sentence(gofakeit.Number(5, 25)),
				CreatedAt: gofakeit.DateRange(time.Now().AddDate(0, -1, 0), time.Now()),
			}
			if gofakeit.Bool() {
				post.MediaURL = gofakeit.ImageURL(800, 600)
			}
			if err := s.db.Create(&post).Error; err != nil {
				return nil, fmt.Errorf("creating post: %w", err)
			}
			posts = append(posts, post)
		}
		if err := s.db.Model(&user).UpdateColumn("post_count", perUser).Error; err != nil {
			return nil, err
		}
	}
	return posts, nil
}

func (s *Seeder) seedEngagement(users []models.User, posts []models.Post) error {
	for _, post := range posts {
		likers := gofakeit.Number(0, len(users)/2)
		for i := 0; i < likers; i++ {
			like := models.Like{
				ID:     uuid.New().String(),
				PostID: post.ID,
				UserID: users[i].ID,
			}
			if err := s.db.Create(&like).Error; err != nil {
				continue // duplicate (user, post) pair from overlap, skip
			}
		}
		if err := s.db.Model(&models.Post{}).Where("id = ?", post.ID).
			UpdateColumn("like_count", likers).Error; err != nil {
			return err
		}

		if gofakeit.Bool() {
			commenter := users[gofakeit.Number(0, len(users)-1)]
			comment := models.Comment{
				ID:      uuid.New().String(),
				PostID:  post.ID,
				UserID:  commenter.ID,
				Content: gofakeit.Sentence(gofakeit.Number(3, 15)),
			}
			if err := s.db.Create(&comment).Error; err != nil {
				return err
			}
			if err := s.db.Model(&models.Post{}).Where("id = ?", post.ID).
				UpdateColumn("comment_count", 1).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Seeder) seedConversations(users []models.User, n int) error {
	for i := 0; i < n && i+1 < len(users); i++ {
		a, b := users[i].ID, users[i+1].ID
		if b < a {
			a, b = b, a
		}

		conv := models.Conversation{
			ID:      uuid.New().String(),
			UserAID: a,
			UserBID: b,
		}
		if err := s.db.Create(&conv).Error; err != nil {
			continue // pair already exists
		}

		var lastAt time.Time
		for j := 0; j < gofakeit.Number(2, 10); j++ {
			sender := a
			if gofakeit.Bool() {
				sender = b
			}
			msg := models.ChatMessage{
				ID:             uuid.New().String(),
				ConversationID: conv.ID,
				SenderID:       sender,
				Body:           gofakeit.Sentence(gofakeit.Number(2, 12)),
				CreatedAt:      gofakeit.DateRange(time.Now().AddDate(0, 0, -7), time.Now()),
			}
			if err := s.db.Create(&msg).Error; err != nil {
				return err
			}
			if msg.CreatedAt.After(lastAt) {
				lastAt = msg.CreatedAt
			}
		}
		if err := s.db.Model(&conv).UpdateColumn("last_message_at", lastAt).Error; err != nil {
			return err
		}
	}
	return nil
}
