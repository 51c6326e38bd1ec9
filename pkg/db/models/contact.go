package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contact is a donor or paying party scoped to a location.
type Contact struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	DisplayName string    `gorm:"column:display_name;not null"`
	Email       *string   `gorm:"column:email"`
	Phone       *string   `gorm:"column:phone"`
	LocationID  uuid.UUID `gorm:"column:location_id;type:uuid;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Contact) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
