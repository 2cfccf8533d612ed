package model

import (
	"time"

	"github.com/google/uuid"
)

// Branch holds the fiscal identity of one point of sale. Each branch is
// an independent fiscal reporting stream with its own registration
// numbers and certified device; the drainer partitions all work by it.
type Branch struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ChainID uuid.UUID `gorm:"type:uuid;index"`
	Name    string    `gorm:"type:varchar(120);not null"`

	// Merchant identity printed on every receipt
	LegalName string `gorm:"type:varchar(200);not null"`
	Address   string `gorm:"type:varchar(255)"`
	Phone     string `gorm:"type:varchar(30)"`

	// Tax registration numbers — reported individually, never merged
	GSTNumber string `gorm:"type:varchar(20);column:gst_number"`
	QSTNumber string `gorm:"type:varchar(20);column:qst_number"`

	// DeviceID identifies the certified sales recording device
	DeviceID string `gorm:"type:varchar(40);column:device_id"`

	Active    bool `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
