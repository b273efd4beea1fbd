package tenant

import (
	"crypto/rand"
	"math/big"
	"time"
)

type Tenant struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	APIKey      string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"api_key"`
	CompanyName string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"company_name"`
	WebsiteURL  string    `gorm:"type:text" json:"website_url"`
	Status      string    `gorm:"type:varchar(16);index;not null;default:active" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// NewAPIKey returns a key of the form "sf" + 20 random digits.
func NewAPIKey() (string, error) {
	out := make([]byte, 20)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + n.Int64())
	}
	return "sf" + string(out), nil
}
