package model

// Account backs a playground identity. Anonymous accounts have no email or
// password until they are linked.
type Account struct {
	ID           string  `gorm:"primaryKey;size:32"`
	Email        *string `gorm:"uniqueIndex"`
	PasswordHash string
	Anonymous    bool
	CreatedAt    int64 `gorm:"autoCreateTime:milli"`
	LinkedAt     *int64
}
