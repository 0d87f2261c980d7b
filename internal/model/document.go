package model

// Document is one root document of the document store, encoded as JSON.
// Version is bumped on every write and used for compare-and-swap.
type Document struct {
	Root      string `gorm:"primaryKey;size:255"`
	Body      []byte `gorm:"not null"`
	Version   int64  `gorm:"not null;default:1"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli"`
}
