// Package models defines the GORM models of the recording catalog.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID identifies catalog rows. It sorts by creation time and is stored as
// its 26 character text form; the zero value is stored as NULL.
type ULID ulid.ULID

// NewULID returns a ULID for the current time.
func NewULID() ULID {
	return ULID(ulid.Make())
}

// ParseULID parses the text form.
func ParseULID(s string) (ULID, error) {
	var u ULID
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return ULID{}, err
	}
	if u.IsZero() {
		return ULID{}, fmt.Errorf("invalid ULID %q", s)
	}
	return u, nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// Time returns the creation time encoded in u.
func (u ULID) Time() time.Time {
	return ulid.Time(ulid.ULID(u).Time())
}

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// MarshalText renders the zero ULID as empty text.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// UnmarshalText accepts the 26 character form or empty text for zero.
func (u *ULID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = ULID{}
		return nil
	}
	var id ulid.ULID
	if err := id.UnmarshalText(text); err != nil {
		return fmt.Errorf("invalid ULID %q: %w", text, err)
	}
	*u = ULID(id)
	return nil
}

// Value stores u as text.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan reads the text form from string or []byte columns.
func (u *ULID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		return u.UnmarshalText([]byte(v))
	case []byte:
		return u.UnmarshalText(v)
	default:
		return fmt.Errorf("scanning ULID from %T", value)
	}
}

// GormDataType returns the column type.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel holds the fields shared by all catalog rows.
type BaseModel struct {
	ID        ULID      `gorm:"primaryKey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an ID when none is set.
func (b *BaseModel) BeforeCreate(_ *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
