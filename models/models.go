package models

import (
	"time"
)

// DidDocument is the encrypted-at-rest DID document record. Payload is a
// cipherbox blob serialized to JSON; nothing outside docstore reads it.
type DidDocument struct {
	Did       string `gorm:"primaryKey"`
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityRecord is the locally persisted encrypted identity payload, one per
// DID. Payload is sealed under the owner's password, not the process key, so
// the row is readable offline but only by the owner.
type IdentityRecord struct {
	Did       string `gorm:"primaryKey"`
	Payload   []byte
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
