// Package docstore persists DID documents and identity records in a local
// sqlite database. Document rows are sealed under a process-local secret;
// identity rows arrive already sealed under the owner's password.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pnsync/cipherbox"
	"pnsync/did"
	"pnsync/models"
)

// ErrNotFound is a normal outcome, not a failure.
var ErrNotFound = errors.New("docstore: record not found")

type Store struct {
	db     *gorm.DB
	box    *cipherbox.Box
	secret string

	// Serializes writes so a publish and a local update for the same DID
	// cannot interleave read-modify-write cycles.
	writeMu sync.Mutex
}

type Args struct {
	DB     *gorm.DB
	Box    *cipherbox.Box
	Secret string
}

func New(args *Args) (*Store, error) {
	if args.DB == nil {
		return nil, fmt.Errorf("db must be set")
	}

	if args.Box == nil {
		return nil, fmt.Errorf("cipher box must be set")
	}

	if args.Secret == "" {
		return nil, fmt.Errorf("store secret must be set")
	}

	if err := args.DB.AutoMigrate(&models.DidDocument{}, &models.IdentityRecord{}); err != nil {
		return nil, err
	}

	return &Store{
		db:     args.DB,
		box:    args.Box,
		secret: args.Secret,
	}, nil
}

// Put seals the document under the process secret and upserts it by DID.
func (s *Store) Put(didstr string, doc *did.Document) error {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	blob, err := s.box.Encrypt(plaintext, s.secret)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(blob)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		UpdateAll: true,
	}).Create(&models.DidDocument{Did: didstr, Payload: payload}).Error
}

func (s *Store) Get(didstr string) (*did.Document, error) {
	var rec models.DidDocument
	if err := s.db.First(&rec, "did = ?", didstr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var blob cipherbox.Blob
	if err := json.Unmarshal(rec.Payload, &blob); err != nil {
		return nil, err
	}

	plaintext, err := s.box.Decrypt(&blob, s.secret)
	if err != nil {
		return nil, err
	}

	var doc did.Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// PutRecord stores an already-encrypted identity payload, bumping the row
// version on every write.
func (s *Store) PutRecord(didstr string, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existing models.IdentityRecord
	err := s.db.First(&existing, "did = ?", didstr).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	rec := models.IdentityRecord{
		Did:     didstr,
		Payload: payload,
		Version: existing.Version + 1,
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *Store) GetRecord(didstr string) ([]byte, error) {
	var rec models.IdentityRecord
	if err := s.db.First(&rec, "did = ?", didstr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec.Payload, nil
}

// DeleteRecord drops the local identity copy. Used when a device is wiped;
// the network copy is untouched.
func (s *Store) DeleteRecord(didstr string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Delete(&models.IdentityRecord{}, "did = ?", didstr).Error
}
