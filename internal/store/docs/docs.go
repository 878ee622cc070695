// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package docs implements the document store on BadgerDB. It holds the
// long-form episode bodies and transcripts that are too large for the
// catalog row, keyed by episode ID with a secondary link index.
package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage.
const (
	docKeyPrefix  = "doc:"
	linkKeyPrefix = "link:"
)

// ErrNotFound is returned when no document exists for the key.
var ErrNotFound = errors.New("docs: not found")

// Document is the long-form body of an episode.
type Document struct {
	ID             string   `json:"id"`
	Link           string   `json:"link"`
	Title          string   `json:"title"`
	Content        []string `json:"content,omitempty"`
	TranscriptText string   `json:"transcript_text,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`

	// OwnerID is set on per-user documents (daily briefs).
	OwnerID string `json:"owner_id,omitempty"`

	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modify_at"`
}

// Store is a BadgerDB-backed document store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the Badger database at path. An empty path
// opens an in-memory store.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing Badger handle; tests use this.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a document and its link index entry.
func (s *Store) Put(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.ModifiedAt = now

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(docKeyPrefix+doc.ID), data); err != nil {
			return fmt.Errorf("set document: %w", err)
		}
		if doc.Link != "" {
			if err := txn.Set([]byte(linkKeyPrefix+doc.Link), []byte(doc.ID)); err != nil {
				return fmt.Errorf("set link index: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a document by episode ID.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(docKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByLink resolves a link through the index and returns the
// document.
func (s *Store) GetByLink(ctx context.Context, link string) (*Document, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(linkKeyPrefix + link))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get link index: %w", err)
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// SetTranscript updates a stored document's transcript text.
func (s *Store) SetTranscript(ctx context.Context, id, transcript string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	doc.TranscriptText = transcript
	return s.Put(ctx, doc)
}

// Delete removes a document and its link index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(docKeyPrefix + id)); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if doc.Link != "" {
			if err := txn.Delete([]byte(linkKeyPrefix + doc.Link)); err != nil {
				return fmt.Errorf("delete link index: %w", err)
			}
		}
		return nil
	})
}

// DeleteMany removes the listed documents and returns how many
// existed. The reaper calls this during its sweep.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return deleted, err
		}
		if err := s.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// LatestByOwner returns the most recently created document owned by
// the user, used to serve the current daily brief.
func (s *Store) LatestByOwner(ctx context.Context, ownerID string) (*Document, error) {
	var latest *Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var doc Document
				if err := json.Unmarshal(val, &doc); err != nil {
					return err
				}
				if doc.OwnerID != ownerID {
					return nil
				}
				if latest == nil || doc.CreatedAt.After(latest.CreatedAt) {
					latest = &doc
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}
