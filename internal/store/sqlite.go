package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/domain"
)

//go:embed schema.sql
var schema string

// DuplicatePrefixLen is how many leading characters of the body identify a
// post that has no canonical permalink.
var DuplicatePrefixLen = 150

// Store handles database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}
	// transactions take the write lock on BEGIN; one connection queues
	// concurrent writers behind it
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "init schema")
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureOwner creates the owner row with default settings if missing and
// records the label when one is given.
func (s *Store) EnsureOwner(ctx context.Context, id, label string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO owners (id, label, created_at) VALUES (?, ?, ?)",
		id, label, s.now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "insert owner")
	}
	if label != "" {
		if _, err := s.db.ExecContext(ctx, "UPDATE owners SET label = ? WHERE id = ?", label, id); err != nil {
			return eris.Wrap(err, "update owner label")
		}
	}
	return nil
}

// Owner returns the view of the store scoped to one owner.
func (s *Store) Owner(id string) *Owner {
	return &Owner{store: s, id: id}
}

const postColumns = `id, owner_id, author_name, author_url, body_text, permalink, permalink_canonical,
	timestamp, likes, comments, reposts, media, images, topic, tags, summary, sentiment, keywords,
	ai_analyzed, saved_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (domain.SavedPost, error) {
	var (
		p                             domain.SavedPost
		media, images, tags, keywords string
		canonical, analyzed           bool
	)
	err := r.Scan(
		&p.ID, &p.OwnerID, &p.AuthorName, &p.AuthorURL, &p.BodyText, &p.Permalink, &canonical,
		&p.Timestamp, &p.Engagement.Likes, &p.Engagement.Comments, &p.Engagement.Reposts,
		&media, &images, &p.Topic, &tags, &p.Summary, &p.Sentiment, &keywords,
		&analyzed, &p.SavedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.PermalinkCanonical = canonical
	p.AIAnalyzed = analyzed

	if err := decodeJSON(media, &p.Media); err != nil {
		return p, eris.Wrap(err, "decode media")
	}
	if err := decodeJSON(images, &p.Images); err != nil {
		return p, eris.Wrap(err, "decode images")
	}
	if err := decodeJSON(tags, &p.Tags); err != nil {
		return p, eris.Wrap(err, "decode tags")
	}
	if err := decodeJSON(keywords, &p.Keywords); err != nil {
		return p, eris.Wrap(err, "decode keywords")
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Keywords == nil {
		p.Keywords = []string{}
	}
	return p, nil
}

func scanPosts(rows *sql.Rows) ([]domain.SavedPost, error) {
	defer rows.Close()

	posts := []domain.SavedPost{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan post")
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate posts")
	}
	return posts, nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}
