package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Capture is a gallery entry. Image holds PNG data and is only filled by Get.
type Capture struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Manual    bool      `json:"manual"`
	Timestamp int64     `json:"timestamp"`
	Image     []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileName is the download name of the capture.
func (c *Capture) FileName() string {
	return fmt.Sprintf("capture-%d.png", c.Timestamp)
}

// CaptureRepository provides gallery operations.
type CaptureRepository struct {
	db *sql.DB
}

// Captures returns the capture repository for this store.
func (s *Store) Captures() *CaptureRepository {
	return &CaptureRepository{db: s.db}
}

// Add inserts a capture, assigning an ID when it has none.
func (r *CaptureRepository) Add(c *Capture) error {
	if len(c.Image) == 0 {
		return errors.New("capture has no image")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO captures (id, mode, width, height, manual, image, captured_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Mode, c.Width, c.Height, c.Manual, c.Image, c.Timestamp, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}

	return nil
}

// Get retrieves a capture with its image.
func (r *CaptureRepository) Get(id string) (*Capture, error) {
	c := &Capture{}

	err := r.db.QueryRow(
		`SELECT id, mode, width, height, manual, image, captured_at, created_at
		 FROM captures WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Mode, &c.Width, &c.Height, &c.Manual, &c.Image, &c.Timestamp, &c.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return c, nil
}

// List retrieves all captures newest first, without image data.
func (r *CaptureRepository) List() ([]*Capture, error) {
	rows, err := r.db.Query(
		`SELECT id, mode, width, height, manual, captured_at, created_at
		 FROM captures ORDER BY captured_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	captures := []*Capture{}
	for rows.Next() {
		c := &Capture{}
		if err := rows.Scan(&c.ID, &c.Mode, &c.Width, &c.Height, &c.Manual, &c.Timestamp, &c.CreatedAt); err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return captures, nil
}

// Count returns the number of captures in the gallery.
func (r *CaptureRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes a capture from the gallery.
func (r *CaptureRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
