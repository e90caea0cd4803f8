package cuepoint

import (
	"context"
	"fmt"

	"github.com/sendrec/cueplayer/internal/database"
)

// Store persists cuepoints per video.
type Store struct {
	db database.DBTX
}

func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) List(ctx context.Context, videoID string) ([]Cuepoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, time_seconds, label, content
		 FROM cuepoints
		 WHERE video_id = $1
		 ORDER BY time_seconds, created_at`,
		videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("query cuepoints: %w", err)
	}
	defer rows.Close()

	items := make([]Cuepoint, 0)
	for rows.Next() {
		var c Cuepoint
		if err := rows.Scan(&c.ID, &c.Time, &c.Label, &c.Content); err != nil {
			return nil, fmt.Errorf("scan cuepoint: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cuepoints: %w", err)
	}
	return items, nil
}

func (s *Store) Insert(ctx context.Context, videoID string, c Cuepoint) error {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO cuepoints (id, video_id, time_seconds, label, content)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, videoID, c.Time, c.Label, c.Content,
	); err != nil {
		return fmt.Errorf("insert cuepoint: %w", err)
	}
	return nil
}

// InsertAll seeds a video with cuepoints, skipping any that already exist.
func (s *Store) InsertAll(ctx context.Context, videoID string, cuepoints []Cuepoint) error {
	for _, c := range cuepoints {
		if _, err := s.db.Exec(ctx,
			`INSERT INTO cuepoints (id, video_id, time_seconds, label, content)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			c.ID, videoID, c.Time, c.Label, c.Content,
		); err != nil {
			return fmt.Errorf("seed cuepoint: %w", err)
		}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, videoID string, c Cuepoint) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE cuepoints SET time_seconds = $1, label = $2, content = $3, updated_at = now()
		 WHERE id = $4 AND video_id = $5`,
		c.Time, c.Label, c.Content, c.ID, videoID,
	)
	if err != nil {
		return fmt.Errorf("update cuepoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update cuepoint %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, videoID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM cuepoints WHERE id = $1 AND video_id = $2`,
		id, videoID,
	)
	if err != nil {
		return fmt.Errorf("delete cuepoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete cuepoint %s: %w", id, ErrNotFound)
	}
	return nil
}
