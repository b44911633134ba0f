package postgres

import (
	"context"
	"database/sql"

	"webmapapi/internal/model"
	"webmapapi/internal/repository"
)

const publicationColumns = `id, item_id, item_url, title, item_type, storage_path, size, content_type, shared, created_at`

// PublicationPostgres is the PostgreSQL implementation of
// repository.PublicationRepository.
type PublicationPostgres struct {
	db *sql.DB
}

// NewPublicationPostgres creates a new PublicationPostgres repository.
func NewPublicationPostgres(db *sql.DB) *PublicationPostgres {
	return &PublicationPostgres{db: db}
}

var _ repository.PublicationRepository = (*PublicationPostgres)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanPublication(s scanner) (*model.Publication, error) {
	var p model.Publication
	if err := s.Scan(
		&p.ID,
		&p.ItemID,
		&p.ItemURL,
		&p.Title,
		&p.ItemType,
		&p.StoragePath,
		&p.Size,
		&p.ContentType,
		&p.Shared,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a publication row and returns the stored record.
func (r *PublicationPostgres) Create(ctx context.Context, pub *model.Publication) (*model.Publication, error) {
	const q = `
		INSERT INTO map_publications (` + publicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + publicationColumns
	row := r.db.QueryRowContext(ctx, q,
		pub.ID,
		pub.ItemID,
		pub.ItemURL,
		pub.Title,
		pub.ItemType,
		pub.StoragePath,
		pub.Size,
		pub.ContentType,
		pub.Shared,
		pub.CreatedAt,
	)
	return scanPublication(row)
}

// FindByID fetches a single publication. A missing row yields sql.ErrNoRows.
func (r *PublicationPostgres) FindByID(ctx context.Context, id string) (*model.Publication, error) {
	const q = `SELECT ` + publicationColumns + ` FROM map_publications WHERE id = $1`
	return scanPublication(r.db.QueryRowContext(ctx, q, id))
}

// List returns publications using LIMIT/OFFSET pagination and a total count.
func (r *PublicationPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Publication], error) {
	const qCount = `SELECT COUNT(*) FROM map_publications`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + publicationColumns + `
		FROM map_publications
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Publication, 0)
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Publication]{Items: items, Total: total}, nil
}

// Delete removes a publication row; a missing row is not an error.
func (r *PublicationPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM map_publications WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
