// Package repository contains data access abstractions. Implementations live
// in subpackages (e.g. postgres).
package repository

import (
	"context"

	"webmapapi/internal/model"
)

// PublicationRepository persists publication records. No business logic here.
type PublicationRepository interface {
	// Create inserts a new record and returns it as stored.
	Create(ctx context.Context, pub *model.Publication) (*model.Publication, error)

	// FindByID returns sql.ErrNoRows when the record does not exist.
	FindByID(ctx context.Context, id string) (*model.Publication, error)

	// List returns a page of records, newest first, and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Publication], error)

	// Delete removes a record. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
