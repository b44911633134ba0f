package mocks

import (
	"context"

	"webmapapi/internal/model"
	"webmapapi/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockPublicationRepository struct {
	mock.Mock
}

func (m *MockPublicationRepository) Create(ctx context.Context, pub *model.Publication) (*model.Publication, error) {
	args := m.Called(ctx, pub)
	if f, ok := args.Get(0).(func(context.Context, *model.Publication) *model.Publication); ok {
		return f(ctx, pub), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Publication), args.Error(1)
}

func (m *MockPublicationRepository) FindByID(ctx context.Context, id string) (*model.Publication, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Publication), args.Error(1)
}

func (m *MockPublicationRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Publication], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Publication]), args.Error(1)
}

func (m *MockPublicationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
