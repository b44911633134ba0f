package mocks

import (
	"context"

	"webmapapi/internal/model"
	"webmapapi/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockMapService struct {
	mock.Mock
}

func (m *MockMapService) Publish(ctx context.Context, payload []byte) (*model.Publication, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Publication), args.Error(1)
}

func (m *MockMapService) List(ctx context.Context, limit, offset int) (*service.PublicationListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PublicationListResult), args.Error(1)
}

func (m *MockMapService) Get(ctx context.Context, id string) (*model.PublicationDetail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PublicationDetail), args.Error(1)
}

func (m *MockMapService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
