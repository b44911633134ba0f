package mocks

import (
	"context"

	"webmapapi/internal/gis"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) AddItem(ctx context.Context, props gis.ItemProperties, data gis.Upload) (*gis.Item, error) {
	args := m.Called(ctx, props, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gis.Item), args.Error(1)
}

func (m *MockClient) Share(ctx context.Context, itemID string, everyone bool) error {
	args := m.Called(ctx, itemID, everyone)
	return args.Error(0)
}

func (m *MockClient) DeleteItem(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}
