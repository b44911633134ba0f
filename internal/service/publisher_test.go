package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"webmapapi/internal/gis"
	gisMocks "webmapapi/internal/gis/mocks"
	"webmapapi/internal/logging"
	"webmapapi/internal/mapfile"
	"webmapapi/internal/model"
	"webmapapi/internal/repository"
	repoMocks "webmapapi/internal/repository/mocks"
	"webmapapi/internal/storage"
	storeMocks "webmapapi/internal/storage/mocks"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedItem = gis.ItemProperties{Title: "My Map", Type: "Web Map"}

type fixture struct {
	store   *storeMocks.MockStorage
	gis     *gisMocks.MockClient
	repo    *repoMocks.MockPublicationRepository
	metrics *Metrics
	logs    *bytes.Buffer
	svc     MapService
}

func newFixture(t *testing.T, sharePublic bool) *fixture {
	t.Helper()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &fixture{
		store:   new(storeMocks.MockStorage),
		gis:     new(gisMocks.MockClient),
		repo:    new(repoMocks.MockPublicationRepository),
		metrics: metrics,
		logs:    new(bytes.Buffer),
	}
	f.svc = NewMapService(mapfile.NewPassThrough(), f.store, f.gis, f.repo, Options{
		Item:        fixedItem,
		SharePublic: sharePublic,
		PresignTTL:  time.Minute,
		Logger:      logging.New(f.logs, time.UTC),
		Metrics:     metrics,
	})
	return f
}

func (f *fixture) expectStaging(payload string) {
	f.store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "mapfiles/")
	}), mock.Anything, mock.AnythingOfType("storage.PutObjectOptions")).
		Return(func(_ context.Context, key string, _ io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
			return storage.ObjectInfo{Key: key, Size: opt.Size, ContentType: opt.ContentType}
		}, nil)
	f.store.On("Get", mock.Anything, mock.Anything).
		Return(io.NopCloser(strings.NewReader(payload)), storage.ObjectInfo{}, nil)
}

func (f *fixture) count(result string) float64 {
	return testutil.ToFloat64(f.metrics.publishes.WithLabelValues(result))
}

func TestMapService_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		f := newFixture(t, true)
		payload := `{"operationalLayers":[]}`
		f.expectStaging(payload)

		var uploaded string
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.AnythingOfType("gis.Upload")).
			Run(func(args mock.Arguments) {
				up := args.Get(2).(gis.Upload)
				b, _ := io.ReadAll(up.Body)
				uploaded = string(b)
				assert.Equal(t, mapfile.ContentTypeJSON, up.ContentType)
			}).
			Return(&gis.Item{ID: "item1", URL: "https://www.arcgis.com/home/item.html?id=item1"}, nil).Once()
		f.gis.On("Share", mock.Anything, "item1", true).Return(nil).Once()
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Publication) bool {
			return p.ItemID == "item1" && p.Shared && p.Title == "My Map" && p.ItemType == "Web Map" &&
				strings.HasSuffix(p.StoragePath, ".json") && p.Size == int64(len(payload))
		})).Return(func(_ context.Context, p *model.Publication) *model.Publication { return p }, nil).Once()

		pub, err := f.svc.Publish(ctx, []byte(payload))

		require.NoError(t, err)
		u, err := url.ParseRequestURI(pub.ItemURL)
		require.NoError(t, err)
		assert.Equal(t, "https", u.Scheme)
		assert.Equal(t, payload, uploaded)
		assert.Equal(t, 1.0, f.count(resultPublished))
		f.gis.AssertExpectations(t)
		f.repo.AssertExpectations(t)
	})

	t.Run("item properties do not depend on payload", func(t *testing.T) {
		f := newFixture(t, true)
		f.expectStaging("")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(&gis.Item{ID: "i", URL: "https://x/i"}, nil)
		f.gis.On("Share", mock.Anything, "i", true).Return(nil)
		f.repo.On("Create", mock.Anything, mock.Anything).Return(&model.Publication{ID: "p"}, nil)

		for _, payload := range []string{`{"title":"Other Map","type":"Feature Service"}`, "raw bytes", ""} {
			_, err := f.svc.Publish(ctx, []byte(payload))
			require.NoError(t, err)
		}
		f.gis.AssertNumberOfCalls(t, "AddItem", 3)
		f.gis.AssertNumberOfCalls(t, "Share", 3)
	})

	t.Run("identical requests create distinct items", func(t *testing.T) {
		f := newFixture(t, true)
		f.expectStaging("same")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(&gis.Item{ID: "a", URL: "https://x/a"}, nil).Once()
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(&gis.Item{ID: "b", URL: "https://x/b"}, nil).Once()
		f.gis.On("Share", mock.Anything, mock.Anything, true).Return(nil)
		f.repo.On("Create", mock.Anything, mock.Anything).
			Return(func(_ context.Context, p *model.Publication) *model.Publication { return p }, nil)

		first, err := f.svc.Publish(ctx, []byte("same"))
		require.NoError(t, err)
		second, err := f.svc.Publish(ctx, []byte("same"))
		require.NoError(t, err)

		assert.NotEqual(t, first.ItemID, second.ItemID)
		assert.NotEqual(t, first.ID, second.ID)
		assert.NotEqual(t, first.StoragePath, second.StoragePath)
	})

	t.Run("private policy skips sharing", func(t *testing.T) {
		f := newFixture(t, false)
		f.expectStaging("x")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(&gis.Item{ID: "i", URL: "https://x/i"}, nil)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Publication) bool { return !p.Shared })).
			Return(&model.Publication{ID: "p"}, nil)

		_, err := f.svc.Publish(ctx, []byte("x"))

		require.NoError(t, err)
		f.gis.AssertNotCalled(t, "Share", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("converter error", func(t *testing.T) {
		f := newFixture(t, true)
		f.svc = NewMapService(mapfile.ConverterFunc(func(context.Context, []byte) (*mapfile.File, error) {
			return nil, errors.New("unsupported layer")
		}), f.store, f.gis, f.repo, Options{Item: fixedItem, SharePublic: true, Metrics: f.metrics})

		pub, err := f.svc.Publish(ctx, []byte("x"))

		assert.Nil(t, pub)
		assert.ErrorIs(t, err, ErrInvalidPayload)
		f.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 1.0, f.count(resultInvalidPayload))
	})

	t.Run("staging error", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, errors.New("bucket gone"))

		pub, err := f.svc.Publish(ctx, []byte("x"))

		assert.Nil(t, pub)
		assert.EqualError(t, err, "stage map file: bucket gone")
		f.gis.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("upload error returns no url and removes staged file", func(t *testing.T) {
		f := newFixture(t, true)
		f.expectStaging("x")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).
			Return(nil, &gis.Error{Code: 403, Message: "User does not have permissions"})
		f.store.On("Delete", mock.Anything, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "mapfiles/")
		})).Return(nil).Once()

		pub, err := f.svc.Publish(ctx, []byte("x"))

		assert.Nil(t, pub)
		assert.ErrorIs(t, err, ErrUploadFailed)
		var gerr *gis.Error
		assert.ErrorAs(t, err, &gerr)
		f.gis.AssertNotCalled(t, "Share", mock.Anything, mock.Anything, mock.Anything)
		f.gis.AssertNotCalled(t, "DeleteItem", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.store.AssertExpectations(t)
		assert.Equal(t, 1.0, f.count(resultUploadFailed))

		logged := f.logs.String()
		assert.Contains(t, logged, `"msg":"map_publish_failed"`)
		assert.Contains(t, logged, `"result":"upload_failed"`)
		assert.Contains(t, logged, "gis: 403 User does not have permissions")
	})

	t.Run("staged file unreadable", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{Key: "mapfiles/a.txt"}, nil)
		f.store.On("Get", mock.Anything, mock.Anything).Return(nil, storage.ObjectInfo{}, errors.New("no such key"))
		f.store.On("Delete", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := f.svc.Publish(ctx, []byte("x"))

		assert.ErrorIs(t, err, ErrUploadFailed)
		f.gis.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("share error deletes the item", func(t *testing.T) {
		f := newFixture(t, true)
		f.expectStaging("x")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(&gis.Item{ID: "item1", URL: "https://x/1"}, nil)
		f.gis.On("Share", mock.Anything, "item1", true).Return(errors.New("sharing disabled"))
		f.gis.On("DeleteItem", mock.Anything, "item1").Return(nil).Once()
		f.store.On("Delete", mock.Anything, mock.Anything).Return(nil).Once()

		pub, err := f.svc.Publish(ctx, []byte("x"))

		assert.Nil(t, pub)
		assert.ErrorIs(t, err, ErrShareFailed)
		f.gis.AssertExpectations(t)
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		assert.Equal(t, 1.0, f.count(resultShareFailed))
		assert.Contains(t, f.logs.String(), "sharing disabled")
	})

	t.Run("record error rolls back", func(t *testing.T) {
		f := newFixture(t, true)
		f.expectStaging("x")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(&gis.Item{ID: "item1", URL: "https://x/1"}, nil)
		f.gis.On("Share", mock.Anything, "item1", true).Return(nil)
		f.repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
		f.gis.On("DeleteItem", mock.Anything, "item1").Return(errors.New("portal down")).Once()
		f.store.On("Delete", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := f.svc.Publish(ctx, []byte("x"))

		assert.EqualError(t, err, "save publication: db down")
		f.gis.AssertExpectations(t)
		f.store.AssertExpectations(t)
		assert.Equal(t, 1.0, f.count(resultRecordFailed))
	})

	t.Run("rollback survives cancelled context", func(t *testing.T) {
		f := newFixture(t, true)
		f.expectStaging("x")
		f.gis.On("AddItem", mock.Anything, fixedItem, mock.Anything).Return(nil, context.Canceled)
		f.store.On("Delete", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), mock.Anything).
			Return(nil).Once()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.svc.Publish(cctx, []byte("x"))

		assert.ErrorIs(t, err, ErrUploadFailed)
		f.store.AssertExpectations(t)
	})
}

func TestMapService_List(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		limit      int
		offset     int
		wantQuery  repository.PageQuery
		repoResult *repository.PageResult[model.Publication]
		repoErr    error
		wantErr    bool
	}{
		{
			name:       "success",
			limit:      5,
			offset:     10,
			wantQuery:  repository.PageQuery{Limit: 5, Offset: 10},
			repoResult: &repository.PageResult[model.Publication]{Items: []model.Publication{{ID: "1"}}, Total: 11},
		},
		{
			name:       "defaults for invalid paging",
			limit:      0,
			offset:     -3,
			wantQuery:  repository.PageQuery{Limit: 10, Offset: 0},
			repoResult: &repository.PageResult[model.Publication]{Items: []model.Publication{}, Total: 0},
		},
		{
			name:      "repository error",
			limit:     10,
			wantQuery: repository.PageQuery{Limit: 10},
			repoErr:   errors.New("db error"),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			if tt.repoErr != nil {
				f.repo.On("List", ctx, tt.wantQuery).Return(nil, tt.repoErr)
			} else {
				f.repo.On("List", ctx, tt.wantQuery).Return(tt.repoResult, nil)
			}

			res, err := f.svc.List(ctx, tt.limit, tt.offset)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.repoResult.Total, res.Total)
			assert.Equal(t, tt.repoResult.Items, res.Items)
			f.repo.AssertExpectations(t)
		})
	}
}

func TestMapService_Get(t *testing.T) {
	ctx := context.Background()
	pub := &model.Publication{ID: "p1", ItemID: "item1", StoragePath: "mapfiles/a.json"}

	t.Run("with download link", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(pub, nil)
		f.store.On("PresignGet", ctx, "mapfiles/a.json", time.Minute).Return("https://minio/a.json?sig", nil)

		got, err := f.svc.Get(ctx, "p1")

		require.NoError(t, err)
		assert.Equal(t, "item1", got.ItemID)
		assert.Equal(t, "https://minio/a.json?sig", got.DownloadURL)
	})

	t.Run("presign failure drops the link", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(pub, nil)
		f.store.On("PresignGet", ctx, "mapfiles/a.json", time.Minute).Return("", errors.New("no creds"))

		got, err := f.svc.Get(ctx, "p1")

		require.NoError(t, err)
		assert.Empty(t, got.DownloadURL)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)

		_, err := f.svc.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty id", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.Get(ctx, "")
		assert.ErrorIs(t, err, ErrIDRequired)
	})
}

func TestMapService_Delete(t *testing.T) {
	ctx := context.Background()
	pub := &model.Publication{ID: "p1", ItemID: "item1", StoragePath: "mapfiles/a.json"}

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(pub, nil)
		f.gis.On("DeleteItem", ctx, "item1").Return(nil)
		f.store.On("Delete", ctx, "mapfiles/a.json").Return(nil)
		f.repo.On("Delete", ctx, "p1").Return(nil)

		assert.NoError(t, f.svc.Delete(ctx, "p1"))
		f.repo.AssertExpectations(t)
	})

	t.Run("gis failure keeps the record", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(pub, nil)
		f.gis.On("DeleteItem", ctx, "item1").Return(errors.New("portal down"))

		err := f.svc.Delete(ctx, "p1")

		assert.EqualError(t, err, "delete gis item: portal down")
		f.store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("storage failure keeps the record", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(pub, nil)
		f.gis.On("DeleteItem", ctx, "item1").Return(nil)
		f.store.On("Delete", ctx, "mapfiles/a.json").Return(errors.New("s3 down"))

		err := f.svc.Delete(ctx, "p1")

		assert.EqualError(t, err, "delete storage: s3 down")
		f.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("retry after storage failure finishes the delete", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(pub, nil)
		f.gis.On("DeleteItem", ctx, "item1").Return(nil).Once()
		f.store.On("Delete", ctx, "mapfiles/a.json").Return(errors.New("s3 down")).Once()

		require.EqualError(t, f.svc.Delete(ctx, "p1"), "delete storage: s3 down")

		gone := fmt.Errorf("gis: delete item item1: %w: %w", gis.ErrItemNotFound,
			&gis.Error{Code: 400, Message: "Item does not exist or is inaccessible."})
		f.gis.On("DeleteItem", ctx, "item1").Return(gone).Once()
		f.store.On("Delete", ctx, "mapfiles/a.json").Return(nil).Once()
		f.repo.On("Delete", ctx, "p1").Return(nil).Once()

		assert.NoError(t, f.svc.Delete(ctx, "p1"))
		f.gis.AssertNumberOfCalls(t, "DeleteItem", 2)
		f.repo.AssertNumberOfCalls(t, "Delete", 1)
		assert.Contains(t, f.logs.String(), "gis item already gone")
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t, true)
		f.repo.On("FindByID", ctx, "p1").Return(nil, sql.ErrNoRows)

		assert.ErrorIs(t, f.svc.Delete(ctx, "p1"), ErrNotFound)
	})
}
