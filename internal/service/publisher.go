package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"webmapapi/internal/gis"
	"webmapapi/internal/mapfile"
	"webmapapi/internal/model"
	"webmapapi/internal/repository"
	"webmapapi/internal/storage"
)

var (
	ErrIDRequired     = errors.New("id is required")
	ErrNotFound       = errors.New("publication not found")
	ErrInvalidPayload = errors.New("payload cannot be converted to a map file")
	ErrUploadFailed   = errors.New("map upload failed")
	ErrShareFailed    = errors.New("map sharing failed")
)

// mapFilePrefix is the object storage folder for staged map files.
const mapFilePrefix = "mapfiles"

var tracer = otel.Tracer("webmapapi/internal/service")

// PublicationListResult is the service-level DTO for paginated publications.
type PublicationListResult struct {
	Items []model.Publication `json:"data"`
	Total int                 `json:"total"`
}

// MapService publishes request payloads as GIS map items.
type MapService interface {
	// Publish converts payload into a map file, stages it, uploads it as a new
	// item with the fixed item properties and shares it according to policy.
	// Every call creates a new item; nothing is deduplicated.
	Publish(ctx context.Context, payload []byte) (*model.Publication, error)

	// List returns publications using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*PublicationListResult, error)

	// Get returns one publication with a presigned link to its map file.
	Get(ctx context.Context, id string) (*model.PublicationDetail, error)

	// Delete removes the item from the portal, its staged file and its record.
	Delete(ctx context.Context, id string) error
}

// Options configures a MapService.
type Options struct {
	// Item is sent unchanged with every upload.
	Item gis.ItemProperties
	// SharePublic shares every uploaded item with everyone.
	SharePublic bool
	// PresignTTL bounds download links returned by Get.
	PresignTTL time.Duration
	Logger     logrus.FieldLogger
	Metrics    *Metrics
}

type mapService struct {
	conv    mapfile.Converter
	store   storage.Storage
	gis     gis.Client
	repo    repository.PublicationRepository
	opts    Options
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

// NewMapService constructs a new MapService.
func NewMapService(conv mapfile.Converter, store storage.Storage, client gis.Client, repo repository.PublicationRepository, opts Options) MapService {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &mapService{
		conv:    conv,
		store:   store,
		gis:     client,
		repo:    repo,
		opts:    opts,
		log:     log.WithField("component", "map_service"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func (s *mapService) Publish(ctx context.Context, payload []byte) (pub *model.Publication, err error) {
	ctx, span := tracer.Start(ctx, "MapService.Publish", trace.WithAttributes(
		attribute.Int("map.payload_bytes", len(payload)),
		attribute.String("gis.item_type", s.opts.Item.Type),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	file, err := s.conv.Convert(ctx, payload)
	if err != nil {
		return nil, s.fail(resultInvalidPayload, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}

	key := path.Join(mapFilePrefix, file.Name)
	objInfo, err := s.store.Put(ctx, key, bytes.NewReader(file.Data), storage.PutObjectOptions{
		Size:        file.Size(),
		ContentType: file.ContentType,
		Metadata: map[string]string{
			"item-title": s.opts.Item.Title,
			"item-type":  s.opts.Item.Type,
		},
	})
	if err != nil {
		return nil, s.fail(resultStagingFailed, fmt.Errorf("stage map file: %w", err))
	}

	item, err := s.upload(ctx, key, file)
	if err != nil {
		s.rollback(ctx, key, "")
		return nil, s.fail(resultUploadFailed, fmt.Errorf("%w: %w", ErrUploadFailed, err))
	}
	span.SetAttributes(attribute.String("gis.item_id", item.ID))

	if s.opts.SharePublic {
		if err := s.gis.Share(ctx, item.ID, true); err != nil {
			s.rollback(ctx, key, item.ID)
			return nil, s.fail(resultShareFailed, fmt.Errorf("%w: %w", ErrShareFailed, err))
		}
	}

	stored, err := s.repo.Create(ctx, &model.Publication{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		ItemURL:     item.URL,
		Title:       s.opts.Item.Title,
		ItemType:    s.opts.Item.Type,
		StoragePath: objInfo.Key,
		Size:        objInfo.Size,
		ContentType: file.ContentType,
		Shared:      s.opts.SharePublic,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.rollback(ctx, key, item.ID)
		return nil, s.fail(resultRecordFailed, fmt.Errorf("save publication: %w", err))
	}

	s.metrics.observe(resultPublished)
	s.log.WithFields(logrus.Fields{
		"publication_id": stored.ID,
		"item_id":        stored.ItemID,
		"shared":         stored.Shared,
		"size":           stored.Size,
	}).Info("map_published")
	return stored, nil
}

// fail counts and logs a failed publish. The cause stays in the log; clients
// only see the mapped error code.
func (s *mapService) fail(result string, err error) error {
	s.metrics.observe(result)
	s.log.WithError(err).WithField("result", result).Error("map_publish_failed")
	return err
}

// upload streams the staged file back out of storage into the portal.
func (s *mapService) upload(ctx context.Context, key string, file *mapfile.File) (*gis.Item, error) {
	rc, _, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open staged map file: %w", err)
	}
	defer rc.Close()

	return s.gis.AddItem(ctx, s.opts.Item, gis.Upload{
		Name:        file.Name,
		ContentType: file.ContentType,
		Body:        rc,
	})
}

// rollback removes whatever Publish created before failing. It runs even
// when the request context is already cancelled.
func (s *mapService) rollback(ctx context.Context, key, itemID string) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithField("storage_path", key)

	if itemID != "" {
		if err := s.gis.DeleteItem(ctx, itemID); err != nil {
			log.WithField("item_id", itemID).WithError(err).Error("rollback: delete gis item failed")
		}
	}
	if err := s.store.Delete(ctx, key); err != nil {
		log.WithError(err).Error("rollback: delete staged map file failed")
	}
}

// List returns paginated publications without exposing repository types.
func (s *mapService) List(ctx context.Context, limit, offset int) (*PublicationListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &PublicationListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a publication by ID. A failed presign only drops the link.
func (s *mapService) Get(ctx context.Context, id string) (*model.PublicationDetail, error) {
	pub, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &model.PublicationDetail{Publication: *pub}
	link, err := s.store.PresignGet(ctx, pub.StoragePath, s.opts.PresignTTL)
	if err != nil {
		s.log.WithField("publication_id", id).WithError(err).Warn("presign map file failed")
		return detail, nil
	}
	detail.DownloadURL = link
	return detail, nil
}

// Delete unpublishes the item first, then removes the staged file and the
// record. A failure keeps the record so the delete can be retried; an item
// the portal no longer has counts as already unpublished.
func (s *mapService) Delete(ctx context.Context, id string) error {
	pub, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{"publication_id": id, "item_id": pub.ItemID})
	if err := s.gis.DeleteItem(ctx, pub.ItemID); err != nil {
		if !errors.Is(err, gis.ErrItemNotFound) {
			return fmt.Errorf("delete gis item: %w", err)
		}
		log.WithError(err).Warn("gis item already gone")
	}
	if err := s.store.Delete(ctx, pub.StoragePath); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	log.Info("map_unpublished")
	return nil
}

func (s *mapService) find(ctx context.Context, id string) (*model.Publication, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	pub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return pub, nil
}
