package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/vreid/cluehunt/internal/pkg/common"
	"go.etcd.io/bbolt"
)

const (
	handlePrefix = "b"

	MaxBlobSize = 8 << 20
)

var (
	ErrInvalidHandle = errors.New("invalid blob handle")
	ErrNotFound      = errors.New("blob not found")
	ErrCorruptBlob   = errors.New("blob content does not match its handle")

	ErrBlobsBucketNotFound = errors.New("blobs bucket doesn't exist")
	ErrMetaBucketNotFound  = errors.New("blob meta bucket doesn't exist")
)

// BlobStore keeps immutable text blobs addressed by their content hash.
// Local misses are fetched from an upstream gateway when one is configured.
type BlobStore struct {
	Logger          zerolog.Logger
	DatabaseService *common.DatabaseService

	gateway    *resty.Client
	gatewayURL string

	now func() time.Time
}

func NewBlobStoreService(i do.Injector) (*BlobStore, error) {
	logger := do.MustInvoke[zerolog.Logger](i)
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	gatewayURL := do.MustInvokeNamed[string](i, "gateway-url")

	result := New(databaseService, gatewayURL, logger)

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func New(databaseService *common.DatabaseService, gatewayURL string, logger zerolog.Logger) *BlobStore {
	result := &BlobStore{
		Logger:          logger.With().Str("service", "blobstore").Logger(),
		DatabaseService: databaseService,

		now: time.Now,
	}

	gatewayURL = strings.TrimRight(strings.TrimSpace(gatewayURL), "/")
	if len(gatewayURL) > 0 {
		result.gatewayURL = gatewayURL
		result.gateway = resty.New().SetTimeout(30 * time.Second)
	}

	return result
}

func Handle(text string) string {
	sum := sha256.Sum256([]byte(text))

	return handlePrefix + hex.EncodeToString(sum[:])
}

// ValidateHandle rejects anything that could escape the key space when the
// handle is appended to a gateway URL.
func ValidateHandle(handle string) error {
	if strings.Contains(handle, "..") || strings.ContainsAny(handle, `/\%?`) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	hexPart, ok := strings.CutPrefix(handle, handlePrefix)
	if !ok || len(hexPart) != hex.EncodedLen(sha256.Size) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	_, err := hex.DecodeString(hexPart)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	return nil
}

func (s *BlobStore) Put(_ context.Context, text string) (string, error) {
	if len(text) > MaxBlobSize {
		return "", fmt.Errorf("blob exceeds %d bytes", MaxBlobSize)
	}

	handle := Handle(text)

	err := s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket([]byte(common.BlobsBucket))
		if blobs == nil {
			return ErrBlobsBucketNotFound
		}

		meta := tx.Bucket([]byte(common.BlobsMetaBucket))
		if meta == nil {
			return ErrMetaBucketNotFound
		}

		if blobs.Get([]byte(handle)) != nil {
			return nil
		}

		err := blobs.Put([]byte(handle), []byte(text))
		if err != nil {
			return fmt.Errorf("failed to put blob: %w", err)
		}

		err = meta.Put([]byte(handle), common.Int64ToBytes(s.now().UnixMilli()))
		if err != nil {
			return fmt.Errorf("failed to put blob meta: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	return handle, nil
}

func (s *BlobStore) lookup(handle string) (string, bool, error) {
	var (
		text  string
		found bool
	)

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket([]byte(common.BlobsBucket))
		if blobs == nil {
			return ErrBlobsBucketNotFound
		}

		value := blobs.Get([]byte(handle))
		if value != nil {
			text, found = string(value), true
		}

		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read blob: %w", err)
	}

	return text, found, nil
}

func (s *BlobStore) Get(ctx context.Context, handle string) (string, error) {
	err := ValidateHandle(handle)
	if err != nil {
		return "", err
	}

	text, found, err := s.lookup(handle)
	if err != nil {
		return "", err
	}

	if found {
		return text, nil
	}

	if s.gateway == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	return s.fetch(ctx, handle)
}

func (s *BlobStore) fetch(ctx context.Context, handle string) (string, error) {
	resp, err := s.gateway.R().
		SetContext(ctx).
		Get(s.gatewayURL + "/" + handle)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blob from gateway: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	if resp.IsError() {
		return "", fmt.Errorf("failed to fetch blob from gateway: %s", resp.Status())
	}

	text := string(resp.Body())
	if Handle(text) != handle {
		return "", fmt.Errorf("%w: %s", ErrCorruptBlob, handle)
	}

	_, err = s.Put(ctx, text)
	if err != nil {
		s.Logger.Warn().Err(err).Str("handle", handle).Msg("failed to cache gateway blob")
	}

	return text, nil
}

// CreatedAt reports when handle was first stored locally.
func (s *BlobStore) CreatedAt(handle string) (time.Time, bool) {
	var millis int64 = -1

	_ = s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(common.BlobsMetaBucket))
		if meta == nil {
			return ErrMetaBucketNotFound
		}

		millis = common.BytesToInt64(meta.Get([]byte(handle)), -1)

		return nil
	})

	if millis < 0 {
		return time.Time{}, false
	}

	return time.UnixMilli(millis), true
}

func (s *BlobStore) Routes(e *echo.Echo) {
	apiGroup := e.Group("/api")

	blobsGroup := apiGroup.Group("/blobs")

	blobsGroup.POST("", s.Upload)
	blobsGroup.GET("/:handle", s.Download)
}

func (s *BlobStore) Upload(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBlobSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	if len(body) > MaxBlobSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "blob too large")
	}

	handle, err := s.Put(c.Request().Context(), string(body))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store blob")
	}

	createdAt, _ := s.CreatedAt(handle)

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, BlobInfo{
		Handle:    handle,
		Size:      len(body),
		CreatedAt: createdAt,
	})
}

// Download serves local blobs only, so two stores pointed at each other
// cannot loop.
func (s *BlobStore) Download(c echo.Context) error {
	handle := c.Param("handle")

	err := ValidateHandle(handle)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid blob handle")
	}

	text, found, err := s.lookup(handle)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read blob")
	}

	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "blob not found")
	}

	//nolint:wrapcheck
	return c.String(http.StatusOK, text)
}
