package blobstore_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/blobstore"
	"github.com/vreid/cluehunt/internal/pkg/common"
)

func newStore(t *testing.T, gatewayURL string) *blobstore.BlobStore {
	t.Helper()

	databaseService, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = databaseService.Shutdown()
	})

	return blobstore.New(databaseService, gatewayURL, zerolog.Nop())
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	store := newStore(t, "")

	text := `{"ciphertext":"abc","dataToEncryptHash":"00"}` + "\n"

	handle, err := store.Put(t.Context(), text)
	require.NoError(t, err)
	assert.Equal(t, blobstore.Handle(text), handle)
	assert.True(t, strings.HasPrefix(handle, "b"))

	again, err := store.Put(t.Context(), text)
	require.NoError(t, err)
	assert.Equal(t, handle, again)

	got, err := store.Get(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, text, got)

	_, ok := store.CreatedAt(handle)
	assert.True(t, ok)

	_, err = store.Get(t.Context(), blobstore.Handle("missing"))
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestInvalidHandles(t *testing.T) {
	t.Parallel()

	store := newStore(t, "")

	valid := blobstore.Handle("x")

	for _, handle := range []string{
		"",
		"../etc/passwd",
		"b" + strings.Repeat("0", 62) + "/x",
		`b..\` + strings.Repeat("0", 60),
		valid[:40] + "%2e%2e",
		valid + "?raw=1",
		"c" + valid[1:],
		"b" + strings.Repeat("z", 64),
	} {
		_, err := store.Get(t.Context(), handle)
		require.ErrorIs(t, err, blobstore.ErrInvalidHandle, handle)
	}
}

func TestGatewayFallback(t *testing.T) {
	t.Parallel()

	upstream := newStore(t, "")

	e := echo.New()
	upstream.Routes(e)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	text := "  clue blob with surrounding whitespace  "

	handle, err := upstream.Put(t.Context(), text)
	require.NoError(t, err)

	store := newStore(t, server.URL+"/api/blobs/")

	got, err := store.Get(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, text, got)

	// The fetched blob is now cached locally.
	server.Close()

	got, err = store.Get(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestGatewayMissAndCorruption(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, blobstore.Handle("tampered")) {
			_, _ = w.Write([]byte("something else"))

			return
		}

		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	store := newStore(t, server.URL)

	_, err := store.Get(t.Context(), blobstore.Handle("absent"))
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	_, err = store.Get(t.Context(), blobstore.Handle("tampered"))
	require.ErrorIs(t, err, blobstore.ErrCorruptBlob)
}

func TestUploadRoute(t *testing.T) {
	t.Parallel()

	store := newStore(t, "")

	e := echo.New()
	store.Routes(e)

	req := httptest.NewRequest(http.MethodPost, "/api/blobs", strings.NewReader("payload"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), blobstore.Handle("payload"))

	req = httptest.NewRequest(http.MethodGet, "/api/blobs/"+blobstore.Handle("payload"), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
}
