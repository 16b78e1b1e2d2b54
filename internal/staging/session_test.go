package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banux/nxt-catalog/internal/catalog"
)

func png(name string) FileHandle {
	return BytesFile(name, "image/png", []byte("\x89PNG fake "+name))
}

func threeExisting() []ExistingPreview {
	return []ExistingPreview{
		{DisplayURL: "https://files.test/storage/a.jpg?v=1", OriginalIndex: 0},
		{DisplayURL: "https://files.test/storage/b.jpg?v=1", OriginalIndex: 1},
		{DisplayURL: "https://files.test/storage/c.jpg?v=1", OriginalIndex: 2},
	}
}

func TestRemoveExisting_ShiftedPositionsKeepOriginalIndex(t *testing.T) {
	// Scenario C
	s := NewEditSession("p1", "thumb.jpg", threeExisting())

	s.RemoveExisting(1)
	assert.Equal(t, []int{1}, s.RemovedIndices())

	s.RemoveExisting(1)
	assert.Equal(t, []int{1, 2}, s.RemovedIndices())

	require.Len(t, s.Existing(), 1)
	assert.Equal(t, 0, s.Existing()[0].OriginalIndex)
	assert.True(t, s.HasPendingRemovals())
	assert.True(t, s.NeedsMultipart())
}

func TestRemoveExisting_OutOfRangeIsNoop(t *testing.T) {
	s := NewEditSession("p1", "thumb.jpg", threeExisting())
	s.RemoveExisting(-1)
	s.RemoveExisting(3)
	assert.Len(t, s.Existing(), 3)
	assert.Empty(t, s.RemovedIndices())
	assert.False(t, s.NeedsMultipart())
}

func TestRemovedIndices_SortedAscending(t *testing.T) {
	s := NewEditSession("p1", "thumb.jpg", threeExisting())
	s.RemoveExisting(2)
	s.RemoveExisting(0)
	s.RemoveExisting(0)
	assert.Equal(t, []int{0, 1, 2}, s.RemovedIndices())
}

func TestStageNewImages_AppendsFilesAndPreviews(t *testing.T) {
	s := NewCreateSession()
	err := s.StageNewImages(context.Background(), []FileHandle{png("one.png"), png("two.png")})
	require.NoError(t, err)

	require.Len(t, s.NewFiles(), 2)
	require.Len(t, s.NewPreviews(), 2)
	assert.Equal(t, "one.png", s.NewFiles()[0].Name)
	assert.True(t, strings.HasPrefix(s.NewPreviews()[0], "data:image/png;base64,"))
	assert.True(t, s.HasPendingAdditions())
	assert.True(t, s.NeedsMultipart())
}

func TestStageNewImages_RejectsWholeBatch(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		files   []FileHandle
		wantErr error
	}{
		{
			name:    "unsupported type",
			files:   []FileHandle{png("ok.png"), BytesFile("doc.pdf", "application/pdf", []byte("%PDF"))},
			wantErr: ErrUnsupportedType,
		},
		{
			name:    "too large",
			limits:  Limits{MaxFileSize: 4},
			files:   []FileHandle{BytesFile("big.jpg", "image/jpeg", []byte("12345"))},
			wantErr: ErrFileTooLarge,
		},
		{
			name:    "over cap",
			limits:  Limits{MaxImages: 4},
			files:   []FileHandle{png("1.png"), png("2.png")},
			wantErr: ErrTooManyImages,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewEditSession("p1", "thumb.jpg", threeExisting(), WithLimits(tt.limits))
			err := s.StageNewImages(context.Background(), tt.files)
			require.ErrorIs(t, err, tt.wantErr)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, FieldFeatureImages, verr.Field)
			assert.NotEmpty(t, s.FieldErrors()[FieldFeatureImages])

			assert.Empty(t, s.NewFiles())
			assert.Empty(t, s.NewPreviews())
			assert.Len(t, s.Existing(), 3)
		})
	}
}

func TestStageNewImages_CapCountsStagedAndExisting(t *testing.T) {
	s := NewEditSession("p1", "thumb.jpg", threeExisting(), WithLimits(Limits{MaxImages: 5}))
	require.NoError(t, s.StageNewImages(context.Background(), []FileHandle{png("1.png")}))
	require.NoError(t, s.StageNewImages(context.Background(), []FileHandle{png("2.png")}))
	assert.Equal(t, 5, s.ImageCount())

	err := s.StageNewImages(context.Background(), []FileHandle{png("3.png")})
	require.ErrorIs(t, err, ErrTooManyImages)
	assert.Equal(t, 5, s.ImageCount())

	s.RemoveExisting(0)
	require.NoError(t, s.StageNewImages(context.Background(), []FileHandle{png("3.png")}))
	assert.Equal(t, 5, s.ImageCount())
	assert.Empty(t, s.FieldErrors()[FieldFeatureImages], "successful batch clears the field error")
}

func TestStageNewImages_PreviewFailureStagesNothing(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("decode failed")
	previewer := func(ctx context.Context, f FileHandle) (string, error) {
		calls.Add(1)
		if f.Name == "bad.png" {
			return "", boom
		}
		return "data:image/png;base64,", nil
	}
	s := NewCreateSession(WithPreviewer(previewer))

	err := s.StageNewImages(context.Background(), []FileHandle{png("a.png"), png("bad.png"), png("c.png")})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.NewFiles())
	assert.Empty(t, s.NewPreviews())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestStageNewImages_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewCreateSession()
	err := s.StageNewImages(ctx, []FileHandle{png("a.png")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.NewFiles())
}

func TestRemoveNew_KeepsAlignment(t *testing.T) {
	s := NewCreateSession()
	require.NoError(t, s.StageNewImages(context.Background(), []FileHandle{png("a.png"), png("b.png"), png("c.png")}))

	s.RemoveNew(1)
	s.RemoveNew(9)

	files := s.NewFiles()
	previews := s.NewPreviews()
	require.Len(t, files, 2)
	require.Len(t, previews, 2)
	assert.Equal(t, "a.png", files[0].Name)
	assert.Equal(t, "c.png", files[1].Name)
	for i, f := range files {
		want, err := DataURIPreview(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, want, previews[i])
	}
}

func TestThumbnailSlot(t *testing.T) {
	s := NewEditSession("p1", "https://files.test/storage/t.jpg", nil)
	assert.Equal(t, "https://files.test/storage/t.jpg", s.Thumbnail())
	require.NoError(t, s.Validate())
	assert.False(t, s.NeedsMultipart())

	s.RemoveThumbnail()
	assert.Empty(t, s.Thumbnail())
	err := s.Validate()
	require.ErrorIs(t, err, ErrThumbnailRequired)
	assert.NotEmpty(t, s.FieldErrors()[FieldThumbnail])

	require.NoError(t, s.StageThumbnail(context.Background(), png("new.png")))
	assert.True(t, strings.HasPrefix(s.Thumbnail(), "data:image/png;base64,"))
	require.NotNil(t, s.ThumbnailFile())
	assert.Equal(t, "new.png", s.ThumbnailFile().Name)
	assert.True(t, s.NeedsMultipart())
	require.NoError(t, s.Validate())
	assert.Empty(t, s.FieldErrors()[FieldThumbnail])
}

func TestValidate_CreateNeedsThumbnail(t *testing.T) {
	s := NewCreateSession()
	var verr *ValidationError
	require.ErrorAs(t, s.Validate(), &verr)
	assert.Equal(t, FieldThumbnail, verr.Field)

	err := s.StageThumbnail(context.Background(), BytesFile("x.txt", "text/plain", []byte("x")))
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Nil(t, s.ThumbnailFile())
}

func TestServerErrors(t *testing.T) {
	s := NewCreateSession()
	s.ApplyServerErrors(catalog.FieldErrors{
		"title": {"The title field is required."},
		"price": {"must be a number", "must be positive"},
		"empty": nil,
	})
	got := s.FieldErrors()
	assert.Equal(t, "The title field is required.", got["title"])
	assert.Equal(t, "must be a number must be positive", got["price"])
	assert.NotContains(t, got, "empty")

	got["title"] = "mutated"
	assert.Equal(t, "The title field is required.", s.FieldErrors()["title"])

	s.ClearErrors()
	assert.Empty(t, s.FieldErrors())
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "image/jpeg", FileHandle{ContentType: "IMAGE/JPEG; charset=binary"}.MediaType())
	assert.Equal(t, "image/webp", FileHandle{ContentType: " image/webp "}.MediaType())
}

func TestOSFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000"), 0o644))

	f, err := OSFile(path)
	require.NoError(t, err)
	assert.Equal(t, "shot.png", f.Name)
	assert.Equal(t, "image/png", f.MediaType())
	assert.Equal(t, int64(12), f.Size)

	noExt := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(noExt, []byte("GIF89a......"), 0o644))
	f, err = OSFile(noExt)
	require.NoError(t, err)
	assert.Equal(t, "image/gif", f.MediaType())

	_, err = OSFile(dir)
	assert.Error(t, err)
}
