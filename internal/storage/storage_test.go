package storage_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend down")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "storage-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// fakeDrive is an in-memory DriveService that counts folder creations.
type fakeDrive struct {
	mu          sync.Mutex
	folders     map[string]string
	creates     map[string]int
	uploads     []string
	shared      []string
	uploadErr   error
	shareErr    error
	createDelay time.Duration
	nextID      int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{folders: make(map[string]string), creates: make(map[string]int)}
}

func (f *fakeDrive) FindFolder(_ context.Context, parentID, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.folders[parentID+"/"+name]

	return id, ok, nil
}

func (f *fakeDrive) CreateFolder(_ context.Context, parentID, name string) (string, error) {
	time.Sleep(f.createDelay)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("folder-%d", f.nextID)
	f.folders[parentID+"/"+name] = id
	f.creates[parentID+"/"+name]++

	return id, nil
}

func (f *fakeDrive) UploadFile(_ context.Context, parentID, name, _ string, _ []byte) (*storage.DriveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.uploadErr != nil {
		return nil, f.uploadErr
	}

	f.uploads = append(f.uploads, parentID+"/"+name)

	return &storage.DriveFile{ID: "file-" + name, WebViewLink: "https://drive.example/view/" + name}, nil
}

func (f *fakeDrive) ShareWithAnyone(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shared = append(f.shared, fileID)

	return f.shareErr
}

func (f *fakeDrive) createCounts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	counts := make(map[string]int, len(f.creates))
	for key, value := range f.creates {
		counts[key] = value
	}

	return counts
}

// fakeTier is a scripted storage tier.
type fakeTier struct {
	tier      core.Tier
	available bool
	err       error
	calls     int
}

func (f *fakeTier) Tier() core.Tier {
	return f.tier
}

func (f *fakeTier) Available() bool {
	return f.available
}

func (f *fakeTier) Store(_ context.Context, _ *audio.Artifact, d core.Destination, name string) (string, error) {
	f.calls++

	if f.err != nil {
		return "", f.err
	}

	return "store://" + d.CleanFolder() + "/" + name, nil
}

func testArtifact() *audio.Artifact {
	return &audio.Artifact{Data: []byte("narration-audio"), Format: audio.FormatMP3}
}

func TestFolderCache_CreatesOnceSequentially(t *testing.T) {
	t.Parallel()

	drive := newFakeDrive()
	cache := storage.NewFolderCache()
	ctx := context.Background()

	first, err := cache.Resolve(ctx, drive, "root", "audio/storyNarration")
	require.NoError(t, err)

	second, err := cache.Resolve(ctx, drive, "root", "audio/storyNarration")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]int{"root/audio": 1, "folder-1/storyNarration": 1}, drive.createCounts())

	id, err := cache.Resolve(ctx, drive, "root", "/audio//storyNarration/")
	require.NoError(t, err)
	assert.Equal(t, first, id)
	assert.Equal(t, map[string]int{"root/audio": 1, "folder-1/storyNarration": 1}, drive.createCounts())
}

func TestFolderCache_CreatesOnceConcurrently(t *testing.T) {
	t.Parallel()

	drive := newFakeDrive()
	drive.createDelay = 20 * time.Millisecond
	cache := storage.NewFolderCache()

	const workers = 32

	results := make([]string, workers)
	errs := make([]error, workers)

	var waitGroup sync.WaitGroup

	for index := range workers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			results[index], errs[index] = cache.Resolve(context.Background(), drive, "root", "audio/storyNarration")
		}()
	}

	waitGroup.Wait()

	for index := range workers {
		require.NoError(t, errs[index])
		assert.Equal(t, results[0], results[index])
	}

	for key, count := range drive.createCounts() {
		assert.Equal(t, 1, count, "folder %s created more than once", key)
	}

	assert.Len(t, drive.createCounts(), 2)
}

func TestFolderCache_SharesPrefixes(t *testing.T) {
	t.Parallel()

	drive := newFakeDrive()
	cache := storage.NewFolderCache()
	ctx := context.Background()

	_, err := cache.Resolve(ctx, drive, "root", "audio/a")
	require.NoError(t, err)

	_, err = cache.Resolve(ctx, drive, "root", "audio/b")
	require.NoError(t, err)

	counts := drive.createCounts()
	assert.Equal(t, 1, counts["root/audio"])
	assert.Len(t, counts, 3)
}

func TestFolderCache_FindsExistingFolder(t *testing.T) {
	t.Parallel()

	drive := newFakeDrive()
	drive.folders["root/audio"] = "existing"
	cache := storage.NewFolderCache()

	id, err := cache.Resolve(context.Background(), drive, "root", "audio")
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
	assert.Empty(t, drive.createCounts())
}

func TestFolderCache_EmptyPathIsRoot(t *testing.T) {
	t.Parallel()

	id, err := storage.NewFolderCache().Resolve(context.Background(), newFakeDrive(), "root", " / ")
	require.NoError(t, err)
	assert.Equal(t, "root", id)
}

func TestUploader_FallsBackToInline(t *testing.T) {
	t.Parallel()

	primary := &fakeTier{tier: core.TierPrimary, available: true, err: errBackendDown}
	drive := newFakeDrive()
	drive.uploadErr = errBackendDown
	secondary := storage.NewDriveTier(drive, storage.NewFolderCache(), "root", newTestLogger(t))

	uploader := storage.NewUploader(newTestLogger(t), primary, secondary, storage.NewInlineTier())
	artifact := testArtifact()

	result, err := uploader.Upload(context.Background(), artifact, core.Destination{Folder: "audio/storyNarration", Name: "story"})
	require.NoError(t, err)

	assert.Equal(t, core.TierInline, result.Tier)
	assert.Equal(t, 1, primary.calls)

	prefix := "data:audio/mpeg;base64,"
	require.True(t, strings.HasPrefix(result.URL, prefix))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(result.URL, prefix))
	require.NoError(t, err)
	assert.Equal(t, artifact.Data, decoded)
}

func TestUploader_UsesPrimaryFirst(t *testing.T) {
	t.Parallel()

	primary := &fakeTier{tier: core.TierPrimary, available: true}
	secondary := &fakeTier{tier: core.TierSecondary, available: true}

	uploader := storage.NewUploader(newTestLogger(t), primary, secondary, storage.NewInlineTier())

	result, err := uploader.Upload(context.Background(), testArtifact(), core.Destination{Folder: "audio", Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, core.TierPrimary, result.Tier)
	assert.Equal(t, "store://audio/a.mp3", result.URL)
	assert.Zero(t, secondary.calls)
}

func TestUploader_SkipsUnavailablePrimary(t *testing.T) {
	t.Parallel()

	primary := &fakeTier{tier: core.TierPrimary}
	drive := newFakeDrive()
	secondary := storage.NewDriveTier(
		drive,
		storage.NewFolderCache(),
		"root",
		newTestLogger(t),
		storage.WithPublicSharing(true),
	)

	uploader := storage.NewUploader(newTestLogger(t), primary, secondary, storage.NewInlineTier())

	result, err := uploader.Upload(context.Background(), testArtifact(), core.Destination{Folder: "audio/story", Name: "ch 1"})
	require.NoError(t, err)

	assert.Equal(t, core.TierSecondary, result.Tier)
	assert.Equal(t, "https://drive.example/view/ch 1.mp3", result.URL)
	assert.Zero(t, primary.calls)
	assert.Equal(t, []string{"folder-2/ch 1.mp3"}, drive.uploads)
	assert.Equal(t, []string{"file-ch 1.mp3"}, drive.shared)
}

func TestDriveTier_ShareFailureKeepsLink(t *testing.T) {
	t.Parallel()

	drive := newFakeDrive()
	drive.shareErr = errBackendDown
	tier := storage.NewDriveTier(drive, storage.NewFolderCache(), "root", newTestLogger(t), storage.WithPublicSharing(true))

	location, err := tier.Store(context.Background(), testArtifact(), core.Destination{}, "x.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example/view/x.mp3", location)
}

func TestDriveTier_Unconfigured(t *testing.T) {
	t.Parallel()

	tier := storage.NewDriveTier(nil, storage.NewFolderCache(), "", newTestLogger(t))
	assert.False(t, tier.Available())

	_, err := tier.Store(context.Background(), testArtifact(), core.Destination{}, "x.mp3")
	require.ErrorIs(t, err, storage.ErrDriveNotConfigured)
}

func TestUploader_EmptyArtifact(t *testing.T) {
	t.Parallel()

	uploader := storage.NewUploader(newTestLogger(t), storage.NewInlineTier())

	_, err := uploader.Upload(context.Background(), nil, core.Destination{})
	require.ErrorIs(t, err, storage.ErrEmptyArtifact)

	_, err = uploader.Upload(context.Background(), &audio.Artifact{Format: audio.FormatMP3}, core.Destination{})
	require.ErrorIs(t, err, storage.ErrEmptyArtifact)
}

func TestUploader_AllTiersFailedWithoutInline(t *testing.T) {
	t.Parallel()

	primary := &fakeTier{tier: core.TierPrimary, available: true, err: errBackendDown}
	uploader := storage.NewUploader(newTestLogger(t), primary, nil)

	_, err := uploader.Upload(context.Background(), testArtifact(), core.Destination{})
	require.ErrorIs(t, err, core.ErrAllStorageTiersFailed)
	require.ErrorIs(t, err, errBackendDown)
}

func TestArtifactName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "chapter_1.wav", storage.ArtifactName(core.Destination{Name: "chapter/1"}, audio.FormatWAV))

	generated := storage.ArtifactName(core.Destination{}, audio.FormatMP3)
	assert.True(t, strings.HasSuffix(generated, ".mp3"))
	assert.Len(t, generated, 36+len(".mp3"))
}
