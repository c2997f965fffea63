package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Drive API constants.
const (
	folderMimeType      = "application/vnd.google-apps.folder"
	permissionAnyone    = "anyone"
	permissionReader    = "reader"
	uploadChunkSize     = 2 * 1024 * 1024
	downloadURLTemplate = "https://drive.google.com/uc?export=download&id=%s"
	folderQueryTemplate = "name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false"
)

const logFmtShareFailed = "Failed to share %s publicly, keeping private link: %v"

// ErrDriveNotConfigured is returned when the tier has no service or root folder.
var ErrDriveNotConfigured = errors.New("drive storage not configured")

// DriveFile is the subset of file metadata the tier needs.
type DriveFile struct {
	ID             string
	WebViewLink    string
	WebContentLink string
}

// DriveService is the folder-based file store behind the secondary tier.
type DriveService interface {
	FolderService
	UploadFile(ctx context.Context, parentID, name, mimeType string, data []byte) (*DriveFile, error)
	ShareWithAnyone(ctx context.Context, fileID string) error
}

// DriveTier stores artifacts in a folder tree below a root folder.
type DriveTier struct {
	service    DriveService
	folders    *FolderCache
	rootID     string
	makePublic bool
	log        *logger.Logger
}

// DriveOption configures a DriveTier.
type DriveOption func(*DriveTier)

// WithPublicSharing grants anyone-with-the-link read access to each uploaded file.
func WithPublicSharing(enabled bool) DriveOption {
	return func(d *DriveTier) {
		d.makePublic = enabled
	}
}

// NewDriveTier creates the secondary tier. The folder cache is shared with other users
// of the same service.
func NewDriveTier(
	service DriveService,
	folders *FolderCache,
	rootID string,
	log *logger.Logger,
	opts ...DriveOption,
) *DriveTier {
	tier := &DriveTier{
		service: service,
		folders: folders,
		rootID:  rootID,
		log:     log,
	}

	for _, opt := range opts {
		opt(tier)
	}

	return tier
}

// Tier identifies the secondary tier.
func (d *DriveTier) Tier() core.Tier {
	return core.TierSecondary
}

// Available reports whether a service and root folder are configured.
func (d *DriveTier) Available() bool {
	return d != nil && d.service != nil && d.folders != nil && d.rootID != ""
}

// Store resolves the destination folder, uploads the file and returns its link.
func (d *DriveTier) Store(
	ctx context.Context,
	artifact *audio.Artifact,
	destination core.Destination,
	fileName string,
) (string, error) {
	if !d.Available() {
		return "", ErrDriveNotConfigured
	}

	folderID, err := d.folders.Resolve(ctx, d.service, d.rootID, destination.CleanFolder())
	if err != nil {
		return "", err
	}

	file, err := d.service.UploadFile(ctx, folderID, fileName, artifact.Format.MIMEType(), artifact.Data)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", fileName, err)
	}

	if d.makePublic {
		shareErr := d.service.ShareWithAnyone(ctx, file.ID)
		if shareErr != nil {
			d.log.Warn(logFmtShareFailed, fileName, shareErr)
		}
	}

	return fileLink(file), nil
}

func fileLink(file *DriveFile) string {
	switch {
	case file.WebContentLink != "":
		return file.WebContentLink
	case file.WebViewLink != "":
		return file.WebViewLink
	default:
		return fmt.Sprintf(downloadURLTemplate, file.ID)
	}
}

// GoogleDrive implements DriveService with the Drive v3 API.
type GoogleDrive struct {
	files       *drive.FilesService
	permissions *drive.PermissionsService
}

// NewGoogleDrive wraps an existing Drive service.
func NewGoogleDrive(service *drive.Service) *GoogleDrive {
	return &GoogleDrive{
		files:       service.Files,
		permissions: service.Permissions,
	}
}

// NewGoogleDriveFromCredentials builds a Drive client from a service account key file,
// or from Application Default Credentials when credentialsFile is empty.
func NewGoogleDriveFromCredentials(ctx context.Context, credentialsFile string) (*GoogleDrive, error) {
	var opts []option.ClientOption

	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile) // #nosec G304 -- path comes from operator config
		if err != nil {
			return nil, fmt.Errorf("failed to read drive credentials: %w", err)
		}

		config, err := google.JWTConfigFromJSON(data, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse drive credentials: %w", err)
		}

		opts = append(opts, option.WithHTTPClient(config.Client(ctx)))
	} else {
		client, err := google.DefaultClient(ctx, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("failed to load default google credentials: %w", err)
		}

		opts = append(opts, option.WithHTTPClient(client))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return NewGoogleDrive(service), nil
}

// FindFolder returns the first non-trashed folder called name inside parentID.
func (g *GoogleDrive) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	query := fmt.Sprintf(folderQueryTemplate, escapeQuery(name), escapeQuery(parentID), folderMimeType)

	list, err := g.files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, fmt.Errorf("drive list failed: %w", err)
	}

	if len(list.Files) == 0 {
		return "", false, nil
	}

	return list.Files[0].Id, true, nil
}

// CreateFolder creates a folder called name inside parentID.
func (g *GoogleDrive) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}

	created, err := g.files.Create(folder).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive folder create failed: %w", err)
	}

	return created.Id, nil
}

// UploadFile uploads data as a new file inside parentID.
func (g *GoogleDrive) UploadFile(
	ctx context.Context,
	parentID, name, mimeType string,
	data []byte,
) (*DriveFile, error) {
	file := &drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	}

	created, err := g.files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType), googleapi.ChunkSize(uploadChunkSize)).
		Fields("id, webViewLink, webContentLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("drive upload failed: %w", err)
	}

	return &DriveFile{
		ID:             created.Id,
		WebViewLink:    created.WebViewLink,
		WebContentLink: created.WebContentLink,
	}, nil
}

// ShareWithAnyone grants read access to anyone holding the link.
func (g *GoogleDrive) ShareWithAnyone(ctx context.Context, fileID string) error {
	_, err := g.permissions.Create(fileID, &drive.Permission{
		Type: permissionAnyone,
		Role: permissionReader,
	}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive permission create failed: %w", err)
	}

	return nil
}

func escapeQuery(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}
