package output

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveConfig configures a DriveUploader.
type DriveConfig struct {
	FolderID     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Subfolder, when set, is created under FolderID on first use.
	Subfolder string
	// Options are extra client options, e.g. an endpoint for tests.
	Options []option.ClientOption
}

// DriveUploader uploads tracks into a Google Drive folder using an
// installed-app refresh token.
type DriveUploader struct {
	svc       *drive.Service
	root      string
	subfolder string

	once     sync.Mutex
	folderID string
}

// NewDriveUploader builds the Drive client.
func NewDriveUploader(ctx context.Context, cfg DriveConfig) (*DriveUploader, error) {
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("drive folder id is required")
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, cfg.Options...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveUploader{svc: svc, root: cfg.FolderID, subfolder: cfg.Subfolder}, nil
}

// FileURL returns the browser link for a Drive file id.
func FileURL(id string) string {
	return "https://drive.google.com/file/d/" + id + "/view"
}

// folder resolves the upload folder, creating the sub-folder once.
func (d *DriveUploader) folder(ctx context.Context) (string, error) {
	if d.subfolder == "" {
		return d.root, nil
	}
	d.once.Lock()
	defer d.once.Unlock()
	if d.folderID != "" {
		return d.folderID, nil
	}
	id, err := d.EnsureFolder(ctx, d.subfolder, d.root)
	if err != nil {
		return "", err
	}
	d.folderID = id
	return id, nil
}

// Upload implements Uploader.
func (d *DriveUploader) Upload(ctx context.Context, localPath, name string) (RemoteFile, error) {
	parent, err := d.folder(ctx)
	if err != nil {
		return RemoteFile{}, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	created, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		Parents:  []string{parent},
		MimeType: "audio/wav",
	}).
		Media(f, googleapi.ContentType("audio/wav")).
		Fields("id", "name", "size", "createdTime").
		Context(ctx).
		Do()
	if err != nil {
		return RemoteFile{}, fmt.Errorf("drive upload failed: %w", err)
	}
	return toRemote(created), nil
}

// List implements Uploader.
func (d *DriveUploader) List(ctx context.Context) ([]RemoteFile, error) {
	parent, err := d.folder(ctx)
	if err != nil {
		return nil, err
	}

	var out []RemoteFile
	err = d.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(parent))).
		Fields("nextPageToken", "files(id,name,size,createdTime,mimeType)").
		OrderBy("createdTime desc").
		PageSize(100).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if f.MimeType == folderMimeType {
					continue
				}
				out = append(out, toRemote(f))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("drive list failed: %w", err)
	}
	return out, nil
}

// EnsureFolder returns the id of the named folder under parent, creating it
// when absent.
func (d *DriveUploader) EnsureFolder(ctx context.Context, name, parent string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and '%s' in parents and trashed=false",
		escapeQuery(name), folderMimeType, escapeQuery(parent))
	found, err := d.svc.Files.List().Q(q).Fields("files(id,name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive folder lookup failed: %w", err)
	}
	if len(found.Files) > 0 {
		return found.Files[0].Id, nil
	}

	created, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parent},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive folder create failed: %w", err)
	}
	return created.Id, nil
}

func toRemote(f *drive.File) RemoteFile {
	return RemoteFile{
		ID:          f.Id,
		Name:        f.Name,
		Size:        f.Size,
		CreatedTime: f.CreatedTime,
		URL:         FileURL(f.Id),
	}
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
