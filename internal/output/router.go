// Package output maps logical output names to locations and manages the
// WAV files stored there.
package output

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
)

// Target names.
const (
	TargetCh1     = "ch1"
	TargetCh2     = "ch2"
	TargetLibrary = "library"
	TargetGDrive  = "gdrive"

	DefaultTarget = TargetLibrary
)

// Target is a resolved output location.
type Target struct {
	Name string
	Dir  string
	// Remote marks targets that also upload to Drive.
	Remote bool
}

// FileInfo describes a stored track.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// RemoteFile describes a file in the Drive folder.
type RemoteFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	CreatedTime string `json:"created_time,omitempty"`
	URL         string `json:"url"`
}

// Uploader is the remote collaborator of the gdrive target.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) (RemoteFile, error)
	List(ctx context.Context) ([]RemoteFile, error)
}

// WriteResult reports where an artifact ended up.
type WriteResult struct {
	Target    string      `json:"target"`
	Name      string      `json:"name"`
	Path      string      `json:"path"`
	Size      int64       `json:"size"`
	Remote    *RemoteFile `json:"remote,omitempty"`
	RemoteErr error       `json:"-"`
}

// Partial reports a durable local write whose remote upload failed.
func (r WriteResult) Partial() bool {
	return r.RemoteErr != nil
}

// RouterConfig configures a Router.
type RouterConfig struct {
	BaseDir  string
	Uploader Uploader
	Logger   *logging.Logger
}

// Router resolves targets and performs file lifecycle operations.
type Router struct {
	base     string
	targets  map[string]Target
	uploader Uploader
	logger   *logging.Logger
}

// NewRouter creates a router rooted at cfg.BaseDir. Uploader may be nil,
// in which case gdrive writes report a partial success.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	base := filepath.Clean(cfg.BaseDir)
	library := filepath.Join(base, TargetLibrary)
	return &Router{
		base: base,
		targets: map[string]Target{
			TargetCh1:     {Name: TargetCh1, Dir: filepath.Join(base, TargetCh1)},
			TargetCh2:     {Name: TargetCh2, Dir: filepath.Join(base, TargetCh2)},
			TargetLibrary: {Name: TargetLibrary, Dir: library},
			TargetGDrive:  {Name: TargetGDrive, Dir: library, Remote: true},
		},
		uploader: cfg.Uploader,
		logger:   logger,
	}
}

// Names returns the valid target names.
func (r *Router) Names() []string {
	return []string{TargetCh1, TargetCh2, TargetLibrary, TargetGDrive}
}

// RemoteEnabled reports whether a Drive uploader is configured.
func (r *Router) RemoteEnabled() bool {
	return r.uploader != nil
}

// Resolve maps a target name to its location. Empty means library.
func (r *Router) Resolve(name string) (Target, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultTarget
	}
	t, ok := r.targets[key]
	if !ok {
		return Target{}, apperr.InvalidTarget(name, r.Names())
	}
	return t, nil
}

// EnsureDirs creates every local directory. Failures are collected so the
// caller can log them; a read-only base is not fatal.
func (r *Router) EnsureDirs() error {
	var errs []error
	seen := map[string]bool{}
	for _, name := range r.Names() {
		dir := r.targets[name].Dir
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Write stores data as filename under target. The local write always comes
// first; for remote targets the upload is best effort and its failure is
// carried in WriteResult.RemoteErr.
func (r *Router) Write(ctx context.Context, target Target, filename string, data []byte) (WriteResult, error) {
	if err := checkName(filename); err != nil {
		return WriteResult{}, err
	}
	if err := os.MkdirAll(target.Dir, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("failed to create %s: %w", target.Dir, err)
	}

	dest := filepath.Join(target.Dir, filename)
	if err := writeAtomic(dest, data); err != nil {
		return WriteResult{}, err
	}

	res := WriteResult{Target: target.Name, Name: filename, Path: dest, Size: int64(len(data))}
	if !target.Remote {
		return res, nil
	}

	if r.uploader == nil {
		res.RemoteErr = apperr.Configuration("upload", "Google Drive upload is not configured")
		return res, nil
	}
	remote, err := r.uploader.Upload(ctx, dest, filename)
	if err != nil {
		r.logger.Warning("Drive upload of %s failed: %v", filename, err)
		res.RemoteErr = err
		return res, nil
	}
	res.Remote = &remote
	return res, nil
}

// writeAtomic writes through a temporary file in the destination directory
// and renames it into place. The temporary file is removed on any failure.
func writeAtomic(dest string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", dest, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	if err = os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", dest, err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", dest, err)
	}
	return nil
}

// List returns the WAV files of target sorted by name. A missing directory
// lists as empty.
func (r *Router) List(target Target) ([]FileInfo, error) {
	entries, err := os.ReadDir(target.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", target.Dir, err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ListRemote lists the Drive folder.
func (r *Router) ListRemote(ctx context.Context) ([]RemoteFile, error) {
	if r.uploader == nil {
		return nil, apperr.Configuration("list", "Google Drive is not configured (GDRIVE_MUSIC_FOLDER_ID)")
	}
	return r.uploader.List(ctx)
}

// Delete removes filename from target. Only the local copy is removed.
func (r *Router) Delete(target Target, filename string) error {
	if err := checkName(filename); err != nil {
		return err
	}
	path := filepath.Join(target.Dir, filename)
	if filepath.Dir(path) != filepath.Clean(target.Dir) {
		return apperr.Validation("delete", "invalid path %q", filename)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound("delete", "%s not found in %s", filename, target.Name)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return apperr.Validation("delete", "%s is a directory", filename)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// checkName rejects anything that is not a plain file name.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		filepath.Base(name) != name {
		return apperr.Validation("file", "invalid file name %q", name)
	}
	return nil
}
