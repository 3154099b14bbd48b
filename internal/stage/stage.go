// Package stage copies a packaged worker bundle into a per-user cache so it
// never runs from inside the application bundle, re-staging only when the
// source fingerprint changes.
package stage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/constants"
	"github.com/steveyegge/sidecar/internal/util"
)

// ErrNotPackaged means the resource directory is a development layout with no
// bundle to stage. Callers fall back to the default launch path.
var ErrNotPackaged = errors.New("not a packaged distribution")

const (
	lockFileName        = ".stage.lock"
	fingerprintFileName = ".fingerprint"
)

// Result describes a staged bundle.
type Result struct {
	// Path is the cached worker executable.
	Path string
	// SupportDir is the cached support directory.
	SupportDir string
	// Fingerprint identifies the source executable the cache was built from.
	Fingerprint string
	// Restaged is true when this call copied files.
	Restaged bool
}

// Stager stages the bundle found in SourceDir into CacheDir.
type Stager struct {
	SourceDir  string
	CacheDir   string
	Binary     string
	SupportDir string
	Mode       string

	log *zap.Logger
}

// New returns a Stager with the bundle's default names and size fingerprints.
func New(sourceDir, cacheDir string, log *zap.Logger) *Stager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stager{
		SourceDir:  sourceDir,
		CacheDir:   cacheDir,
		Binary:     constants.WorkerBinary,
		SupportDir: constants.SupportDirName,
		Mode:       constants.FingerprintSize,
		log:        log,
	}
}

func (s *Stager) sourceExe() string {
	return filepath.Join(s.SourceDir, exeName(s.Binary))
}

// SourceExecutable is the bundled worker binary that Stage copies from.
func (s *Stager) SourceExecutable() string { return s.sourceExe() }

func (s *Stager) sourceSupport() string {
	return filepath.Join(s.SourceDir, s.SupportDir)
}

func (s *Stager) cachedExe() string {
	return filepath.Join(s.CacheDir, exeName(s.Binary))
}

func (s *Stager) cachedSupport() string {
	return filepath.Join(s.CacheDir, s.SupportDir)
}

// IsPackaged reports whether the support directory sits next to the worker binary.
func (s *Stager) IsPackaged() bool {
	info, err := os.Stat(s.sourceSupport())
	return err == nil && info.IsDir()
}

// Stage returns a runnable cached copy of the bundle, copying it first if the
// cache is missing or stale. A cross-process lock serializes concurrent stages.
func (s *Stager) Stage() (*Result, error) {
	if !s.IsPackaged() {
		return nil, ErrNotPackaged
	}
	if _, err := os.Stat(s.sourceExe()); err != nil {
		return nil, fmt.Errorf("source executable: %w", err)
	}

	if err := os.MkdirAll(s.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	lock := flock.New(filepath.Join(s.CacheDir, lockFileName))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("locking cache dir: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	want, err := Fingerprint(s.sourceExe(), s.Mode)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting source: %w", err)
	}

	res := &Result{
		Path:        s.cachedExe(),
		SupportDir:  s.cachedSupport(),
		Fingerprint: want,
	}

	if s.fresh(want) {
		s.log.Debug("staged bundle is current", zap.String("path", res.Path), zap.String("fingerprint", want))
		return res, nil
	}

	s.log.Info("staging worker bundle",
		zap.String("from", s.SourceDir),
		zap.String("to", s.CacheDir),
		zap.String("fingerprint", want))

	// The marker goes first and comes back last, so a stage interrupted
	// anywhere in between is redone on the next launch.
	marker := filepath.Join(s.CacheDir, fingerprintFileName)
	if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("clearing fingerprint: %w", err)
	}
	if err := copyFile(s.sourceExe(), res.Path, 0755); err != nil {
		return nil, fmt.Errorf("copying executable: %w", err)
	}
	if err := os.Chmod(res.Path, 0755); err != nil {
		return nil, fmt.Errorf("chmod executable: %w", err)
	}
	if err := os.RemoveAll(res.SupportDir); err != nil {
		return nil, fmt.Errorf("removing old support dir: %w", err)
	}
	if err := copyTree(s.sourceSupport(), res.SupportDir); err != nil {
		return nil, fmt.Errorf("copying support dir: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := restoreLibraryModes(res.SupportDir); err != nil {
			return nil, fmt.Errorf("restoring library permissions: %w", err)
		}
	}
	if err := util.AtomicWriteFile(marker, []byte(want+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("recording fingerprint: %w", err)
	}

	res.Restaged = true
	return res, nil
}

// fresh reports whether the last stage completed from a source with
// fingerprint want and its executable and support dir are still in place.
func (s *Stager) fresh(want string) bool {
	data, err := os.ReadFile(filepath.Join(s.CacheDir, fingerprintFileName))
	if err != nil || strings.TrimSpace(string(data)) != want {
		return false
	}
	if info, err := os.Stat(s.cachedSupport()); err != nil || !info.IsDir() {
		return false
	}
	// Size is cheap to recompute, which catches a cached copy that was
	// replaced or truncated after staging.
	have, err := Fingerprint(s.cachedExe(), constants.FingerprintSize)
	if err != nil {
		return false
	}
	if s.Mode == constants.FingerprintSize || s.Mode == "" {
		return have == want
	}
	return true
}

// restoreLibraryModes sets 0755 on shared libraries, which copying does not
// always preserve.
func restoreLibraryModes(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() {
			return nil
		}
		if isSharedLibrary(d.Name()) {
			return os.Chmod(path, 0755)
		}
		return nil
	})
}

func isSharedLibrary(name string) bool {
	return strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.") || strings.HasSuffix(name, ".dylib")
}

func exeName(base string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(base), ".exe") {
		return base + ".exe"
	}
	return base
}

// copyFile copies src to dst through a temp file and rename, so a running
// cached executable is replaced rather than rewritten in place.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// copyTree deep-copies src into dst, recreating symlinks as symlinks.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}
