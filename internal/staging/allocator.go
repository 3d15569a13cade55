package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"vexport/internal/logging"
	"vexport/internal/services"
	"vexport/internal/textutil"
)

// statfs is swapped in tests to simulate a full filesystem.
var statfs = unix.Statfs

// Allocator hands out unique destination paths under a staging root.
type Allocator struct {
	root     string
	minFree  uint64
	logger   *slog.Logger
	newToken func() string
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithMinFreeBytes refuses allocations when the staging filesystem has fewer
// available bytes than min.
func WithMinFreeBytes(min uint64) AllocatorOption {
	return func(a *Allocator) { a.minFree = min }
}

// WithLogger sets the allocator logger.
func WithLogger(logger *slog.Logger) AllocatorOption {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAllocator returns an allocator rooted at root.
func NewAllocator(root string, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		root:     strings.TrimSpace(root),
		logger:   logging.NewNop(),
		newToken: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(a.logger, "staging")
	return a
}

// Root returns the staging root directory.
func (a *Allocator) Root() string {
	return a.root
}

// Allocate creates <root>/<uuid>/ and returns <root>/<uuid>/<filename>. The
// file itself is not created. Errors carry services.ErrDestinationUnallocatable.
func (a *Allocator) Allocate(filename string) (string, error) {
	name := textutil.SanitizeFileName(filepath.Base(strings.TrimSpace(filename)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", services.Wrap(services.ErrDestinationUnallocatable, "staging", "allocate", "empty file name", nil)
	}
	if a.root == "" {
		return "", services.Wrap(services.ErrDestinationUnallocatable, "staging", "allocate", "staging directory not configured", nil)
	}
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return "", services.Wrap(services.ErrDestinationUnallocatable, "staging", "create root", a.root, err)
	}
	if err := unix.Access(a.root, unix.W_OK); err != nil {
		return "", services.Wrap(services.ErrDestinationUnallocatable, "staging", "access", a.root+" not writable", err)
	}
	if err := a.checkFreeSpace(); err != nil {
		return "", err
	}

	dir := filepath.Join(a.root, a.newToken())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrDestinationUnallocatable, "staging", "create directory", dir, err)
	}
	dest := filepath.Join(dir, name)
	a.logger.Debug("destination allocated",
		logging.String("destination", dest),
		logging.String(logging.FieldEventType, "destination_allocated"),
	)
	return dest, nil
}

func (a *Allocator) checkFreeSpace() error {
	if a.minFree == 0 {
		return nil
	}
	free, err := FreeBytes(a.root)
	if err != nil {
		return services.Wrap(services.ErrDestinationUnallocatable, "staging", "statfs", a.root, err)
	}
	if free < a.minFree {
		return services.Wrap(services.ErrDestinationUnallocatable, "staging", "free space",
			fmt.Sprintf("%d MiB available, %d MiB required", free>>20, a.minFree>>20), nil)
	}
	return nil
}

// Release removes the allocation directory that holds dest, including any
// partial output. Paths outside the staging root are refused.
func (a *Allocator) Release(dest string) error {
	dir := filepath.Dir(filepath.Clean(dest))
	rel, err := filepath.Rel(a.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("release %s: not an allocation under %s", dest, a.root)
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release %s: %w", dest, err)
	}
	return nil
}

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
