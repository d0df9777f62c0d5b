package assets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"golang.org/x/exp/mmap"
)

type FileMode uint8

const (
	FileModeRead FileMode = iota
	FileModeWrite
)

func (m FileMode) String() string {
	switch m {
	case FileModeRead:
		return "read"
	case FileModeWrite:
		return "write"
	default:
		return fmt.Sprintf("FileMode(%d)", uint8(m))
	}
}

// File is an open asset file. Files opened for reading reject writes and vice versa
// for the backing store, but both support random access reads.
type File interface {
	io.Reader
	io.ReaderAt
	io.Writer
	Size() int64
	// Name is the virtual filename the file was opened with.
	Name() string
}

// FileManager opens asset files by virtual filename. OpenFile and CloseFile
// are called from the streamer's deserialization goroutine and must be safe
// for concurrent use.
type FileManager interface {
	OpenFile(mode FileMode, virtualFilename string) (File, error)
	CloseFile(file File) error
}

// FileLister enumerates the virtual filenames a file manager can open.
type FileLister interface {
	ListFiles() ([]string, error)
}

/**
 * @brief DiskFileManager serves files below a base directory. Reads are memory mapped,
 * writes go through a regular file and create missing directories.
 */
type DiskFileManager struct {
	baseDir   string
	openFiles atomic.Int32
}

func NewDiskFileManager(baseDir string) (*DiskFileManager, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("asset directory '%s': %w", baseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset directory '%s' is not a directory", baseDir)
	}
	return &DiskFileManager{baseDir: abs}, nil
}

func (fm *DiskFileManager) BaseDir() string {
	return fm.baseDir
}

// NumberOfOpenFiles is the number of files opened and not yet closed.
func (fm *DiskFileManager) NumberOfOpenFiles() int32 {
	return fm.openFiles.Load()
}

// AbsolutePath maps a virtual filename below the base directory. Paths escaping
// the base directory are rejected.
func (fm *DiskFileManager) AbsolutePath(virtualFilename string) (string, error) {
	name := filepath.FromSlash(NormalizeVirtualFilename(virtualFilename))
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("virtual filename '%s' leaves the asset directory: %w", virtualFilename, core.ErrAssetUnavailable)
	}
	return filepath.Join(fm.baseDir, name), nil
}

// VirtualFilename is the inverse of AbsolutePath.
func (fm *DiskFileManager) VirtualFilename(absolutePath string) (string, error) {
	rel, err := filepath.Rel(fm.baseDir, absolutePath)
	if err != nil {
		return "", err
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("'%s' is outside of '%s'", absolutePath, fm.baseDir)
	}
	return NormalizeVirtualFilename(rel), nil
}

func (fm *DiskFileManager) OpenFile(mode FileMode, virtualFilename string) (File, error) {
	path, err := fm.AbsolutePath(virtualFilename)
	if err != nil {
		return nil, err
	}

	switch mode {
	case FileModeRead:
		reader, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open '%s': %w: %w", virtualFilename, core.ErrAssetUnavailable, err)
		}
		fm.openFiles.Add(1)
		return &mappedFile{name: NormalizeVirtualFilename(virtualFilename), reader: reader}, nil
	case FileModeWrite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for '%s': %w", virtualFilename, err)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create '%s': %w", virtualFilename, err)
		}
		fm.openFiles.Add(1)
		return &writableFile{name: NormalizeVirtualFilename(virtualFilename), file: f}, nil
	default:
		return nil, fmt.Errorf("open '%s': unsupported file mode %s", virtualFilename, mode)
	}
}

func (fm *DiskFileManager) CloseFile(file File) error {
	c, ok := file.(io.Closer)
	if !ok {
		return fmt.Errorf("close '%s': file was not opened by the disk file manager", file.Name())
	}
	fm.openFiles.Add(-1)
	return c.Close()
}

// ListFiles walks the base directory. Hidden files and directories are skipped.
func (fm *DiskFileManager) ListFiles() ([]string, error) {
	var names []string
	err := filepath.WalkDir(fm.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != fm.baseDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name, err := fm.VirtualFilename(path)
		if err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type mappedFile struct {
	name   string
	reader *mmap.ReaderAt
	offset int64
}

func (f *mappedFile) Read(p []byte) (int, error) {
	if f.offset >= int64(f.reader.Len()) {
		return 0, io.EOF
	}
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt turns a fault on a mapped page, e.g. after the file was truncated on disk, into an error.
func (f *mappedFile) ReadAt(p []byte, off int64) (n int, err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("read '%s' at offset %d: %v: %w", f.name, off, r, core.ErrAssetUnavailable)
		}
	}()
	return f.reader.ReadAt(p, off)
}

func (f *mappedFile) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("write to '%s' opened for reading: %w", f.name, errors.ErrUnsupported)
}

func (f *mappedFile) Size() int64 {
	return int64(f.reader.Len())
}

func (f *mappedFile) Name() string {
	return f.name
}

func (f *mappedFile) Close() error {
	return f.reader.Close()
}

type writableFile struct {
	name string
	file *os.File
}

func (f *writableFile) Read(p []byte) (int, error) {
	return f.file.Read(p)
}

func (f *writableFile) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

func (f *writableFile) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

func (f *writableFile) Size() int64 {
	info, err := f.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (f *writableFile) Name() string {
	return f.name
}

func (f *writableFile) Close() error {
	return f.file.Close()
}

// MemoryFileManager keeps every file in memory. Used by tools and tests.
type MemoryFileManager struct {
	mutex sync.RWMutex
	files map[string][]byte
}

func NewMemoryFileManager() *MemoryFileManager {
	return &MemoryFileManager{
		files: make(map[string][]byte),
	}
}

func (fm *MemoryFileManager) AddFile(virtualFilename string, data []byte) {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	fm.files[NormalizeVirtualFilename(virtualFilename)] = data
}

func (fm *MemoryFileManager) RemoveFile(virtualFilename string) bool {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()

	name := NormalizeVirtualFilename(virtualFilename)
	if _, ok := fm.files[name]; !ok {
		return false
	}
	delete(fm.files, name)
	return true
}

// ReadFile returns the stored bytes. The slice must not be modified.
func (fm *MemoryFileManager) ReadFile(virtualFilename string) ([]byte, bool) {
	fm.mutex.RLock()
	defer fm.mutex.RUnlock()
	data, ok := fm.files[NormalizeVirtualFilename(virtualFilename)]
	return data, ok
}

func (fm *MemoryFileManager) OpenFile(mode FileMode, virtualFilename string) (File, error) {
	name := NormalizeVirtualFilename(virtualFilename)
	switch mode {
	case FileModeRead:
		data, ok := fm.ReadFile(name)
		if !ok {
			return nil, fmt.Errorf("open '%s': %w: %w", virtualFilename, core.ErrAssetUnavailable, fs.ErrNotExist)
		}
		return &memoryFile{name: name, reader: bytes.NewReader(data)}, nil
	case FileModeWrite:
		return &memoryFile{name: name, writer: &bytes.Buffer{}}, nil
	default:
		return nil, fmt.Errorf("open '%s': unsupported file mode %s", virtualFilename, mode)
	}
}

// CloseFile stores the content of files opened for writing.
func (fm *MemoryFileManager) CloseFile(file File) error {
	f, ok := file.(*memoryFile)
	if !ok {
		return fmt.Errorf("close '%s': file was not opened by the memory file manager", file.Name())
	}
	if f.writer != nil {
		fm.AddFile(f.name, f.writer.Bytes())
	}
	return nil
}

func (fm *MemoryFileManager) ListFiles() ([]string, error) {
	fm.mutex.RLock()
	names := make([]string, 0, len(fm.files))
	for name := range fm.files {
		names = append(names, name)
	}
	fm.mutex.RUnlock()

	sort.Strings(names)
	return names, nil
}

type memoryFile struct {
	name   string
	reader *bytes.Reader
	writer *bytes.Buffer
}

func (f *memoryFile) Read(p []byte) (int, error) {
	if f.reader == nil {
		return f.writer.Read(p)
	}
	return f.reader.Read(p)
}

func (f *memoryFile) ReadAt(p []byte, off int64) (int, error) {
	if f.reader == nil {
		return bytes.NewReader(f.writer.Bytes()).ReadAt(p, off)
	}
	return f.reader.ReadAt(p, off)
}

func (f *memoryFile) Write(p []byte) (int, error) {
	if f.writer == nil {
		return 0, fmt.Errorf("write to '%s' opened for reading: %w", f.name, errors.ErrUnsupported)
	}
	return f.writer.Write(p)
}

func (f *memoryFile) Size() int64 {
	if f.reader == nil {
		return int64(f.writer.Len())
	}
	return f.reader.Size()
}

func (f *memoryFile) Name() string {
	return f.name
}
