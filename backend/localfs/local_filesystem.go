package localfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const ThumbPrefix = "thumb_"

var ErrInvalidName = errors.New("invalid file or author name")

// FileInfo is one file found under the image root.
type FileInfo struct {
	Author  string
	Name    string
	AbsPath string
	Size    int64
}

// FileStore lays images out as <base>/<author>/<filename> with thumbnails
// beside them as thumb_<filename>.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &FileStore{baseDir: abs}, nil
}

func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// CleanName rejects names that would escape their directory.
func CleanName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	return name, nil
}

// AuthorDir returns and creates the directory holding an author's images.
func (s *FileStore) AuthorDir(author string) (string, error) {
	author, err := CleanName(author)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.baseDir, author)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *FileStore) ImagePath(author, filename string) (string, error) {
	dir, err := s.AuthorDir(author)
	if err != nil {
		return "", err
	}
	name, err := CleanName(filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (s *FileStore) ThumbPath(author, filename string) (string, error) {
	name, err := CleanName(filename)
	if err != nil {
		return "", err
	}
	return s.ImagePath(author, ThumbPrefix+name)
}

// Write stores data at path through a temp file in the same directory so
// readers never observe a partial image.
func (s *FileStore) Write(path string, data []byte) error {
	if err := s.contains(path); err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

func (s *FileStore) Read(path string) ([]byte, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Size reports the size of a stored regular file.
func (s *FileStore) Size(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

func (s *FileStore) Exists(path string) bool {
	_, ok := s.Size(path)
	return ok
}

// List walks the image root. Thumbnails are skipped.
func (s *FileStore) List() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ThumbPrefix) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, filepath.Dir(path))
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Author:  rel,
			Name:    d.Name(),
			AbsPath: path,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *FileStore) contains(path string) error {
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrInvalidName
	}
	return nil
}

// WriteFileAtomic replaces path with data via temp file and rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
