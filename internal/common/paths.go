package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	MANIFEST_FILE     = "MANIFEST"
	MANIFEST_TMP_FILE = "MANIFEST.tmp"
	WAL_DIR           = "wal"
	SSTABLE_DIR       = "sstable"
	WAL_EXT           = ".log"
	SSTABLE_EXT       = ".sst"
)

// PathManager resolves every on-disk location relative to one data directory.
type PathManager struct {
	root string
}

// NewPathManager returns a PathManager rooted at dir.
func NewPathManager(dir string) *PathManager {
	return &PathManager{root: dir}
}

func (p *PathManager) Root() string {
	return p.root
}

func (p *PathManager) WALDir() string {
	return filepath.Join(p.root, WAL_DIR)
}

func (p *PathManager) SSTableDir() string {
	return filepath.Join(p.root, SSTABLE_DIR)
}

// LevelDir returns the directory holding the SSTables of one level.
func (p *PathManager) LevelDir(level int) string {
	return filepath.Join(p.SSTableDir(), strconv.Itoa(level))
}

func (p *PathManager) ManifestPath() string {
	return filepath.Join(p.root, MANIFEST_FILE)
}

func (p *PathManager) ManifestTmpPath() string {
	return filepath.Join(p.root, MANIFEST_TMP_FILE)
}

// SSTablePath returns the file path for an SSTable at the given level and file number.
func (p *PathManager) SSTablePath(level int, fileNo FileNo) string {
	return filepath.Join(p.LevelDir(level), fmt.Sprintf("%d%s", fileNo, SSTABLE_EXT))
}

// WALPath returns the file path for a WAL with the given file number.
func (p *PathManager) WALPath(fileNo FileNo) string {
	return filepath.Join(p.WALDir(), fmt.Sprintf("%d%s", fileNo, WAL_EXT))
}

// ParseFileNo extracts the file number from a name like "12.sst" or "wal/3.log".
func ParseFileNo(path, ext string) (FileNo, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ext) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, ext), 10, 64)
	if err != nil {
		return 0, false
	}
	return FileNo(n), true
}

// ListFileNos returns the numbers of all files in dir with the given extension.
// A missing directory yields an empty list.
func ListFileNos(dir, ext string) ([]FileNo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []FileNo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := ParseFileNo(e.Name(), ext); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// SyncDir fsyncs a directory so renames and creates inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
