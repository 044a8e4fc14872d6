// Package forestmount projects a forest as a read-only filesystem and
// serves it over NFS. It adapts forest.Tree to billy.Filesystem for
// willscott/go-nfs, so a mounted forest can be explored with ls and
// cat: every record is a directory named by its decimal id, nested
// under its ancestors, with virtual files describing the record.
package forestmount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/canopy/internal/forest"
)

var errReadOnly = fmt.Errorf("read-only filesystem")

// Per-record virtual files.
const (
	fileRecord   = "record.json" // payload plus id and parent_id
	fileChain    = "chain"       // the record's materialized path
	fileAncestry = "ancestry"    // ancestor ids root→self, one per line
)

// metaFile sits at the mount root and describes the mount itself.
const metaFile = "_canopy.json"

// ForestFS adapts a forest.Tree to billy.Filesystem.
type ForestFS struct {
	tree      *forest.Tree
	metaJSON  []byte
	mountTime time.Time
}

// NewForestFS creates a billy.Filesystem over the given tree. meta is
// rendered once into the root's _canopy.json.
func NewForestFS(tree *forest.Tree, meta map[string]any) *ForestFS {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["mounted_at"] = time.Now().UTC().Format(time.RFC3339)
	return &ForestFS{
		tree:      tree,
		metaJSON:  renderJSON(meta),
		mountTime: time.Now(),
	}
}

// --- billy.Basic ---

func (fs *ForestFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *ForestFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *ForestFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}
	filename = cleanPath(filename)

	if filename == "/"+metaFile {
		return &bytesFile{name: metaFile, data: fs.metaJSON}, nil
	}

	node, virtual, err := fs.resolve(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	if virtual == "" {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}

	data, err := fs.renderVirtual(node, virtual)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	return &bytesFile{name: virtual, data: data}, nil
}

func (fs *ForestFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *ForestFS) Rename(oldpath, newpath string) error { return errReadOnly }
func (fs *ForestFS) Remove(filename string) error         { return errReadOnly }

func (fs *ForestFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *ForestFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *ForestFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)
	ctx := context.Background()

	if path == "/" {
		roots, err := fs.tree.Store().ByParent(ctx, nil)
		if err != nil {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: err}
		}
		infos := make([]os.FileInfo, 0, len(roots)+1)
		infos = append(infos, &staticFileInfo{
			name:    metaFile,
			size:    int64(len(fs.metaJSON)),
			mode:    0o444,
			modTime: fs.mountTime,
		})
		for _, r := range roots {
			infos = append(infos, fs.dirInfo(r))
		}
		return infos, nil
	}

	node, virtual, err := fs.resolve(path)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}
	if virtual != "" {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: fmt.Errorf("not a directory")}
	}

	children, err := fs.tree.Store().ByParent(ctx, &node.ID)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: err}
	}

	infos := make([]os.FileInfo, 0, len(children)+3)
	for _, name := range []string{fileRecord, fileChain, fileAncestry} {
		data, err := fs.renderVirtual(node, name)
		if err != nil {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: err}
		}
		infos = append(infos, &staticFileInfo{
			name:    name,
			size:    int64(len(data)),
			mode:    0o444,
			modTime: fs.mountTime,
		})
	}
	for _, c := range children {
		infos = append(infos, fs.dirInfo(c))
	}
	return infos, nil
}

func (fs *ForestFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *ForestFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)

	if filename == "/" {
		return &staticFileInfo{
			name:    "/",
			mode:    os.ModeDir | 0o555,
			modTime: fs.mountTime,
		}, nil
	}
	if filename == "/"+metaFile {
		return &staticFileInfo{
			name:    metaFile,
			size:    int64(len(fs.metaJSON)),
			mode:    0o444,
			modTime: fs.mountTime,
		}, nil
	}

	node, virtual, err := fs.resolve(filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	if virtual == "" {
		return fs.dirInfo(node), nil
	}

	data, err := fs.renderVirtual(node, virtual)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: err}
	}
	return &staticFileInfo{
		name:    virtual,
		size:    int64(len(data)),
		mode:    0o444,
		modTime: fs.mountTime,
	}, nil
}

func (fs *ForestFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *ForestFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *ForestFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *ForestFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *ForestFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// resolve maps a filesystem path onto a record and, when the last
// segment names one, a virtual file. The directory chain must match
// the record's actual ancestry, so /1/3 resolves only if 3's parent
// chain is exactly [1].
func (fs *ForestFS) resolve(path string) (*forest.Node, string, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return nil, "", os.ErrNotExist
	}

	virtual := ""
	switch last := segs[len(segs)-1]; last {
	case fileRecord, fileChain, fileAncestry:
		virtual = last
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return nil, "", os.ErrNotExist
	}

	ids := make([]int64, len(segs))
	for i, seg := range segs {
		id, err := strconv.ParseInt(seg, 10, 64)
		if err != nil || id <= 0 {
			return nil, "", os.ErrNotExist
		}
		ids[i] = id
	}

	node, err := fs.tree.Store().Get(context.Background(), ids[len(ids)-1])
	if err != nil {
		return nil, "", err
	}
	chain, err := forest.AncestorIDs(node, true)
	if err != nil {
		return nil, "", err
	}
	if len(chain) != len(ids) {
		return nil, "", os.ErrNotExist
	}
	for i := range chain {
		if chain[i] != ids[i] {
			return nil, "", os.ErrNotExist
		}
	}
	return node, virtual, nil
}

func (fs *ForestFS) renderVirtual(n *forest.Node, name string) ([]byte, error) {
	switch name {
	case fileRecord:
		rec := make(map[string]any, len(n.Payload)+2)
		for k, v := range n.Payload {
			rec[k] = v
		}
		rec["id"] = n.ID
		if n.ParentID != nil {
			rec["parent_id"] = *n.ParentID
		} else {
			rec["parent_id"] = nil
		}
		return renderJSON(rec), nil
	case fileChain:
		return []byte(n.PathString() + "\n"), nil
	case fileAncestry:
		ids, err := forest.AncestorIDs(n, true)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, id := range ids {
			b.WriteString(strconv.FormatInt(id, 10))
			b.WriteByte('\n')
		}
		return []byte(b.String()), nil
	}
	return nil, os.ErrNotExist
}

func (fs *ForestFS) dirInfo(n *forest.Node) os.FileInfo {
	return &staticFileInfo{
		name:    strconv.FormatInt(n.ID, 10),
		mode:    os.ModeDir | 0o555,
		modTime: fs.mountTime,
	}
}

func renderJSON(v any) []byte {
	return []byte(oj.JSON(v, oj.Options{Indent: 2, Sort: true}) + "\n")
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	path = filepath.Clean("/" + path)
	if path == "." {
		return "/"
	}
	return path
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

var (
	_ billy.Filesystem = (*ForestFS)(nil)
	_ billy.Capable    = (*ForestFS)(nil)
)
