package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ResourcePrefix is accepted (and stripped) in front of scene identifiers.
const ResourcePrefix = "res://"

// Extensions tried, in order, when resolving an identifier against a directory.
var Extensions = []string{".yaml", ".yml", ".yaml.zst"}

// Resolver maps a scene identifier to something the loader can read.
type Resolver interface {
	Resolve(id string) (Resource, error)
}

// Resource is a resolved scene definition.
type Resource struct {
	ID   string
	Path string
	Size int64
	Open func() (io.ReadCloser, error)
}

// NormalizeID strips the resource prefix and cleans the path. It rejects
// identifiers that would escape the resolver root.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, ResourcePrefix)
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrInvalidResource)
	}
	slashed := strings.ReplaceAll(id, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q escapes the scene root", ErrInvalidResource, id)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if clean == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrInvalidResource)
	}
	for _, ext := range Extensions {
		clean = strings.TrimSuffix(clean, ext)
	}
	return clean, nil
}

// DirResolver resolves identifiers to files under Root.
type DirResolver struct {
	Root string
}

func NewDirResolver(root string) *DirResolver {
	return &DirResolver{Root: root}
}

func (r *DirResolver) Resolve(id string) (Resource, error) {
	name, err := NormalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	for _, ext := range Extensions {
		p := filepath.Join(r.Root, filepath.FromSlash(name)+ext)
		st, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Resource{}, fmt.Errorf("%w: %s: %v", ErrInvalidResource, id, err)
		}
		if st.IsDir() {
			continue
		}
		return Resource{
			ID:   name,
			Path: p,
			Size: st.Size(),
			Open: func() (io.ReadCloser, error) { return openFile(p) },
		}, nil
	}
	return Resource{}, fmt.Errorf("%w: %s not found under %s", ErrInvalidResource, id, r.Root)
}

// List returns every identifier available under Root, sorted.
func (r *DirResolver) List() ([]string, error) {
	seen := map[string]bool{}
	err := filepath.WalkDir(r.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, ext := range Extensions {
			if strings.HasSuffix(rel, ext) {
				seen[strings.TrimSuffix(rel, ext)] = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func openFile(p string) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(p, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

// MapResolver serves scene definitions from memory. Entries flagged in
// Compressed hold zstd frames.
type MapResolver struct {
	Scenes     map[string][]byte
	Compressed map[string]bool
}

func (r MapResolver) Resolve(id string) (Resource, error) {
	name, err := NormalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	b, ok := r.Scenes[name]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s not found", ErrInvalidResource, id)
	}
	compressed := r.Compressed[name]
	return Resource{
		ID:   name,
		Path: ResourcePrefix + name,
		Size: int64(len(b)),
		Open: func() (io.ReadCloser, error) {
			if !compressed {
				return io.NopCloser(bytes.NewReader(b)), nil
			}
			dec, err := zstd.NewReader(bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	}, nil
}

// Compress encodes a scene definition for MapResolver.Compressed or a
// .yaml.zst file.
func Compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}
