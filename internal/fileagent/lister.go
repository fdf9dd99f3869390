package fileagent

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
)

// Lister reads the entries of one directory.
type Lister interface {
	ListEntries(ctx context.Context, path string) ([]FileMeta, error)
}

// FSLister lists regular files through an afero filesystem.
type FSLister struct {
	Fs afero.Fs
}

// NewOSLister lists the real filesystem.
func NewOSLister() FSLister { return FSLister{Fs: afero.NewOsFs()} }

func (l FSLister) ListEntries(ctx context.Context, path string) ([]FileMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(l.Fs, path)
	if err != nil {
		return nil, err
	}
	out := make([]FileMeta, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		out = append(out, FileMeta{
			Name:       fi.Name(),
			Path:       filepath.Join(path, fi.Name()),
			ModifiedAt: fi.ModTime(),
			Size:       fi.Size(),
		})
	}
	return out, nil
}
