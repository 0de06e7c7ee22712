package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

type FileOptions struct {
	Extensions []string // default [".js", ".json"]
	MainFiles  []string // default ["index"]
}

// FileResolver resolves relative, absolute and node_modules specifiers on an
// afero filesystem. Paths are slash separated.
type FileResolver struct {
	fs   afero.Fs
	exts []string
	main []string
}

var _ Resolver = (*FileResolver)(nil)

func NewFileResolver(fsys afero.Fs, opts FileOptions) *FileResolver {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	r := &FileResolver{fs: fsys, exts: opts.Extensions, main: opts.MainFiles}
	if len(r.exts) == 0 {
		r.exts = []string{".js", ".json"}
	}
	if len(r.main) == 0 {
		r.main = []string{"index"}
	}
	return r
}

// Ident serializes the options for Options.Ident.
func (r *FileResolver) Ident() string {
	return strings.Join(r.exts, ",") + ";" + strings.Join(r.main, ",")
}

func (r *FileResolver) Resolve(ctx context.Context, req Request, deps *Deps) (Result, error) {
	if deps == nil {
		deps = NewDeps()
	}
	specifier := req.Request
	if specifier == "" {
		return Result{}, errors.New("resolver: empty request")
	}
	if strings.HasPrefix(specifier, "/") || strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || specifier == "." || specifier == ".." {
		base := specifier
		if !path.IsAbs(specifier) {
			base = path.Join(req.Path, specifier)
		}
		return r.resolvePath(ctx, base, deps)
	}
	return r.resolveModule(ctx, req.Path, specifier, deps)
}

// resolveModule walks up from dir looking for node_modules/<specifier>.
func (r *FileResolver) resolveModule(ctx context.Context, dir, specifier string, deps *Deps) (Result, error) {
	dir = path.Clean(dir)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		nm := path.Join(dir, "node_modules")
		info, err := r.stat(nm)
		if err != nil {
			return Result{}, err
		}
		if info != nil && info.IsDir() {
			deps.Contexts.Add(nm)
			res, err := r.resolvePath(ctx, path.Join(nm, specifier), deps)
			if err != nil || res.Found {
				return res, err
			}
		} else {
			deps.Missing.Add(nm)
		}
		parent := path.Dir(dir)
		if parent == dir {
			return Result{}, nil
		}
		dir = parent
	}
}

// resolvePath tries base as a file, with each extension, then as a directory.
func (r *FileResolver) resolvePath(ctx context.Context, base string, deps *Deps) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if p, err := r.tryFile(base, deps); err != nil || p != "" {
		return Result{Path: p, Found: p != ""}, err
	}
	info, err := r.stat(base)
	if err != nil || info == nil || !info.IsDir() {
		return Result{}, err
	}
	if main, err := r.packageMain(base, deps); err != nil {
		return Result{}, err
	} else if main != "" {
		if p, err := r.tryFile(path.Join(base, main), deps); err != nil || p != "" {
			return Result{Path: p, Found: p != ""}, err
		}
	}
	for _, m := range r.main {
		if p, err := r.tryFile(path.Join(base, m), deps); err != nil || p != "" {
			return Result{Path: p, Found: p != ""}, err
		}
	}
	return Result{}, nil
}

// tryFile returns the first existing regular file among p and p+ext.
func (r *FileResolver) tryFile(p string, deps *Deps) (string, error) {
	candidates := make([]string, 0, len(r.exts)+1)
	candidates = append(candidates, p)
	for _, ext := range r.exts {
		candidates = append(candidates, p+ext)
	}
	for _, c := range candidates {
		info, err := r.stat(c)
		if err != nil {
			return "", err
		}
		if info != nil && !info.IsDir() {
			deps.Files.Add(c)
			return c, nil
		}
		if info == nil {
			deps.Missing.Add(c)
		}
	}
	return "", nil
}

// packageMain reads the "main" field of dir/package.json.
func (r *FileResolver) packageMain(dir string, deps *Deps) (string, error) {
	pj := path.Join(dir, "package.json")
	b, err := afero.ReadFile(r.fs, pj)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			deps.Missing.Add(pj)
			return "", nil
		}
		return "", err
	}
	deps.Files.Add(pj)
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(b, &pkg); err != nil {
		return "", nil
	}
	return pkg.Main, nil
}

func (r *FileResolver) stat(p string) (os.FileInfo, error) {
	info, err := r.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}
