package apk

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/antisplit/internal/archive"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/utils"
)

var (
	bundleExts  = []string{".xapk", ".aspk", ".apks", ".apkm"}
	bundleExtRe = regexp.MustCompile(`(?i)\.(?:xapk|aspk|apk[sm])`)
)

// BundleExtensions returns the recognized bundle file extensions.
func BundleExtensions() []string {
	return append([]string(nil), bundleExts...)
}

// IsBundle reports whether path names a bundle of APKs by its extension.
func IsBundle(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range bundleExts {
		if ext == e {
			return true
		}
	}
	return false
}

func isAPK(name string) bool {
	return strings.EqualFold(path.Ext(name), ".apk")
}

// OutputPath derives the default output path for input: the first bundle
// extension is replaced by "_antisplit.apk", a plain APK gets "_antisplit"
// before its extension and anything else gets "_antisplit.apk" appended.
func OutputPath(input string) string {
	input = strings.TrimRight(input, `/\`)
	if loc := bundleExtRe.FindStringIndex(input); loc != nil {
		return input[:loc[0]] + "_antisplit.apk" + input[loc[1]:]
	}
	if isAPK(input) {
		ext := filepath.Ext(input)
		return strings.TrimSuffix(input, ext) + "_antisplit" + ext
	}
	return input + "_antisplit.apk"
}

// ExtractBundle writes every APK inside the bundle at src to dir, flattening
// directories, and returns the extracted paths in archive order.
func ExtractBundle(ctx context.Context, src, dir string) ([]string, error) {
	r, err := archive.Open(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.IO(err, "create %s", dir)
	}

	seen := make(map[string]bool)
	var out []string
	for _, e := range r.Entries() {
		if ctx.Err() != nil {
			return nil, apperrors.Wrapf(apperrors.CodeCanceled, ctx.Err(), "extract %s", filepath.Base(src))
		}
		if strings.HasSuffix(e.Name, "/") || !isAPK(e.Name) {
			continue
		}
		name := path.Base(e.Name)
		if seen[name] {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "%s: more than one %s", filepath.Base(src), name)
		}
		seen[name] = true

		dst := filepath.Join(dir, name)
		if err := extractEntry(e, dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	if len(out) == 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "%s contains no apk", filepath.Base(src))
	}
	return out, nil
}

func extractEntry(e *archive.Entry, dst string) error {
	rc, err := e.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return apperrors.IO(err, "create %s", dst)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return apperrors.Wrapf(apperrors.CodeFormatError, err, "extract %s", e.Name)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO(err, "close %s", dst)
	}
	return nil
}

// Bundle is the set of modules taking part in one merge, base first.
type Bundle struct {
	Modules []*Module
}

// LoadBundle resolves inputs into modules. Each input is a directory of
// APKs, a bundle archive (extracted below workDir) or an APK file. Exactly
// one module must be the base.
func LoadBundle(ctx context.Context, inputs []string, workDir string, logger utils.Logger) (*Bundle, error) {
	if len(inputs) == 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "no input given")
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}

	var paths []string
	for i, in := range inputs {
		st, err := os.Stat(in)
		if err != nil {
			return nil, apperrors.IO(err, "stat %s", in)
		}
		switch {
		case st.IsDir():
			found, err := listAPKs(in)
			if err != nil {
				return nil, err
			}
			paths = append(paths, found...)
		case IsBundle(in):
			dir := filepath.Join(workDir, strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)))
			if len(inputs) > 1 {
				dir = filepath.Join(workDir, filepath.Base(in)+"-"+strconv.Itoa(i))
			}
			extracted, err := ExtractBundle(ctx, in, dir)
			if err != nil {
				return nil, err
			}
			logger.Debug("extracted %d apks from %s", len(extracted), filepath.Base(in))
			paths = append(paths, extracted...)
		default:
			paths = append(paths, in)
		}
	}
	if len(paths) == 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "no apk found in %s", strings.Join(inputs, ", "))
	}

	b := &Bundle{}
	for _, p := range paths {
		if ctx.Err() != nil {
			b.Close()
			return nil, apperrors.Wrapf(apperrors.CodeCanceled, ctx.Err(), "open modules")
		}
		m, err := OpenModule(p)
		if err != nil {
			b.Close()
			return nil, err
		}
		logger.WithFields(map[string]interface{}{"module": m.Name, "kind": m.Kind.String()}).Debug("opened %s", filepath.Base(p))
		b.Modules = append(b.Modules, m)
	}

	if err := b.checkBase(); err != nil {
		b.Close()
		return nil, err
	}
	BaseFirst(b.Modules)
	return b, nil
}

func listAPKs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.IO(err, "read dir %s", dir)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isAPK(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func (b *Bundle) checkBase() error {
	var bases []string
	for _, m := range b.Modules {
		if m.Kind == model.SplitBase {
			bases = append(bases, filepath.Base(m.Path))
		}
	}
	switch len(bases) {
	case 0:
		return apperrors.Newf(apperrors.CodeInvalidInput, "no base apk among %d modules", len(b.Modules))
	case 1:
		return nil
	default:
		return apperrors.Newf(apperrors.CodeInvalidInput, "more than one base apk: %s", strings.Join(bases, ", "))
	}
}

// Base returns the base module.
func (b *Bundle) Base() *Module {
	for _, m := range b.Modules {
		if m.Kind == model.SplitBase {
			return m
		}
	}
	return nil
}

// Names returns the module names in bundle order.
func (b *Bundle) Names() []string {
	names := make([]string, len(b.Modules))
	for i, m := range b.Modules {
		names[i] = m.Name
	}
	return names
}

// Close closes every module.
func (b *Bundle) Close() error {
	var first error
	for _, m := range b.Modules {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
