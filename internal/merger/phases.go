package merger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/antisplit/internal/apk"
	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/dex"
	"github.com/antisplit/internal/signer"
	"github.com/antisplit/pkg/compression"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/parallel"
)

// open loads the bundle into a fresh run directory and selects the splits.
func (r *run) open(ctx context.Context) error {
	if err := os.RemoveAll(r.dir); err != nil {
		return apperrors.IO(err, "clear work directory %s", r.dir)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return apperrors.IO(err, "create work directory %s", r.dir)
	}

	b, err := apk.LoadBundle(ctx, r.opts.Inputs, r.dir, r.logger)
	if err != nil {
		return err
	}
	r.bundle = b
	r.log("found %d modules: %s", len(b.Modules), moduleNames(b.Modules))

	r.selection = apk.SelectSplits(b.Modules, r.opts.Device, r.opts.Selection)
	if len(r.selection.Skipped) > 0 {
		r.log("skipping %s", moduleNames(r.selection.Skipped))
	}

	r.result = &model.MergeResult{TaskUUID: r.task.TaskUUID, Output: r.output}
	for _, m := range r.selection.Kept {
		r.result.Modules = append(r.result.Modules, m.Name)
	}
	for _, m := range r.selection.Skipped {
		r.result.Skipped = append(r.result.Skipped, m.Name)
	}
	return nil
}

// mergeResources folds the resource tables of the kept splits into the
// first one, in module order, and sanitizes the base manifest.
func (r *run) mergeResources(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.m.workers)
	for _, m := range r.selection.Kept {
		m := m
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, err := m.Table()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return canceledOr(ctx, err, "decode resources")
	}

	for _, m := range r.selection.Kept {
		t, _ := m.Table()
		if t == nil {
			continue
		}
		if r.table == nil {
			r.table = t
			continue
		}
		stats, err := r.table.Merge(t)
		if err != nil {
			return fmt.Errorf("%s: merge %s: %w", m.Name, apk.ResourcesEntry, err)
		}
		r.logger.WithFields(map[string]interface{}{
			"module":      m.Name,
			"types":       stats.NewTypes,
			"configs":     stats.NewConfigs,
			"entries":     stats.NewEntries,
			"overwritten": stats.Overwritten,
		}).Debug("merged resources")
	}
	if r.table != nil {
		s := r.table.Stats()
		r.log("merged resources: %d packages, %d types, %d entries", s.Packages, s.Types, s.Entries)
	}

	stats := apk.SanitizeManifest(r.bundle.Base().Manifest)
	r.logger.Debug("manifest: removed %d split attributes and %d meta-data", stats.Attributes, stats.MetaData)
	return nil
}

// mergeDex merges or renumbers the dex files of the kept modules.
func (r *run) mergeDex(ctx context.Context) error {
	inputs := make([][]dex.Input, len(r.selection.Kept))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.m.workers)
	for i, m := range r.selection.Kept {
		i, m := i, m
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			in, err := m.DexInputs()
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			inputs[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return canceledOr(ctx, err, "read dex")
	}

	res, err := dex.Merge(ctx, inputs, parallel.DefaultPoolConfig().WithWorkers(r.m.workers), r.logger)
	if err != nil {
		return err
	}
	r.dex = res

	switch {
	case len(res.Outputs) == 0:
		r.result.DexStrategy = model.DexStrategyNone
	case res.Merged:
		r.result.DexStrategy = model.DexStrategyMerged
		r.log("merged dex: %d classes, %d methods", res.Stats.Classes, res.Stats.Methods)
	default:
		r.result.DexStrategy = model.DexStrategyPassthrough
		r.log("copied %d dex files", len(res.Outputs))
	}
	r.result.DexFiles = len(res.Outputs)
	return nil
}

// write produces the unsigned APK in a temp file next to the output.
func (r *run) write(ctx context.Context) error {
	dir := filepath.Dir(r.output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.IO(err, "create output directory %s", dir)
	}
	f, err := os.CreateTemp(dir, ".antisplit-*.apk")
	if err != nil {
		return apperrors.IO(err, "create temp output")
	}
	r.tmp = f.Name()

	if err := r.writeEntries(ctx, archive.NewWriter(f, archive.DefaultWriterOptions())); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return apperrors.IO(err, "close %s", r.tmp)
	}
	r.log("wrote %s", filepath.Base(r.output))
	return nil
}

func (r *run) writeEntries(ctx context.Context, w *archive.Writer) error {
	base := r.bundle.Base()
	seen := map[string]bool{}

	manifest, err := base.Manifest.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", apk.ManifestEntry, err)
	}
	method := compression.Deflate
	if e := base.Archive.Entry(apk.ManifestEntry); e != nil {
		method = e.Method
	}
	if err := w.WriteEntry(apk.ManifestEntry, archive.MethodFor(apk.ManifestEntry, method), manifest); err != nil {
		return err
	}
	seen[apk.ManifestEntry] = true

	if r.table != nil {
		data, err := r.table.Encode()
		if err != nil {
			return fmt.Errorf("encode %s: %w", apk.ResourcesEntry, err)
		}
		if err := w.WriteEntry(apk.ResourcesEntry, compression.Store, data); err != nil {
			return err
		}
		seen[apk.ResourcesEntry] = true
	}

	for _, out := range r.dex.Outputs {
		if err := w.WriteEntry(out.Name, archive.MethodFor(out.Name, compression.Deflate), out.Data); err != nil {
			return err
		}
		seen[out.Name] = true
	}

	for _, m := range r.selection.Kept {
		for _, e := range m.Archive.Entries() {
			if err := ctx.Err(); err != nil {
				return apperrors.Wrapf(apperrors.CodeCanceled, err, "writing %s", r.output)
			}
			switch {
			case e.Name == apk.ManifestEntry, e.Name == apk.ResourcesEntry:
				continue
			case dex.IsDexEntry(e.Name), archive.IsSignatureFile(e.Name):
				continue
			case seen[e.Name]:
				r.logger.Debug("%s: duplicate entry %s dropped", m.Name, e.Name)
				continue
			}
			seen[e.Name] = true
			if err := w.CopyEntry(e); err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
		}
	}
	return w.Close()
}

// sign signs the temp output. Signing errors other than cancellation leave
// a valid unsigned APK and are reported on the result.
func (r *run) sign(ctx context.Context) error {
	if !r.opts.Sign {
		return nil
	}
	key := r.opts.Key
	if key == nil {
		var err error
		if key, err = signer.GenerateKey(signer.RSA); err != nil {
			return r.signFailed(err)
		}
	}
	if key.Ephemeral {
		r.logger.Warn("signing with a generated key, installs over other builds will fail")
	}
	if err := signer.SignFile(ctx, r.tmp, key, r.logger); err != nil {
		if isCanceled(ctx, err) {
			return err
		}
		return r.signFailed(err)
	}
	r.result.Signed = true
	r.log("signed with v2 scheme")
	return nil
}

func (r *run) signFailed(err error) error {
	r.result.SignError = err.Error()
	r.logger.Warn("signing failed, output is unsigned: %v", err)
	r.listener.OnLog("signing failed: " + apperrors.GetErrorMessage(err))
	return nil
}

// canceledOr maps errgroup errors caused by ctx to a cancellation.
func canceledOr(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return apperrors.Wrapf(apperrors.CodeCanceled, ctx.Err(), "%s", what)
	}
	return err
}
