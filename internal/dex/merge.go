package dex

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/parallel"
	"github.com/antisplit/pkg/utils"
)

var dexEntryRe = regexp.MustCompile(`^classes(\d*)\.dex$`)

// IsDexEntry reports whether name is a top-level classesN.dex entry.
func IsDexEntry(name string) bool {
	return dexEntryRe.MatchString(name)
}

// EntryName returns the entry name of the i-th dex file: classes.dex,
// classes2.dex, ...
func EntryName(i int) string {
	if i == 0 {
		return "classes.dex"
	}
	return "classes" + strconv.Itoa(i+1) + ".dex"
}

func entryNumber(name string) int {
	m := dexEntryRe.FindStringSubmatch(path.Base(name))
	if m == nil || m[1] == "" {
		return 1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// SortEntries orders dex entry names by their number.
func SortEntries(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return entryNumber(names[i]) < entryNumber(names[j]) })
}

// Input is one dex file of a module.
type Input struct {
	Module string
	Name   string
	Data   []byte
}

// Output is a dex file of the merged package.
type Output struct {
	Name string
	Data []byte
	// Source names the input an unmerged file was copied from.
	Source string
}

// MergeResult describes the dex files of the merged package.
type MergeResult struct {
	Outputs []Output
	Merged  bool
	Stats   Stats
}

// CanMerge reports whether the dex files of the given modules are combined
// into one file: at least two modules carry dex files and each carries
// exactly one.
func CanMerge(modules [][]Input) bool {
	n := 0
	for _, m := range modules {
		switch len(m) {
		case 0:
		case 1:
			n++
		default:
			return false
		}
	}
	return n >= 2
}

// Merge combines the dex files of modules, given in merge order. When
// CanMerge does not hold the files are passed through and renumbered.
func Merge(ctx context.Context, modules [][]Input, config parallel.PoolConfig, logger utils.Logger) (*MergeResult, error) {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if !CanMerge(modules) {
		res := &MergeResult{}
		for _, m := range modules {
			for _, in := range m {
				name := EntryName(len(res.Outputs))
				res.Outputs = append(res.Outputs, Output{Name: name, Data: in.Data, Source: in.Module + "/" + in.Name})
				logger.Debug("dex: %s/%s copied as %s", in.Module, in.Name, name)
			}
		}
		return res, nil
	}

	var inputs []Input
	for _, m := range modules {
		inputs = append(inputs, m...)
	}
	files := make([]*File, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	if config.MaxWorkers > 0 {
		g.SetLimit(config.MaxWorkers)
	}
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			f, err := Read(in.Data)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", in.Module, in.Name, err)
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrapf(apperrors.CodeCanceled, ctx.Err(), "dex: reading inputs")
		}
		return nil, err
	}

	pool := NewClassPool(config)
	if err := pool.InternFiles(ctx, files); err != nil {
		return nil, err
	}
	if err := pool.Finalize(); err != nil {
		return nil, err
	}
	data, err := Write(pool)
	if err != nil {
		return nil, err
	}
	stats := pool.Stats()
	logger.WithFields(map[string]interface{}{
		"inputs":  len(inputs),
		"classes": stats.Classes,
		"methods": stats.Methods,
	}).Info("dex: merged into %s (%d bytes)", EntryName(0), len(data))
	return &MergeResult{
		Outputs: []Output{{Name: EntryName(0), Data: data}},
		Merged:  true,
		Stats:   stats,
	}, nil
}

// FileStats counts the items of one decoded file.
func FileStats(f *File) Stats {
	p := NewClassPool(parallel.PoolConfig{})
	if err := p.Intern(f); err != nil {
		return Stats{Classes: len(f.Classes)}
	}
	if err := p.Finalize(); err != nil {
		return Stats{Classes: len(f.Classes)}
	}
	return p.Stats()
}
