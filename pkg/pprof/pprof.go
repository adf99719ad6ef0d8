// Package pprof records runtime profiles of a single command run into a
// directory, one file per profile type.
//
//	s, err := pprof.Start("./pprof", []pprof.ProfileType{pprof.ProfileCPU, pprof.ProfileHeap})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
package pprof

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"

	apperrors "github.com/antisplit/pkg/errors"
)

// ProfileType defines the type of profile to collect.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

// AllProfileTypes returns all supported profile types.
func AllProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap, ProfileGoroutine, ProfileBlock, ProfileMutex, ProfileAllocs}
}

// DefaultProfileTypes returns the default profile types to collect.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap}
}

// ParseProfileTypes parses a comma-separated string into profile types.
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}

	valid := make(map[ProfileType]bool)
	for _, pt := range AllProfileTypes() {
		valid[pt] = true
	}

	var types []ProfileType
	seen := make(map[ProfileType]bool)
	for _, p := range strings.Split(s, ",") {
		pt := ProfileType(strings.TrimSpace(strings.ToLower(p)))
		if !valid[pt] {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown profile type: %q", p)
		}
		if !seen[pt] {
			seen[pt] = true
			types = append(types, pt)
		}
	}
	return types, nil
}

// FileName returns the file a profile type is written to.
func FileName(pt ProfileType) string {
	return string(pt) + ".pprof"
}

// Session is a running profile collection.
type Session struct {
	dir   string
	types []ProfileType

	mu      sync.Mutex
	cpu     *os.File
	stopped bool
}

// Start creates dir and begins collection. The CPU profile runs until
// Stop, the others are snapshots taken by Stop.
func Start(dir string, types []ProfileType) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.IO(err, "create profile dir %s", dir)
	}

	s := &Session{dir: dir, types: types}
	for _, pt := range types {
		switch pt {
		case ProfileBlock:
			runtime.SetBlockProfileRate(1)
		case ProfileMutex:
			runtime.SetMutexProfileFraction(1)
		case ProfileCPU:
			f, err := os.Create(filepath.Join(dir, FileName(pt)))
			if err != nil {
				return nil, apperrors.IO(err, "create cpu profile")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				return nil, apperrors.Wrapf(apperrors.CodeInvalidInput, err, "start cpu profile")
			}
			s.cpu = f
		}
	}
	return s, nil
}

// Stop ends collection and returns the written files. Calling Stop more
// than once is a no-op.
func (s *Session) Stop() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, nil
	}
	s.stopped = true

	var files []string
	var firstErr error
	for _, pt := range s.types {
		path := filepath.Join(s.dir, FileName(pt))
		var err error
		switch pt {
		case ProfileCPU:
			pprof.StopCPUProfile()
			err = s.cpu.Close()
		case ProfileBlock:
			err = writeSnapshot(pt, path)
			runtime.SetBlockProfileRate(0)
		case ProfileMutex:
			err = writeSnapshot(pt, path)
			runtime.SetMutexProfileFraction(0)
		default:
			err = writeSnapshot(pt, path)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		files = append(files, path)
	}
	return files, firstErr
}

func writeSnapshot(pt ProfileType, path string) error {
	if pt == ProfileHeap {
		runtime.GC()
	}
	p := pprof.Lookup(string(pt))
	if p == nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "no runtime profile %s", pt)
	}
	f, err := os.Create(path)
	if err != nil {
		return apperrors.IO(err, "create %s profile", pt)
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return apperrors.IO(err, "write %s profile", pt)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO(err, "close %s profile", pt)
	}
	return nil
}

// String lists the profile types, e.g. "cpu,heap".
func String(types []ProfileType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
