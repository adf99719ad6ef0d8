package merger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/internal/apk"
	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/mock"
	"github.com/antisplit/internal/signer"
	"github.com/antisplit/internal/storage"
	"github.com/antisplit/internal/testutil"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/utils"
)

var (
	keyOnce sync.Once
	testKey *signer.Key
)

func signingKey(t *testing.T) *signer.Key {
	keyOnce.Do(func() {
		k, err := signer.GenerateKey(signer.ECDSA)
		require.NoError(t, err)
		testKey = k
	})
	return testKey
}

var phone = model.DeviceSpec{ABIs: []string{"arm64-v8a"}, Density: 480, Locales: []string{"en-US"}}

func writeSplitBundle(t *testing.T) string {
	return testutil.WriteBundle(t, t.TempDir(), "app.apks", testutil.SplitBundle(t), testutil.SplitBundleOrder...)
}

func newMerger(t *testing.T, cfg Config) (*Merger, string) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	return New(&cfg), cfg.WorkDir
}

func anyListener() *mock.MockListener {
	l := &mock.MockListener{}
	l.On("OnLog", tmock.Anything).Return()
	return l
}

func dirEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_SplitBundle(t *testing.T) {
	bundle := writeSplitBundle(t)
	m, workDir := newMerger(t, Config{})

	listener := anyListener()
	listener.On("OnSuccess", tmock.AnythingOfType("*model.MergeResult")).Return().Once()

	res, err := m.Run(context.Background(), Options{
		Inputs:   []string{bundle},
		Device:   phone,
		Sign:     true,
		Key:      signingKey(t),
		Listener: listener,
	})
	require.NoError(t, err)
	listener.AssertExpectations(t)
	listener.AssertNotCalled(t, "OnFailure", tmock.Anything)

	assert.Equal(t, filepath.Join(filepath.Dir(bundle), "app_antisplit.apk"), res.Output)
	assert.Equal(t, []string{"base", "config.arm64_v8a", "config.xxhdpi", "feature"}, res.Modules)
	assert.Equal(t, []string{"config.x86", "config.fr"}, res.Skipped)
	assert.Equal(t, model.DexStrategyMerged, res.DexStrategy)
	assert.Equal(t, 1, res.DexFiles)
	assert.True(t, res.Signed)
	assert.Empty(t, res.SignError)
	assert.NotEmpty(t, res.TaskUUID)
	assert.Contains(t, res.Phases, model.PhaseDexMerge.String())

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	testutil.AssertEntries(t, data,
		apk.ManifestEntry, apk.ResourcesEntry, "classes.dex",
		"res/layout/main.xml", "lib/arm64-v8a/libapp.so")

	_, err = signer.VerifyFile(context.Background(), res.Output)
	require.NoError(t, err)

	out, err := apk.OpenModule(res.Output)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, "base", out.Name)
	assert.Equal(t, apk.SanitizeStats{}, apk.SanitizeManifest(out.Manifest), "manifest already sanitized")

	table, err := out.Table()
	require.NoError(t, err)
	assert.Len(t, table.Resolve(0x7f010000), 2, "app_name has default and xxhdpi values")
	assert.Len(t, table.Resolve(0x7f010001), 1, "french split skipped")

	inputs, err := out.DexInputs()
	require.NoError(t, err)
	require.Len(t, inputs, 1)

	assert.Equal(t, []string{"app.apks", "app_antisplit.apk"}, dirEntries(t, filepath.Dir(bundle)))
	assert.Empty(t, dirEntries(t, workDir), "run directory removed")
}

func TestRun_Deterministic(t *testing.T) {
	bundle := writeSplitBundle(t)
	m, _ := newMerger(t, Config{Workers: 4})
	outDir := t.TempDir()

	var outputs [][]byte
	for _, name := range []string{"a.apk", "b.apk"} {
		res, err := m.Run(context.Background(), Options{
			Inputs: []string{bundle},
			Output: filepath.Join(outDir, name),
			Device: phone,
		})
		require.NoError(t, err)
		assert.False(t, res.Signed)
		data, err := os.ReadFile(res.Output)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestRun_SelectAllPassthrough(t *testing.T) {
	dir := t.TempDir()
	apks := testutil.SplitBundle(t)
	for name, data := range apks {
		testutil.WriteBytes(t, dir, name, data)
	}
	dexA := testutil.DexBytes(t, testutil.DexClass("Lcom/example/A;", "a"))
	dexB := testutil.DexBytes(t, testutil.DexClass("Lcom/example/B;", "b"))
	testutil.WriteAPK(t, dir, "split_feature.apk", testutil.APKSpec{
		Manifest: testutil.ManifestSpec{Package: "com.example.app", Split: "feature"},
		Dex:      [][]byte{dexA, dexB},
	})

	m, _ := newMerger(t, Config{})
	res, err := m.Run(context.Background(), Options{
		Inputs:    []string{dir},
		Output:    filepath.Join(t.TempDir(), "all.apk"),
		Selection: apk.SelectOptions{All: true},
	})
	require.NoError(t, err)
	assert.Len(t, res.Modules, 6)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, model.DexStrategyPassthrough, res.DexStrategy)
	assert.Equal(t, 3, res.DexFiles)

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	names := testutil.EntryNames(t, data)
	assert.Contains(t, names, "lib/x86/libapp.so")
	assert.Contains(t, names, "classes3.dex")
	assert.Equal(t, dexB, testutil.ReadEntry(t, data, "classes3.dex"))
}

func TestRun_Failures(t *testing.T) {
	t.Run("no base", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteAPK(t, dir, "split_config.en.apk", testutil.APKSpec{
			Manifest: testutil.ManifestSpec{Package: "p", Split: "config.en"},
		})
		output := filepath.Join(t.TempDir(), "out.apk")

		listener := anyListener()
		listener.On("OnFailure", tmock.MatchedBy(func(r *model.FailureReport) bool {
			return r.Phase == model.PhaseOpening && r.Code == apperrors.CodeInvalidInput && r.Stack != ""
		})).Return().Once()

		m, _ := newMerger(t, Config{})
		_, err := m.Run(context.Background(), Options{Inputs: []string{dir}, Output: output, Listener: listener})
		testutil.AssertErrorCode(t, err, apperrors.CodeInvalidInput)
		listener.AssertExpectations(t)
		assert.False(t, testutil.FileExists(output))
	})

	t.Run("duplicate class", func(t *testing.T) {
		dir := t.TempDir()
		cls := testutil.DexBytes(t, testutil.DexClass("Lcom/example/Main;", "run"))
		testutil.WriteAPK(t, dir, "base.apk", testutil.APKSpec{
			Manifest: testutil.ManifestSpec{Package: "p"},
			Dex:      [][]byte{cls},
		})
		testutil.WriteAPK(t, dir, "split_feature.apk", testutil.APKSpec{
			Manifest: testutil.ManifestSpec{Package: "p", Split: "feature"},
			Dex:      [][]byte{cls},
		})
		outDir := t.TempDir()

		listener := anyListener()
		listener.On("OnFailure", tmock.MatchedBy(func(r *model.FailureReport) bool {
			return r.Phase == model.PhaseDexMerge && r.Code == apperrors.CodeStructuralConflict
		})).Return().Once()

		m, _ := newMerger(t, Config{})
		_, err := m.Run(context.Background(), Options{
			Inputs:   []string{dir},
			Output:   filepath.Join(outDir, "out.apk"),
			Listener: listener,
		})
		assert.True(t, apperrors.IsStructuralConflict(err))
		listener.AssertExpectations(t)
		assert.Empty(t, dirEntries(t, outDir))
	})

	t.Run("no input", func(t *testing.T) {
		m, _ := newMerger(t, Config{})
		_, err := m.Run(context.Background(), Options{})
		testutil.AssertErrorCode(t, err, apperrors.CodeInvalidInput)
	})
}

func TestRun_Canceled(t *testing.T) {
	bundle := writeSplitBundle(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	listener := anyListener()
	listener.On("OnFailure", tmock.MatchedBy(func(r *model.FailureReport) bool {
		return r.Code == apperrors.CodeCanceled
	})).Return().Once()

	m, workDir := newMerger(t, Config{})
	_, err := m.Run(ctx, Options{Inputs: []string{bundle}, Device: phone, Listener: listener})
	assert.True(t, apperrors.IsCanceled(err))
	listener.AssertExpectations(t)
	listener.AssertNotCalled(t, "OnSuccess", tmock.Anything)
	assert.False(t, testutil.FileExists(apk.OutputPath(bundle)))
	assert.Empty(t, dirEntries(t, workDir))
}

func TestRun_SigningFailureIsNotFatal(t *testing.T) {
	bundle := writeSplitBundle(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	listener := anyListener()
	listener.On("OnSuccess", tmock.MatchedBy(func(res *model.MergeResult) bool {
		return !res.Signed && res.SignError != ""
	})).Return().Once()

	m, _ := newMerger(t, Config{})
	res, err := m.Run(context.Background(), Options{
		Inputs:   []string{bundle},
		Device:   phone,
		Sign:     true,
		Key:      &signer.Key{Signer: priv},
		Listener: listener,
	})
	require.NoError(t, err)
	listener.AssertExpectations(t)
	listener.AssertNotCalled(t, "OnFailure", tmock.Anything)

	assert.False(t, res.Signed)
	assert.Contains(t, res.SignError, "unsupported public key")

	r, err := archive.Open(res.Output)
	require.NoError(t, err)
	defer r.Close()
	assert.NotNil(t, r.Entry(apk.ManifestEntry))
	block, err := r.SigningBlock()
	require.NoError(t, err)
	assert.Nil(t, block, "output left unsigned")
}

func TestRun_EphemeralKeyWarnsOnce(t *testing.T) {
	bundle := writeSplitBundle(t)
	buf := &bytes.Buffer{}

	m, _ := newMerger(t, Config{Logger: utils.NewDefaultLogger(utils.LevelWarn, buf)})
	res, err := m.Run(context.Background(), Options{
		Inputs: []string{bundle},
		Device: phone,
		Sign:   true,
		Key:    signingKey(t),
	})
	require.NoError(t, err)
	assert.True(t, res.Signed)
	assert.Equal(t, 1, strings.Count(buf.String(), "generated key"))
}

func TestRun_RecordsHistory(t *testing.T) {
	bundle := writeSplitBundle(t)

	repo := &mock.MockTaskRepository{}
	repo.On("Create", tmock.Anything, tmock.AnythingOfType("*model.MergeTask")).Return(nil).Once()
	repo.On("UpdatePhase", tmock.Anything, tmock.AnythingOfType("string"), tmock.AnythingOfType("model.Phase")).Return(nil)
	repo.On("Finish", tmock.Anything, tmock.MatchedBy(func(task *model.MergeTask) bool {
		return task.Status == model.MergeStatusSucceeded &&
			task.Phase == model.PhaseDone &&
			task.DexStrategy == model.DexStrategyMerged &&
			len(task.Modules) == 4
	})).Return(nil).Once()

	m, _ := newMerger(t, Config{Repository: repo})
	_, err := m.Run(context.Background(), Options{Inputs: []string{bundle}, Device: phone})
	require.NoError(t, err)

	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "UpdatePhase", 5)
	repo.AssertCalled(t, "UpdatePhase", tmock.Anything, tmock.Anything, model.PhaseSigning)
}

func TestRun_HistoryErrorsAreNotFatal(t *testing.T) {
	bundle := writeSplitBundle(t)

	repo := &mock.MockTaskRepository{}
	repo.On("Create", tmock.Anything, tmock.Anything).Return(apperrors.New(apperrors.CodeDatabaseError, "down"))
	repo.On("UpdatePhase", tmock.Anything, tmock.Anything, tmock.Anything).Return(apperrors.New(apperrors.CodeNotFound, "missing"))
	repo.On("Finish", tmock.Anything, tmock.Anything).Return(apperrors.New(apperrors.CodeNotFound, "missing"))

	m, _ := newMerger(t, Config{Repository: repo})
	_, err := m.Run(context.Background(), Options{Inputs: []string{bundle}, Device: phone})
	assert.NoError(t, err)
}

func TestRun_Upload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		bundle := writeSplitBundle(t)
		output := apk.OutputPath(bundle)

		store := &mock.MockStorage{}
		store.On("UploadFile", tmock.Anything, "merged/app.apk", output).Return(nil).Once()
		store.On("GetURL", "merged/app.apk").Return("https://bucket.example.com/merged/app.apk")

		m, _ := newMerger(t, Config{Storage: store})
		res, err := m.Run(context.Background(), Options{Inputs: []string{bundle}, Device: phone, Upload: true, UploadKey: "merged/app.apk"})
		require.NoError(t, err)
		assert.Equal(t, "https://bucket.example.com/merged/app.apk", res.UploadURL)
		store.AssertExpectations(t)
	})

	t.Run("failure keeps output", func(t *testing.T) {
		bundle := writeSplitBundle(t)

		store := &mock.MockStorage{}
		store.On("UploadFile", tmock.Anything, tmock.Anything, tmock.Anything).
			Return(apperrors.New(apperrors.CodeUploadError, "denied"))

		m, _ := newMerger(t, Config{Storage: store})
		res, err := m.Run(context.Background(), Options{Inputs: []string{bundle}, Device: phone, Upload: true})
		require.NoError(t, err)
		assert.Empty(t, res.UploadURL)
		assert.True(t, testutil.FileExists(res.Output))
		store.AssertCalled(t, "UploadFile", tmock.Anything, storage.ObjectKey(res.TaskUUID, res.Output), res.Output)
		store.AssertNotCalled(t, "GetURL", tmock.Anything)
	})
}
