package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antisplit/internal/apk"
	"github.com/antisplit/internal/merger"
	"github.com/antisplit/internal/repository"
	"github.com/antisplit/internal/signer"
	"github.com/antisplit/internal/storage"
	"github.com/antisplit/pkg/config"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/utils"
	"github.com/antisplit/pkg/writer"
)

var (
	// Merge command flags
	outputPath  string
	abis        []string
	density     int
	locales     []string
	splitNames  []string
	selectAll   bool
	sign        bool
	keystore    string
	keyPassword string
	certPath    string
	keyPath     string
	keyAlg      string
	upload      bool
	uploadKey   string
	noHistory   bool
	mergeFormat string
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge <input>...",
	Short: "Merge split APKs into a single APK",
	Long: `Merge a base APK and its splits into one APK.

Inputs may be APK files, a directory of APKs, or a bundle archive
(.apks, .xapk, .apkm, .aspk). Configuration splits are chosen for the
target device given by --abi, --density and --locale, or by name with
--splits. --select-all keeps every split.

The output defaults to the first input with its bundle extension replaced
by _antisplit.apk.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	binName := BinName()
	mergeCmd.Example = `  # Merge for a specific device
  ` + binName + ` merge app.apks --abi arm64-v8a,armeabi-v7a --density 420 --locale de-DE

  # Merge named splits only
  ` + binName + ` merge base.apk split_config.arm64_v8a.apk split_config.en.apk --splits config.arm64_v8a,config.en

  # Sign with a PKCS#12 keystore and upload the result
  ` + binName + ` merge app.xapk --keystore release.p12 --password secret --upload`

	f := mergeCmd.Flags()
	f.StringVarP(&outputPath, "output", "o", "", "Output APK (default: <input>_antisplit.apk)")

	// Device flags
	f.StringSliceVar(&abis, "abi", nil, "Device ABIs in preference order (default from config)")
	f.IntVar(&density, "density", 0, "Device screen density in dpi (default from config)")
	f.StringSliceVar(&locales, "locale", nil, "Device locales, e.g. en-US (default from config)")

	// Selection flags
	f.StringSliceVar(&splitNames, "splits", nil, "Merge only these splits, e.g. config.en,feature_camera")
	f.BoolVar(&selectAll, "select-all", false, "Merge every split regardless of the device")

	// Signing flags
	f.BoolVar(&sign, "sign", true, "Sign the output with APK Signature Scheme v2")
	f.StringVar(&keystore, "keystore", "", "PKCS#12 keystore holding the signing key")
	f.StringVar(&keyPassword, "password", "", "Keystore password")
	f.StringVar(&certPath, "cert", "", "PEM certificate (with --key)")
	f.StringVar(&keyPath, "key", "", "PEM private key (with --cert)")
	f.StringVar(&keyAlg, "key-alg", "", "Algorithm of a generated key: rsa or ecdsa")

	// Output flags
	f.BoolVar(&upload, "upload", false, "Upload the output to the configured storage")
	f.StringVar(&uploadKey, "upload-key", "", "Object key of the upload (default: merged/<tid>/<file>)")
	f.BoolVar(&noHistory, "no-history", false, "Do not record this merge in the history database")
	f.StringVar(&mergeFormat, "format", "text", "Result format: text, yaml or json")
}

func runMerge(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	applyMergeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureWorkDir(); err != nil {
		return err
	}

	opts := merger.Options{
		Inputs:    args,
		Output:    outputPath,
		Device:    cfg.Device,
		Selection: apk.SelectOptions{All: cfg.Merge.SelectAll, Names: cfg.Merge.Splits},
		Sign:      cfg.Merge.Sign,
		Upload:    upload,
		UploadKey: uploadKey,
		Listener:  &consoleListener{out: cmd.OutOrStdout(), logger: log, format: mergeFormat},
	}
	if opts.Sign {
		key, err := loadKey(cfg.Signing)
		if err != nil {
			return err
		}
		opts.Key = key
	}

	mcfg := &merger.Config{
		WorkDir: cfg.Merge.WorkDir,
		Workers: cfg.Merge.Workers,
		Logger:  log,
	}
	if cfg.Merge.History {
		repos, err := repository.Open(&cfg.Database)
		if err != nil {
			log.Warn("merge history disabled: %v", err)
		} else {
			defer repos.Close()
			mcfg.Repository = repos.Task
		}
	}
	if upload {
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		mcfg.Storage = store
	}

	_, err := merger.New(mcfg).Run(cmd.Context(), opts)
	return err
}

// applyMergeFlags lets explicitly set flags override the loaded config.
func applyMergeFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("abi") {
		c.Device.ABIs = abis
	}
	if f.Changed("density") {
		c.Device.Density = density
	}
	if f.Changed("locale") {
		c.Device.Locales = locales
	}
	if f.Changed("splits") {
		c.Merge.Splits = splitNames
	}
	if f.Changed("select-all") {
		c.Merge.SelectAll = selectAll
	}
	if f.Changed("sign") {
		c.Merge.Sign = sign
	}
	if f.Changed("keystore") {
		c.Signing.Keystore = keystore
	}
	if f.Changed("password") {
		c.Signing.Password = keyPassword
	}
	if f.Changed("cert") {
		c.Signing.Cert = certPath
	}
	if f.Changed("key") {
		c.Signing.Key = keyPath
	}
	if f.Changed("key-alg") {
		c.Signing.Algorithm = keyAlg
	}
	if noHistory {
		c.Merge.History = false
	}
}

// loadKey returns the configured signing key, generating one when no
// keystore or certificate is configured.
func loadKey(sc config.SigningConfig) (*signer.Key, error) {
	switch {
	case sc.Keystore != "":
		return signer.LoadPKCS12(sc.Keystore, sc.Password)
	case sc.Cert != "" && sc.Key != "":
		return signer.LoadPEM(sc.Cert, sc.Key)
	case strings.EqualFold(sc.Algorithm, "ecdsa"):
		return signer.GenerateKey(signer.ECDSA)
	default:
		return signer.GenerateKey(signer.RSA)
	}
}

// consoleListener prints progress lines and the final result.
type consoleListener struct {
	out    io.Writer
	logger utils.Logger
	format string
}

func (l *consoleListener) OnLog(line string) {
	fmt.Fprintf(l.out, "  > %s\n", line)
}

func (l *consoleListener) OnSuccess(res *model.MergeResult) {
	if l.format != "text" && l.format != "" {
		w, err := writer.ForFormat[*model.MergeResult](l.format)
		if err == nil {
			err = w.Write(res, l.out)
		}
		if err == nil {
			return
		}
		l.logger.Debug("falling back to text result: %v", err)
	}

	fmt.Fprintf(l.out, "\nMerged %d modules into %s\n", len(res.Modules), res.Output)
	fmt.Fprintf(l.out, "  Task:     %s\n", res.TaskUUID)
	fmt.Fprintf(l.out, "  Modules:  %s\n", strings.Join(res.Modules, ", "))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(l.out, "  Skipped:  %s\n", strings.Join(res.Skipped, ", "))
	}
	fmt.Fprintf(l.out, "  Dex:      %d file(s), %s\n", res.DexFiles, res.DexStrategy)
	switch {
	case res.Signed:
		fmt.Fprintf(l.out, "  Signed:   v2\n")
	case res.SignError != "":
		fmt.Fprintf(l.out, "  Signed:   no (%s)\n", res.SignError)
	default:
		fmt.Fprintf(l.out, "  Signed:   no\n")
	}
	if res.UploadURL != "" {
		fmt.Fprintf(l.out, "  Uploaded: %s\n", res.UploadURL)
	}
	fmt.Fprintf(l.out, "  Duration: %s\n", res.Duration)
}

func (l *consoleListener) OnFailure(report *model.FailureReport) {
	fmt.Fprintf(l.out, "\nMerge failed in phase %s [%s]: %s\n", report.Phase, report.Code, report.Message)
	if report.Code != apperrors.CodeCanceled && report.Stack != "" {
		l.logger.Debug("stack:\n%s", report.Stack)
	}
}
