package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"dicom-cleaner/internal/anonymizer"
	"dicom-cleaner/internal/config"
	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/logging"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <input-folder>",
		Short: "Anonymize every DICOM file in a folder",
		Long: `Anonymize every DICOM file in a folder.

Files are grouped by patient (Name+DOB, falling back to PatientID). Each
patient gets one synthetic ID, and every UID is remapped under it, so
references between the files of a patient stay intact.

The secret key (-k) keeps patient IDs consistent across runs: use the same
key and mapping file for every batch of the same patients. Keep both
secret; with them anyone can re-identify patients.`,
		Example: `  dicom-cleaner run /data/CT -k YOUR_SECRET_KEY -n
  dicom-cleaner run /data/CT -k YOUR_SECRET_KEY --export uids.yaml
  dicom-cleaner run /data/MRI -k YOUR_SECRET_KEY --preload uids.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.OutOrStdout(), args[0], cfg)
		},
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "output folder (default <input>/anonymized)")
	f.StringP("mapping", "m", "", "patient mapping file (default <input>/../patient_mapping.json)")
	f.StringP("key", "k", "", "secret key for patient matching; generated if empty")
	f.StringP("template", "t", identity.DefaultTemplate, "template for synthetic patient IDs")
	f.String("preload", "", "UID translations to load before the run (.yaml or .json)")
	f.String("export", "", "write the UID translations here after the run")
	f.String("uid-policy", anonymizer.UIDPolicyPreferExplicit.String(), "prefer-explicit or always-translate")
	f.BoolP("recursive", "r", true, "search subdirectories")
	f.Bool("retry", false, "retry files that failed in a previous run")
	f.BoolP("dry-run", "n", false, "preview only, no files written")
	f.Bool("truncate-dates", true, "truncate dates to YYYYMM01")
	f.Bool("scrub-names", true, "scrub patient name fragments from all text")
	return cmd
}

func run(out io.Writer, inputFolder string, cfg *config.Config) error {
	info, err := os.Stat(inputFolder)
	if err != nil {
		return errors.Newf("input folder does not exist: %s", inputFolder)
	}
	if !info.IsDir() {
		return errors.Newf("input path is not a directory: %s", inputFolder)
	}

	outputFolder := cfg.Output
	if outputFolder == "" {
		outputFolder = filepath.Join(inputFolder, "anonymized")
	}

	logDir := outputFolder
	if cfg.DryRun {
		logDir = ""
	}
	if err := logging.Init(logDir, cfg.LogLevel); err != nil {
		return err
	}

	keyGenerated := false
	if cfg.Key == "" {
		cfg.Key = GenerateSecretKey()
		keyGenerated = true
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}
	spec, err := cfg.Spec()
	if err != nil {
		return err
	}

	session := anonymizer.NewSession(opts)
	if cfg.Preload != "" {
		if n, err := session.Preload(cfg.Preload); err != nil {
			printWarning(out, "preload incomplete (%d translations loaded): %v", n, err)
		}
	}

	mappingFile := cfg.MappingFile(inputFolder)
	printHeader(out, header{
		Input:        inputFolder,
		Output:  outputFolder,
		Mapping: mappingFile,
		Key:          cfg.Key,
		KeyGenerated: keyGenerated,
		Template:     opts.Template,
		Config:       cfg,
	})

	acfg := anonymizer.Config{
		InputFolder:  inputFolder,
		OutputFolder: outputFolder,
		MappingFile:  mappingFile,
		Salt:         cfg.Key,
		Spec:         spec,
		File:         cfg.FileOptions(),
		DryRun:  cfg.DryRun,
		RetryFailed:  cfg.Retry,
		Recursive:    cfg.Recursive,
		OutputWriter: func(s string) { log.Debug(strings.TrimSpace(s)) },
	}
	if cfg.DryRun {
		acfg.OutputWriter = func(s string) { fmt.Fprint(out, s) }
	}

	start := time.Now()
	stats, err := process(out, session, acfg)
	if err != nil {
		return errors.Wrap(err, "processing failed")
	}

	if cfg.Export != "" && !cfg.DryRun {
		if err := session.Export(cfg.Export); err != nil {
			return err
		}
	}

	printSummary(out, stats, summary{
		Output:  outputFolder,
		Mapping: mappingFile,
		Export:  cfg.Export,
		UIDs:    session.CacheLen(),
		Elapsed: time.Since(start),
		DryRun:  cfg.DryRun,
		LogFile: filepath.Join(logDir, logging.FileName),
	})
	return nil
}

// process runs the batch behind a progress bar. Dry runs print their plan
// instead, so they get no bar.
func process(out io.Writer, session *anonymizer.Session, acfg anonymizer.Config) (*anonymizer.Stats, error) {
	if acfg.DryRun {
		return anonymizer.ProcessFolder(session, acfg, nil)
	}

	p := mpb.New(mpb.WithOutput(out), mpb.WithWidth(50))
	bar := newFileBar(p)
	stats, err := anonymizer.ProcessFolder(session, acfg, func(current, total int, filename, status string) {
		bar.SetTotal(int64(total), false)
		if status != "processing" {
			bar.SetCurrent(int64(current))
		}
	})
	bar.SetTotal(-1, true)
	p.Wait()
	return stats, err
}

func newFileBar(p *mpb.Progress) *mpb.Bar {
	return p.AddBar(0, // total is set by the first callback
		mpb.BarFillerClearOnComplete(),
		mpb.PrependDecorators(
			decor.Name("files "),
			decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
}

// GenerateSecretKey returns a random 32-character hex key.
func GenerateSecretKey() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
