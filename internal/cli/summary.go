package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"dicom-cleaner/internal/anonymizer"
	"dicom-cleaner/internal/config"
)

type header struct {
	Input, Output, Mapping string
	Key                    string
	KeyGenerated           bool
	Template               string
	Config                 *config.Config
}

type summary struct {
	Output, Mapping, Export string
	UIDs                    int
	Elapsed                 time.Duration
	DryRun                  bool
	LogFile                 string
}

func printHeader(w io.Writer, h header) {
	fmt.Fprintln(w, "DICOM Cleaner")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Input:     %s\n", h.Input)
	fmt.Fprintf(w, "Output:    %s\n", h.Output)
	fmt.Fprintf(w, "Mapping:   %s\n", h.Mapping)
	fmt.Fprintf(w, "Template:  %s\n", h.Template)

	if h.KeyGenerated {
		fmt.Fprintf(w, "Key:       %s\n", h.Key)
		fmt.Fprintln(w)
		fmt.Fprint(w, color.YellowString(`WARNING: Secret key was auto-generated!
         SAVE THIS KEY to keep patient IDs consistent across runs.
         Re-run with: -k %s
`, h.Key))
		fmt.Fprintln(w)
	} else if len(h.Key) > 8 {
		fmt.Fprintf(w, "Key:       %s... (provided)\n", h.Key[:8])
	} else {
		fmt.Fprintf(w, "Key:       %s (provided)\n", h.Key)
	}

	var options []string
	if h.Config.Recursive {
		options = append(options, "Recursive")
	}
	if h.Config.ScrubNames {
		options = append(options, "Scrub names")
	}
	if h.Config.TruncateDates {
		options = append(options, "Truncate dates")
	}
	if h.Config.Retry {
		options = append(options, "Retry failed")
	}
	if h.Config.DryRun {
		options = append(options, "Dry run")
	}
	if len(options) > 0 {
		fmt.Fprintf(w, "Options:   %s\n", strings.Join(options, ", "))
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, stats *anonymizer.Stats, s summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))

	line := fmt.Sprintf("Complete! %s succeeded, %s failed, %s skipped in %s\n",
		humanize.Comma(int64(stats.Success)), humanize.Comma(int64(stats.Failed)),
		humanize.Comma(int64(stats.Skipped)), s.Elapsed.Round(time.Millisecond))
	if stats.Failed > 0 {
		fmt.Fprint(w, color.RedString(line))
	} else {
		fmt.Fprint(w, color.GreenString(line))
	}

	fmt.Fprintf(w, "Patients:  %s total (%d by Name+DOB, %d by PatientID)\n",
		humanize.Comma(int64(stats.TotalPatients)), stats.IdentityMatched, stats.PIDMatched)
	if s.DryRun {
		return
	}

	fmt.Fprintf(w, "UIDs:      %s translated\n", humanize.Comma(int64(s.UIDs)))
	if stats.LeafErrors > 0 {
		fmt.Fprint(w, color.YellowString("Warnings:  %s recovered field errors, see %s\n",
			humanize.Comma(int64(stats.LeafErrors)), s.LogFile))
	}
	fmt.Fprintf(w, "Output:    %s\n", s.Output)
	fmt.Fprintf(w, "Mapping:   %s\n", s.Mapping)
	if s.Export != "" {
		fmt.Fprintf(w, "Export:    %s\n", s.Export)
	}
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprint(w, color.YellowString("Warning: "+format+"\n", args...))
}
