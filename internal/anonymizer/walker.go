package anonymizer

import (
	"github.com/cockroachdb/errors"

	"dicom-cleaner/internal/record"
	"dicom-cleaner/internal/scrub"
	"dicom-cleaner/internal/uid"
)

// walker carries the per-call state of one Anonymize traversal. origPID is
// captured before any mutation so nested UIDs key the same way as top-level
// ones even after PatientID has been overwritten.
type walker struct {
	session *Session
	spec    ReplacementSpec
	table   scrub.Table
	anonPID string
	origPID string
	report  *Report
}

func (w *walker) walk(rec *record.Record, parent record.Path) {
	for _, e := range rec.Elements() {
		path := parent.Child(e.Tag)

		if e.IsSequence() {
			if repl, ok := w.spec[e.Tag]; ok && repl == "" {
				e.Clear()
				w.report.Cleared++
				continue
			}
			for i, item := range e.Value.Items() {
				w.walk(item, path.Item(i))
			}
			continue
		}

		w.leaf(e, path)
	}
}

func (w *walker) leaf(e *record.Element, path record.Path) {
	isUID := record.IsUID(e.VR)

	if repl, ok := w.spec[e.Tag]; ok {
		w.replace(e, path, repl)
	} else if isUID && w.session.translateUIDs[e.Tag] {
		w.translateUID(e, path)
	}

	if isUID && !w.session.scrubUIDs {
		return
	}
	if err := w.scrub(e); err != nil {
		w.report.addError(path, e.Tag, KindScrub, err)
	}
}

func (w *walker) replace(e *record.Element, path record.Path, repl string) {
	if record.IsUID(e.VR) {
		if w.session.policy == UIDPolicyPreferExplicit && uid.Valid(repl) {
			if err := e.SetStrings(repl); err == nil {
				w.report.Replaced++
				return
			}
		}
		w.translateUID(e, path)
		return
	}

	if err := e.SetStrings(record.SplitMulti(e.VR, repl)...); err != nil {
		e.Clear()
		w.report.Cleared++
		w.report.addError(path, e.Tag, KindValueAssignment, err)
		return
	}
	w.report.Replaced++
}

func (w *walker) translateUID(e *record.Element, path record.Path) {
	vals := e.Strings()
	if len(vals) == 0 {
		return
	}

	out := make([]string, len(vals))
	for i, v := range vals {
		if v == "" {
			continue
		}
		repl, err := w.session.cache.Translate(w.anonPID, v, w.origPID)
		if err != nil {
			e.Clear()
			w.report.Cleared++
			w.report.addError(path, e.Tag, KindTranslation, err)
			return
		}
		out[i] = repl
	}

	if err := e.SetStrings(out...); err != nil {
		e.Clear()
		w.report.Cleared++
		w.report.addError(path, e.Tag, KindTranslation, err)
		return
	}
	w.report.Translated++
}

// scrub runs the aggressive table over the leaf's text. On failure the
// leaf keeps its value, except binary values that could not be re-encoded,
// which are dropped.
func (w *walker) scrub(e *record.Element) (err error) {
	if len(w.table) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("scrubber panic: %v", r)
		}
	}()

	switch e.Value.Kind() {
	case record.KindStrings:
		changed, out := scrub.Scrub(e.Strings(), w.table)
		if !changed {
			return nil
		}
		if err := e.SetStrings(out...); err != nil {
			return errors.Wrap(err, "scrubbed value rejected")
		}
		w.report.Scrubbed++

	case record.KindBytes:
		changed, out, err := scrub.ScrubBytes(e.Value.Bytes(), w.table)
		if err != nil {
			if errors.Is(err, scrub.ErrUnencodable) {
				e.Clear()
				w.report.Cleared++
				return errors.Wrap(err, "binary value dropped")
			}
			return err
		}
		if !changed {
			return nil
		}
		if err := e.ReplaceRaw(out); err != nil {
			return err
		}
		w.report.Scrubbed++
	}
	return nil
}
