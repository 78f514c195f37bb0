package formatting

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"conductor/internal/model"
	"conductor/internal/supervision"
	strutil "conductor/pkg/strings"
)

// tableFormatter provides rich table output formatting
type tableFormatter struct {
	options Options
}

// createTable creates a new table with standard styling
func (f *tableFormatter) createTable(w io.Writer, headers ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if f.options.Format == FormatPlain {
		style := table.StyleDefault
		style.Options.DrawBorder = false
		style.Options.SeparateColumns = false
		style.Options.SeparateHeader = false
		style.Box.PaddingLeft = ""
		style.Box.PaddingRight = "   "
		t.SetStyle(style)
	} else {
		t.SetStyle(table.StyleRounded)
	}
	if f.options.Color {
		for i, h := range headers {
			headers[i] = text.FgHiCyan.Sprint(h)
		}
	}
	t.AppendHeader(table.Row(headers))
	return t
}

// formatEmptyMessage formats empty result messages
func (f *tableFormatter) formatEmptyMessage(w io.Writer, message string) error {
	if f.options.Color {
		message = text.FgYellow.Sprint(message)
	}
	_, err := fmt.Fprintln(w, message)
	return err
}

// colorResult highlights anything but NO_ERROR.
func (f *tableFormatter) colorResult(r model.StateChangeResult) string {
	if !f.options.Color {
		return string(r)
	}
	switch r {
	case model.ResultFailed:
		return text.FgRed.Sprint(r)
	case model.ResultTimeout:
		return text.FgYellow.Sprint(r)
	default:
		return text.FgGreen.Sprint(r)
	}
}

func (f *tableFormatter) Definitions(w io.Writer, defs []*model.Definition) error {
	if len(defs) == 0 {
		return f.formatEmptyMessage(w, "No compositions commissioned")
	}
	t := f.createTable(w, "ID", "NAME", "VERSION", "STATE", "RESULT", "ELEMENTS", "PARTICIPANTS", "AGE")
	for _, def := range defs {
		participants := def.Participants()
		sort.Strings(participants)
		t.AppendRow(table.Row{
			def.CompositionID,
			def.Name,
			def.Version,
			def.TypeState,
			f.colorResult(def.StateChangeResult),
			len(def.Elements),
			joinShort(participants, 3),
			age(def.LastMessageTime),
		})
	}
	t.Render()
	return nil
}

func (f *tableFormatter) Instances(w io.Writer, insts []*model.Instance) error {
	if len(insts) == 0 {
		return f.formatEmptyMessage(w, "No instances")
	}
	t := f.createTable(w, "ID", "NAME", "COMPOSITION", "DEPLOY", "LOCK", "RESULT", "ELEMENTS", "AGE")
	for _, inst := range insts {
		composition := inst.CompositionID
		if inst.CompositionTargetID != "" {
			composition += " -> " + inst.CompositionTargetID
		}
		t.AppendRow(table.Row{
			inst.InstanceID,
			inst.Name,
			composition,
			inst.DeployState,
			inst.LockState,
			f.colorResult(inst.StateChangeResult),
			len(inst.Elements),
			age(inst.LastMessageTime),
		})
	}
	t.Render()
	return nil
}

func (f *tableFormatter) Elements(w io.Writer, inst *model.Instance) error {
	if len(inst.Elements) == 0 {
		return f.formatEmptyMessage(w, "Instance has no elements")
	}
	ids := make([]string, 0, len(inst.Elements))
	for id := range inst.Elements {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := inst.Elements[ids[i]], inst.Elements[ids[j]]
		if a.DefinitionID != b.DefinitionID {
			return a.DefinitionID < b.DefinitionID
		}
		return ids[i] < ids[j]
	})

	t := f.createTable(w, "ELEMENT", "DEFINITION", "PARTICIPANT", "DEPLOY", "LOCK", "OPERATIONAL", "MESSAGE")
	for _, id := range ids {
		el := inst.Elements[id]
		t.AppendRow(table.Row{
			id,
			el.DefinitionID,
			el.ParticipantID,
			el.DeployState,
			el.LockState,
			el.OperationalState,
			strutil.OneLine(el.Message, strutil.MessageWidth),
		})
	}
	t.Render()
	return nil
}

func (f *tableFormatter) Participants(w io.Writer, participants []*model.Participant) error {
	if len(participants) == 0 {
		return f.formatEmptyMessage(w, "No participants registered")
	}
	t := f.createTable(w, "ID", "STATE", "STALE", "ELEMENT TYPES", "LAST HEARTBEAT")
	for _, p := range participants {
		state := string(p.State)
		if f.options.Color && p.State == model.ParticipantActive {
			state = text.FgGreen.Sprint(state)
		}
		t.AppendRow(table.Row{
			p.ParticipantID,
			state,
			p.Stale,
			joinShort(p.SupportedElementTypes, 4),
			age(p.LastHeartbeat),
		})
	}
	t.Render()
	return nil
}

func (f *tableFormatter) Metrics(w io.Writer, summary supervision.MetricsSummary) error {
	t := f.createTable(w, "OPERATION", "OPENED", "CONVERGED", "EXPIRED", "FAILED", "RETRIED", "RESUMED")
	for _, k := range summary.PerKind {
		t.AppendRow(table.Row{k.Kind, k.Opened, k.Converged, k.Expired, k.Failed, k.Retried, k.Resumed})
	}
	t.AppendFooter(table.Row{
		"SCANS", summary.Scans,
		"OVERRUNS", summary.ScanOverruns,
		"STALE", summary.StaleFlagged,
		fmt.Sprintf("decode errors %d", summary.DecodeErrors),
	})
	t.Render()
	return nil
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String()
}
