package annotations

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter creates a formatter with color support detection.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
	}

	return &OutputFormatter{
		useColor: useColor,
		writer:   w,
	}
}

// Handle implements the Handler interface - prints events as they occur
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	d := event.Data

	switch event.Name {
	case JoinInvoked:
		return fmt.Sprintf("%s %s %s join of %s and %s on %d columns",
			latency,
			f.colorize("===", color.FgYellow),
			d["join.type"],
			f.colorize(fmt.Sprint(d["left"]), color.FgCyan),
			f.colorize(fmt.Sprint(d["right"]), color.FgCyan),
			asInt64(d["join.cols"]))

	case JoinStaged:
		return fmt.Sprintf("%s Staged %s left and %s right buckets, key widths %v / %v",
			latency,
			f.colorizeCount("", asInt64(d["left.buckets"])),
			f.colorizeCount("", asInt64(d["right.buckets"])),
			d["left.widths"],
			d["right.widths"])

	case JoinCompleted:
		if success, _ := d["success"].(bool); !success {
			return fmt.Sprintf("%s %s Join failed: %v",
				latency,
				f.colorize("✗", color.FgRed),
				d["error"])
		}
		return fmt.Sprintf("%s %s Join done with %s in %s over %s.",
			latency,
			f.colorize("===", color.FgGreen),
			f.colorizeCount("rows", asInt64(d["rows"])),
			f.colorizeCount("chunks", asInt64(d["chunks"])),
			f.colorizeCount("partition pairs", asInt64(d["pairs"])))

	case TaskBegin:
		return fmt.Sprintf("%s %s MSB %d ⋈ %d on node %d",
			latency,
			f.colorize("---", color.FgYellow),
			asInt64(d["left.msb"]),
			asInt64(d["right.msb"]),
			asInt64(d["node"]))

	case PartitionsLoaded:
		return fmt.Sprintf("%s %s Loaded %s × %s",
			latency,
			f.pair(d),
			f.colorizeCount("left rows", asInt64(d["left.rows"])),
			f.colorizeCount("right rows", asInt64(d["right.rows"])))

	case MergeRanges:
		s := fmt.Sprintf("%s %s Merge matched %s",
			latency,
			f.pair(d),
			f.colorizeCount("left rows", asInt64(d["left.matched"])))
		if many, _ := d["one.to.many"].(bool); many {
			s += f.colorize(" (one-to-many)", color.FgYellow)
		}
		return s

	case PlanFetches:
		return fmt.Sprintf("%s %s Planned %s in %s + %s",
			latency,
			f.pair(d),
			f.colorizeCount("result rows", asInt64(d["result.rows"])),
			f.colorizeCount("left batches", asInt64(d["left.batches"])),
			f.colorizeCount("right batches", asInt64(d["right.batches"])))

	case FetchRows:
		return fmt.Sprintf("%s %s Fetched %s and %s in %s",
			latency,
			f.pair(d),
			f.colorizeCount("left rows", asInt64(d["left.rows"])),
			f.colorizeCount("right rows", asInt64(d["right.rows"])),
			f.colorizeCount("calls", asInt64(d["calls"])))

	case ChunksWritten:
		return fmt.Sprintf("%s %s Wrote %s (%s)",
			latency,
			f.pair(d),
			f.colorizeCount("chunks", asInt64(d["chunks"])),
			humanize.Bytes(uint64(asInt64(d["bytes"]))))

	case TaskComplete:
		return fmt.Sprintf("%s %s Done with %s",
			latency,
			f.pair(d),
			f.colorizeCount("rows", asInt64(d["result.rows"])))

	case ErrorTask, ErrorJoin:
		return fmt.Sprintf("%s %s %s: %v",
			latency,
			f.colorize("✗", color.FgRed),
			event.Name,
			d["error"])

	default:
		// Generic format for unknown events
		return fmt.Sprintf("%s %s %v", latency, event.Name, d)
	}
}

func (f *OutputFormatter) pair(d map[string]interface{}) string {
	return f.colorize(fmt.Sprintf("[%d⋈%d]", asInt64(d["left.msb"]), asInt64(d["right.msb"])), color.FgBlue)
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	// Use microseconds for sub-millisecond durations
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}

	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label type.
func (f *OutputFormatter) colorizeCount(label string, count int64) string {
	text := humanize.Comma(count)
	if label != "" {
		text += " " + label
	}

	if !f.useColor {
		return text
	}

	switch label {
	case "rows", "result rows":
		return color.MagentaString(text)
	case "left rows", "right rows":
		return color.CyanString(text)
	case "chunks":
		return color.BlueString(text)
	default:
		return text
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// ConsoleHandler creates a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
