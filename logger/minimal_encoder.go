package logger

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// palette maps the encoder's semantic slots to ANSI colors. One struct
// for every theme; themes differ only in which colors fill the slots.
type palette struct {
	fg        string // plain message text
	time      string // HH:MM:SS stamp
	id        string // task/job ids, topics
	number    string // counts, durations
	delivery  string // dispatch/sent/executed vocabulary
	schedule  string // due/fire/tick vocabulary
	lifecycle string // daemon startup/config vocabulary
	marker    string // non-id bracket tags like [misfired]
	warn      string
	warnBg    string
	err       string
	errBg     string

	// component name colors, rotated by name hash for stable grouping
	components []string
}

// Gruvbox Dark: warm and muted.
var gruvbox = palette{
	fg:         "\x1b[38;5;223m", // soft cream (#ebdbb2)
	time:       "\x1b[38;5;108m", // muted cyan-green (#8ec07c)
	id:         "\x1b[38;5;109m", // soft blue (#83a598)
	number:     "\x1b[38;5;175m", // muted purple (#d3869b)
	delivery:   "\x1b[38;5;142m", // muted green (#b8bb26)
	schedule:   "\x1b[38;5;109m", // soft blue (#83a598)
	lifecycle:  "\x1b[38;5;208m", // warm orange (#fe8019)
	marker:     "\x1b[38;5;208m",
	warn:       "\x1b[38;5;214m", // soft yellow (#fabd2f)
	warnBg:     "\x1b[48;5;58m",
	err:        "\x1b[38;5;167m", // warm red (#fb4934)
	errBg:      "\x1b[48;5;88m",
	components: []string{"\x1b[38;5;208m", "\x1b[38;5;214m"},
}

// Everforest Dark: strong green presence across the slots.
var everforest = palette{
	fg:         "\x1b[38;5;223m", // soft beige (#d3c6aa)
	time:       "\x1b[38;5;107m", // mid green (#83c092)
	id:         "\x1b[38;5;109m", // blue-green (#7fbbb3)
	number:     "\x1b[38;5;108m", // bright green (#a7c080)
	delivery:   "\x1b[38;5;108m", // bright green for deliveries
	schedule:   "\x1b[38;5;107m", // mid green for schedule events
	lifecycle:  "\x1b[38;5;65m",  // deep green for daemon lifecycle
	marker:     "\x1b[38;5;208m", // autumn orange (#e69875)
	warn:       "\x1b[38;5;179m", // soft yellow (#dbbc7f)
	warnBg:     "\x1b[48;5;58m",
	err:        "\x1b[38;5;167m", // warm red (#e67e80)
	errBg:      "\x1b[48;5;52m",
	components: []string{"\x1b[38;5;108m", "\x1b[38;5;65m", "\x1b[38;5;208m"},
}

var themes = map[string]*palette{
	"gruvbox":    &gruvbox,
	"everforest": &everforest,
}

var currentTheme = "gruvbox"

// SetTheme switches the console color scheme. Unknown names are ignored
// so a typo in config degrades to the previous theme, not to a panic.
func SetTheme(theme string) {
	if _, ok := themes[theme]; ok {
		currentTheme = theme
	}
}

func theme() *palette { return themes[currentTheme] }

// componentColor picks a stable color per logger name so related lines
// group visually.
func componentColor(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	p := theme()
	return p.components[hash%len(p.components)]
}

// messageColor classifies the message by its scheduling vocabulary.
func messageColor(msg string) string {
	p := theme()
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "dispatch", "notif", "sent", "executed"):
		return p.delivery
	case containsAny(lower, "due", "fire", "scheduled", "tick"):
		return p.schedule
	case containsAny(lower, "starting", "started", "daemon", "config"):
		return p.lifecycle
	default:
		return p.fg
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// colorizeMessage renders a message with its vocabulary color and
// highlights bracketed tags: [task:…]/[job:…] in the id color,
// everything else ([misfired], [unscheduled]) as a status marker.
func colorizeMessage(msg string) string {
	p := theme()
	base := messageColor(msg)

	var out strings.Builder
	last := 0
	for _, m := range bracketPattern.FindAllStringSubmatchIndex(msg, -1) {
		if before := msg[last:m[0]]; before != "" {
			out.WriteString(base)
			out.WriteString(before)
			out.WriteString(colorReset)
		}

		color := p.marker
		if content := msg[m[2]:m[3]]; strings.HasPrefix(content, "task:") || strings.HasPrefix(content, "job:") {
			color = p.id
		}
		out.WriteString(color)
		out.WriteString(msg[m[0]:m[1]])
		out.WriteString(colorReset)
		last = m[1]
	}
	if rest := msg[last:]; rest != "" {
		out.WriteString(base)
		out.WriteString(rest)
		out.WriteString(colorReset)
	}
	return out.String()
}

// minimalEncoder is the calm, compact console encoder.
// Format: "13:04:35  s.ticker  Dispatched notification  a1b2c3 42ms"
type minimalEncoder struct {
	zapcore.Encoder // base encoder for field serialization
	buf             *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(theme().time)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Info is the expected level; only warnings and worse carry a tag.
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(componentColor(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorizeMessage(ent.Message))

	if len(fields) > 0 {
		final.AppendString("  ")
		final.AppendString(extractFieldValues(fields))
	}

	final.AppendString("\n")
	return final, nil
}

func levelColorString(level zapcore.Level) string {
	p := theme()
	switch level {
	case zapcore.WarnLevel:
		return colorBold + p.warnBg + p.warn + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + p.errBg + p.err + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + p.errBg + p.err + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens dotted logger names: schedule.ticker -> s.ticker.
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func fieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// extractFieldValues renders structured fields. Known scheduling fields
// get compact value-only form:
//
//	{"task_id": "a1b2c3", "topic": "reminders", "duration_ms": 42}
//	-> "a1b2c3 reminders 42ms"
//
// Every other field renders as key=value. A field is never silently
// discarded; losing debugging information is worse than a noisy line.
func extractFieldValues(fields []zapcore.Field) string {
	p := theme()

	// MapObjectEncoder resolves every zap field type to a plain Go value,
	// including arrays, durations, and errors.
	m := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(m)
	}

	var values, rest []string
	for _, field := range fields {
		if field.Key == "" {
			continue // zap.Skip and friends
		}
		val := fieldValue(field)
		switch field.Key {
		case FieldTaskID, FieldJobID, FieldTopic:
			if val != "" {
				values = append(values, p.id+val+colorReset)
			}
		case FieldNextFire:
			if val != "" {
				values = append(values, p.fg+"next "+colorReset+p.number+val+colorReset)
			}
		case FieldRunCount:
			if val != "" {
				values = append(values, p.number+val+colorReset+p.fg+" runs"+colorReset)
			}
		case FieldDurationMS:
			if val != "" {
				values = append(values, p.number+val+colorReset+"ms")
			}
		default:
			resolved, ok := m.Fields[field.Key]
			if !ok {
				continue
			}
			rest = append(rest, p.fg+field.Key+"="+fmt.Sprintf("%v", resolved)+colorReset)
		}
	}

	values = append(values, rest...)
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, " ")
}
