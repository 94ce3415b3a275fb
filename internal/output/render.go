package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool

	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY,
// or when forceStyled is true. NO_COLOR disables colors regardless.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, tty := terminalInfo(w)
	styled := (tty || forceStyled) && os.Getenv("NO_COLOR") == ""

	r := &Renderer{width: width, styled: styled}
	if !styled {
		r.Summary = lipgloss.NewStyle()
		r.Muted = lipgloss.NewStyle()
		r.Data = lipgloss.NewStyle()
		r.Error = lipgloss.NewStyle()
		r.Hint = lipgloss.NewStyle()
		return r
	}

	r.Summary = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")).Bold(true)
	r.Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a"))
	r.Data = lipgloss.NewStyle().Foreground(lipgloss.Color("#e4e4e4"))
	r.Error = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	r.Hint = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a")).Italic(true)
	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, isTTY bool) {
	width = 80

	if f, ok := w.(*os.File); ok {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w >= 40 {
			width = w
		}
		isTTY = term.IsTerminal(f.Fd())
	}

	return width, isTTY
}

// RenderResponse renders a success response to the writer.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, normalizeData(resp.Data))

	if stats, ok := resp.Meta["stats"].(map[string]any); ok && len(stats) > 0 {
		b.WriteString("\n")
		r.renderObject(&b, stats)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response to the writer.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")

	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case map[string]any:
		r.renderObject(b, d)
	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("• " + r.truncate(formatCell(item))))
			b.WriteString("\n")
		}
	case string:
		b.WriteString(r.Data.Render(d))
		b.WriteString("\n")
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	keys := make([]string, 0, len(data))
	maxLen := 0
	for k := range data {
		keys = append(keys, k)
		if l := len(formatHeader(k)); l > maxLen {
			maxLen = l
		}
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
		return
	}

	for _, k := range keys {
		label := r.Muted.Render(fmt.Sprintf("%-*s: ", maxLen, formatHeader(k)))
		b.WriteString(label + r.Data.Render(r.truncate(formatCell(data[k]))) + "\n")
	}
}

// truncate shortens a value so a rendered line fits the terminal width.
func (r *Renderer) truncate(s string) string {
	limit := r.width - 4
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit-1] + "…"
}

func formatHeader(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// normalizeData converts json.RawMessage and typed values to generic JSON types.
func normalizeData(data any) any {
	switch d := data.(type) {
	case nil, map[string]any, []any, string:
		return data
	case json.RawMessage:
		var v any
		if err := json.Unmarshal(d, &v); err != nil {
			return string(d)
		}
		return v
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return data
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return data
		}
		return v
	}
}
