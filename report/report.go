// Package report renders an analysis for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hannes/kiji-ner/ner"
)

const (
	FormatJSON  = "json"
	FormatTable = "table"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#5EEAD4"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Align(lipgloss.Center)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	emptyStyle  = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

// Write renders resp to w in the given format.
func Write(w io.Writer, resp ner.AnalysisResponse, format string) error {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.WithEmptyLists())
	case FormatTable:
		_, err := io.WriteString(w, Table(resp))
		return err
	}
	return fmt.Errorf("unknown format %q (want %s or %s)", format, FormatJSON, FormatTable)
}

// Table renders both result lists as separate tables. The lists are shown
// side by side in source order and are never merged.
func Table(resp ner.AnalysisResponse) string {
	sections := []string{
		section("Generative", resp.GenerativeResults),
		section("Sequence labeling", resp.LabelingResults),
	}
	return strings.Join(sections, "\n") + "\n"
}

func section(title string, entities ner.ExtractionResult) string {
	heading := titleStyle.Render(fmt.Sprintf("%s (%d)", title, len(entities)))
	if len(entities) == 0 {
		return heading + "\n" + emptyStyle.Render("no entities") + "\n"
	}

	rows := make([][]string, len(entities))
	for i, e := range entities {
		rows[i] = []string{strconv.Itoa(i + 1), e.Entity, e.Type}
	}

	t := table.New().
		Headers("#", "Entity", "Type").
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1)
			if col == 2 {
				style = style.Foreground(colorAccent)
			}
			return style
		})

	return heading + "\n" + t.String() + "\n"
}
