package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"signalpulse/internal/session"
	"signalpulse/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	longStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	shortStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	sniperStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var columns = []string{"Symbol", "Side", "Type", "Price", "24h", "RSI", "ADX", "Link"}

// sortResults orders rows by side, then symbol.
func sortResults(rows []session.ResultView) []session.ResultView {
	out := append([]session.ResultView(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func reading(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *v)
}

func sideStyle(s models.Side) lipgloss.Style {
	if s == models.SideShort {
		return shortStyle
	}
	return longStyle
}

// padRight pads a possibly styled cell to width visible columns.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func render(snap session.Snapshot) string {
	var b strings.Builder

	if snap.Notice != nil {
		style := dimStyle
		switch snap.Notice.Kind {
		case session.NoticeError:
			style = errorStyle
		case session.NoticeWarning:
			style = warnStyle
		}
		b.WriteString(style.Render(snap.Notice.Message))
		b.WriteString("\n")
	}
	if len(snap.Results) == 0 {
		return b.String()
	}

	rows := sortResults(snap.Results)
	cells := make([][]string, len(rows))
	for i, r := range rows {
		typ := ""
		if r.TypeLabel != "" {
			typ = r.TypeLabel
			if r.Type == models.SetupPulse {
				typ = sniperStyle.Render(typ)
			}
		}
		cells[i] = []string{
			r.Symbol,
			sideStyle(r.Side).Render(string(r.Side)),
			typ,
			r.Price,
			r.ChangeLabel,
			reading(r.RSI),
			reading(r.ADX),
			dimStyle.Render(r.TradeURL),
		}
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = lipgloss.Width(c)
	}
	for _, row := range cells {
		for i, c := range row {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for i, c := range columns {
		b.WriteString(padRight(headerStyle.Render(c), widths[i]+2))
	}
	b.WriteString("\n")
	for _, row := range cells {
		for i, c := range row {
			b.WriteString(padRight(c, widths[i]+2))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%d setups on %s · %s long / %s short · sentiment %d%% long\n",
		snap.Summary.Total,
		snap.Venue.DisplayName(),
		longStyle.Render(fmt.Sprint(snap.Summary.Longs)),
		shortStyle.Render(fmt.Sprint(snap.Summary.Shorts)),
		snap.Summary.Sentiment,
	)
	return b.String()
}
