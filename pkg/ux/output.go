// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the proxmox-mpc CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	ColorPrimary = lipgloss.Color("#E57000") // Proxmox orange
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorSlate   = lipgloss.Color("#5C6B73")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// Mode selects how a Printer decorates output.
type Mode string

const (
	// ModeRich uses colors, icons and boxes. Colors are dropped
	// automatically when the writer is not a terminal.
	ModeRich Mode = "rich"

	// ModeMachine prints tab-separated plain text for scripts.
	ModeMachine Mode = "machine"
)

// Styles are bound to one lipgloss renderer.
type Styles struct {
	Title    lipgloss.Style
	Section  lipgloss.Style
	Key      lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorPrimary),
		Section: r.NewStyle().Bold(true).Foreground(ColorAccent),
		Key:     r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1),
		ErrorBox: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorError).
			Padding(0, 1),
	}
}

// Printer writes styled output to one writer.
type Printer struct {
	w      io.Writer
	mode   Mode
	styles Styles
}

// NewPrinter detects the color profile of w, so a buffer or pipe gets no
// escape codes.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = ModeRich
	}
	return &Printer{
		w:      w,
		mode:   mode,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Machine reports whether the printer is in ModeMachine.
func (p *Printer) Machine() bool {
	return p.mode == ModeMachine
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, p.styles.Title.Render(text))
}

// Section prints a sub-heading preceded by a blank line.
func (p *Printer) Section(text string) {
	if p.Machine() {
		fmt.Fprintf(p.w, "# %s\n", text)
		return
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.styles.Section.Render(text))
}

// KeyValue prints "key: value".
func (p *Printer) KeyValue(key string, value any) {
	if p.Machine() {
		fmt.Fprintf(p.w, "%s\t%v\n", key, value)
		return
	}
	fmt.Fprintf(p.w, "  %s %v\n", p.styles.Key.Render(key+":"), value)
}

// Line prints text as is.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Muted prints de-emphasized text.
func (p *Printer) Muted(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, p.styles.Muted.Render(text))
}

// StatusIcon maps healthy|success, warning|pending and error to an icon.
func (p *Printer) StatusIcon(status string) string {
	switch strings.ToLower(status) {
	case "healthy", "success", "ok":
		return p.styles.Success.Render(string(IconSuccess))
	case "warning", "warn":
		return p.styles.Warning.Render(string(IconWarning))
	case "error", "failure":
		return p.styles.Error.Render(string(IconError))
	default:
		return p.styles.Muted.Render(string(IconPending))
	}
}

// Status prints one status row: icon, padded name and detail. Machine
// mode prints "status<TAB>name<TAB>detail".
func (p *Printer) Status(status, name, detail string) {
	if p.Machine() {
		fmt.Fprintf(p.w, "%s\t%s\t%s\n", status, name, detail)
		return
	}
	fmt.Fprintf(p.w, "  %s %-12s %s\n", p.StatusIcon(status), name, detail)
}

// Box prints content in a bordered box with a title line.
func (p *Printer) Box(title, content string) {
	p.box(p.styles.Box, title, content)
}

// ErrorBox is Box with the error border.
func (p *Printer) ErrorBox(title, content string) {
	p.box(p.styles.ErrorBox, title, content)
}

func (p *Printer) box(style lipgloss.Style, title, content string) {
	if p.Machine() {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	body := p.styles.Key.Render(title)
	if content != "" {
		body += "\n" + content
	}
	fmt.Fprintln(p.w, style.Render(body))
}

// Table prints rows under headers with columns padded to the widest
// cell. Widths ignore ANSI escapes.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.Machine() {
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	writeRow := func(cells []string, style *lipgloss.Style) {
		padded := make([]string, len(widths))
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", w-lipgloss.Width(cell))
			if style != nil {
				cell = style.Render(cell)
			}
			padded[i] = cell + pad
		}
		fmt.Fprintln(p.w, strings.TrimRight("  "+strings.Join(padded, "  "), " "))
	}
	writeRow(headers, &p.styles.Key)
	for _, row := range rows {
		writeRow(row, nil)
	}
}
