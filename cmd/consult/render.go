package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/germanamz/consult/cmd/consult/internal/styles"
	"github.com/germanamz/consult/pkg/failure"
	"github.com/germanamz/consult/pkg/query"
)

// renderer turns answers into terminal output.
type renderer struct {
	md *glamour.TermRenderer // nil prints plain text.
}

func newRenderer(markdown bool) renderer {
	if !markdown {
		return renderer{}
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return renderer{}
	}

	return renderer{md: md}
}

func (r renderer) answer(text string) string {
	if r.md == nil {
		return text + "\n"
	}

	out, err := r.md.Render(text)
	if err != nil {
		return text + "\n"
	}

	return out
}

func header(q query.Query) string {
	h := styles.HeaderStyle.Render(q.Provider.String())
	if q.Model != "" {
		h += " " + styles.DimStyle.Render(q.Model)
	}
	return h
}

// renderError formats err for stderr, labelled with its failure kind when it
// has one.
func renderError(err error) string {
	label := "error"
	if k := failure.KindOf(err); k != failure.Unclassified {
		label = k.String()
	}

	msg := strings.TrimSpace(err.Error())

	return styles.ErrorBlockStyle.Render(fmt.Sprintf("%s %s", styles.ErrorKindStyle.Render(label), msg))
}
