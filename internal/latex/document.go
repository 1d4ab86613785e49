// Package latex turns generated exercises into a LaTeX exam document.
package latex

import (
	"slices"
	"strings"

	"github.com/pavelanni/trilma/internal/model"
)

// Packages lists the LaTeX packages the rendering service has installed.
// Generated markup may use any of them.
var Packages = []string{
	"amsmath",
	"amssymb",
	"amsfonts",
	"enumitem",
	"geometry",
	"tikz",
	"pgfplots",
	"xcolor",
	"graphicx",
}

// Preamble opens every assembled document.
var Preamble = buildPreamble()

// Closing ends every assembled document.
const Closing = `\end{document}`

func buildPreamble() string {
	var sb strings.Builder
	sb.WriteString(`\documentclass[12pt]{article}` + "\n")
	sb.WriteString(`\usepackage[utf8]{inputenc}` + "\n")
	for _, p := range Packages {
		sb.WriteString(`\usepackage{` + p + "}\n")
	}
	sb.WriteString(`\pgfplotsset{compat=1.18}` + "\n")
	sb.WriteString(`\begin{document}`)
	return sb.String()
}

// AnswerKeyHeading returns the block that separates the questions from the answer key.
func AnswerKeyHeading(labels Labels) string {
	return `\newpage\begin{center}\LARGE ` + labels.AnswersHeading + `\end{center}`
}

// Assemble concatenates section bodies in canonical order and wraps them
// in the fixed preamble and closing. The answer key is appended only when
// includeAnswers is set.
func Assemble(sections []SectionOutput, includeAnswers bool, labels Labels) string {
	ordered := slices.Clone(sections)
	slices.SortStableFunc(ordered, func(a, b SectionOutput) int {
		return canonicalIndex(a.Kind) - canonicalIndex(b.Kind)
	})

	lines := []string{Preamble}
	for _, s := range ordered {
		lines = append(lines, s.Questions)
	}
	if includeAnswers {
		lines = append(lines, AnswerKeyHeading(labels))
		for _, s := range ordered {
			lines = append(lines, s.Answers)
		}
	}
	lines = append(lines, Closing)
	return strings.Join(lines, "\n")
}

func canonicalIndex(kind model.SectionKind) int {
	return slices.Index(model.SectionKinds, kind)
}
