package latex

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pavelanni/trilma/internal/model"
)

// Shuffler permutes n elements through swap. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// globalShuffler draws from the runtime-seeded math/rand/v2 source, so every
// call gets fresh entropy.
type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Labels holds the localised words placed in the document.
type Labels struct {
	ChoiceSetHeading    string
	OpenEndedHeading    string
	BooleanClaimHeading string
	AnswersHeading      string
	True                string
	False               string
}

// DefaultLabels are the English labels.
var DefaultLabels = Labels{
	ChoiceSetHeading:    "Multiple choice",
	OpenEndedHeading:    "Open-ended questions",
	BooleanClaimHeading: "True or false",
	AnswersHeading:      "Answers",
	True:                "True",
	False:               "False",
}

func (l Labels) heading(kind model.SectionKind) string {
	switch kind {
	case model.ChoiceSet:
		return l.ChoiceSetHeading
	case model.OpenEnded:
		return l.OpenEndedHeading
	case model.BooleanClaim:
		return l.BooleanClaimHeading
	}
	return string(kind)
}

// SectionOutput is the LaTeX produced for one section.
type SectionOutput struct {
	Kind      model.SectionKind
	Questions string
	Answers   string
}

// Renderer renders generated sections. The zero value is not usable; call NewRenderer.
type Renderer struct {
	shuffler Shuffler
	labels   Labels
}

// NewRenderer creates a renderer. A nil shuffler uses math/rand/v2.
func NewRenderer(s Shuffler, labels Labels) *Renderer {
	if s == nil {
		s = globalShuffler{}
	}
	return &Renderer{shuffler: s, labels: labels}
}

// Labels returns the labels the renderer writes into sections.
func (r *Renderer) Labels() Labels { return r.labels }

// Render renders every section of the exam in canonical order.
func (r *Renderer) Render(exam *model.GeneratedExam) ([]SectionOutput, error) {
	var out []SectionOutput
	for _, kind := range model.SectionKinds {
		sec := exam.Section(kind)
		if sec == nil {
			continue
		}
		so, err := r.RenderSection(*sec)
		if err != nil {
			return nil, err
		}
		out = append(out, so)
	}
	return out, nil
}

// RenderSection shuffles the order of the section's exercises, then renders
// each one. Choice answers get their own, independent shuffle.
func (r *Renderer) RenderSection(sec model.GeneratedSection) (SectionOutput, error) {
	exercises := make([]model.Exercise, len(sec.Exercises))
	copy(exercises, sec.Exercises)
	r.shuffler.Shuffle(len(exercises), func(i, j int) {
		exercises[i], exercises[j] = exercises[j], exercises[i]
	})

	heading := `\section*{` + r.labels.heading(sec.Kind) + `}`
	questions := []string{heading, `\begin{enumerate}`}
	answers := []string{heading, `\begin{enumerate}`}

	for _, ex := range exercises {
		if ex.Kind() != sec.Kind {
			return SectionOutput{}, fmt.Errorf("%s exercise in %s section", ex.Kind(), sec.Kind)
		}
		switch e := ex.(type) {
		case model.ChoiceExercise:
			rc := r.PermuteChoice(e)
			questions = append(questions, choiceQuestion(rc))
			answers = append(answers, `\item `+ChoiceLabel(rc.CorrectIndex)+")")
		case model.OpenExercise:
			questions = append(questions, `\item `+string(e.Question), `\vspace{4cm}`)
			answers = append(answers, `\item `+string(e.Answer))
		case model.ClaimExercise:
			questions = append(questions, `\item \rule{1.5cm}{0.4pt} `+string(e.Question))
			answers = append(answers, `\item `+r.truth(e.Answer))
		default:
			return SectionOutput{}, fmt.Errorf("unsupported exercise type %T", ex)
		}
	}

	questions = append(questions, `\end{enumerate}`)
	answers = append(answers, `\end{enumerate}`)
	return SectionOutput{
		Kind:      sec.Kind,
		Questions: strings.Join(questions, "\n"),
		Answers:   strings.Join(answers, "\n"),
	}, nil
}

// PermuteChoice shuffles the answers of a choice exercise and records where
// the originally first answer ended up.
func (r *Renderer) PermuteChoice(e model.ChoiceExercise) model.RenderedChoice {
	order := make([]int, len(e.Answers))
	for i := range order {
		order[i] = i
	}
	r.shuffler.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	rc := model.RenderedChoice{
		Question: e.Question,
		Answers:  make([]model.Markup, len(order)),
	}
	for pos, src := range order {
		rc.Answers[pos] = e.Answers[src]
		if src == 0 {
			rc.CorrectIndex = pos
		}
	}
	return rc
}

// ChoiceLabel returns the letter for a choice position: 0 is "a".
func ChoiceLabel(i int) string {
	return string(rune('a' + i))
}

func choiceQuestion(rc model.RenderedChoice) string {
	lines := []string{`\item ` + string(rc.Question), `\begin{itemize}`}
	for i, a := range rc.Answers {
		lines = append(lines, `\item[`+ChoiceLabel(i)+`)] `+string(a))
	}
	lines = append(lines, `\end{itemize}`)
	return strings.Join(lines, "\n")
}

func (r *Renderer) truth(v bool) string {
	if v {
		return r.labels.True
	}
	return r.labels.False
}
