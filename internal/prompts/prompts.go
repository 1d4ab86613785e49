// Package prompts builds the generation instruction for an exam request.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/pavelanni/trilma/internal/latex"
	"github.com/pavelanni/trilma/internal/model"
)

//go:embed templates/*.yaml templates/*.tmpl
var templateFS embed.FS

var examTemplate = template.Must(
	template.New("exam.tmpl").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/exam.tmpl"),
)

// schemaDescriptions explains the YAML shape expected for each section kind.
var schemaDescriptions = map[model.SectionKind]string{
	model.ChoiceSet: `The value of "choiceSet" is a list of maps where every map has the keys "question" and "answers". ` +
		`"question" is LaTeX code and "answers" is a list of LaTeX codes. ` +
		`The correct answer must always be at index 0 of "answers". I will reorder the answers afterwards.`,
	model.OpenEnded: `The value of "openEnded" is a list of maps where every map has the keys "question" and "answer". ` +
		`"question" is LaTeX code and "answer" is LaTeX code with the expected solution.`,
	model.BooleanClaim: `The value of "booleanClaim" is a list of maps where every map has the keys "question" and "answer". ` +
		`"question" is LaTeX code with a statement that can be true or false and "answer" is a boolean telling whether the statement is true.`,
}

// Input is everything the instruction depends on.
type Input struct {
	Exercises      model.ExercisesRequest
	Subject        string
	SchoolContext  string
	StudentContext string
}

type sectionData struct {
	Key     string
	Schema  string
	Example string
	Lines   []string
}

type examData struct {
	Subject        string
	SchoolContext  string
	StudentContext string
	Keys           []string
	Sections       []sectionData
	Packages       string
}

// Build renders the generation instruction. Only sections with at least one
// exercise description appear in it. The output depends on the input alone.
func Build(in Input) (string, error) {
	kinds := in.Exercises.Sections()
	if len(kinds) == 0 {
		return "", model.ErrEmptyRequest
	}

	data := examData{
		Subject:        in.Subject,
		SchoolContext:  strings.TrimSpace(in.SchoolContext),
		StudentContext: strings.TrimSpace(in.StudentContext),
		Packages:       strings.Join(latex.Packages, ", "),
	}
	for _, kind := range kinds {
		example, err := Example(kind)
		if err != nil {
			return "", err
		}
		data.Keys = append(data.Keys, string(kind))
		data.Sections = append(data.Sections, sectionData{
			Key:     string(kind),
			Schema:  schemaDescriptions[kind],
			Example: example,
			Lines:   descriptionLines(in.Exercises.Get(kind)),
		})
	}

	var buf bytes.Buffer
	if err := examTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute exam template: %w", err)
	}
	return buf.String(), nil
}

// Example returns the worked YAML example for a section kind.
func Example(kind model.SectionKind) (string, error) {
	b, err := templateFS.ReadFile("templates/" + string(kind) + ".yaml")
	if err != nil {
		return "", fmt.Errorf("read example for %s: %w", kind, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func descriptionLines(descs []model.ExerciseDescription) []string {
	lines := make([]string, 0, len(descs))
	for _, d := range descs {
		lines = append(lines, fmt.Sprintf("%d question(s): %s", d.Quantity, d.Description))
	}
	return lines
}
