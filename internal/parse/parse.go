// Package parse turns a generator reply into typed exercises.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.yaml.in/yaml/v3"

	"github.com/pavelanni/trilma/internal/model"
)

var fencedBlockRegex = regexp.MustCompile("(?s)```(?:yaml|yml|json)[ \\t]*\\r?\\n?(.*?)```")

const markupSchema = `{"type": ["string", "number"]}`

// sectionSchemas describe the list expected under each section key.
// Extra keys inside items are allowed.
var sectionSchemas = map[model.SectionKind]*gojsonschema.Schema{
	model.ChoiceSet: mustSchema(`{
		"type": "array",
		"minItems": 1,
		"items": {
			"type": "object",
			"required": ["question", "answers"],
			"properties": {
				"question": ` + markupSchema + `,
				"answers": {"type": "array", "minItems": 2, "maxItems": 26, "items": ` + markupSchema + `}
			}
		}
	}`),
	model.OpenEnded: mustSchema(`{
		"type": "array",
		"minItems": 1,
		"items": {
			"type": "object",
			"required": ["question", "answer"],
			"properties": {
				"question": ` + markupSchema + `,
				"answer": ` + markupSchema + `
			}
		}
	}`),
	model.BooleanClaim: mustSchema(`{
		"type": "array",
		"minItems": 1,
		"items": {
			"type": "object",
			"required": ["question", "answer"],
			"properties": {
				"question": ` + markupSchema + `,
				"answer": {"type": "boolean"}
			}
		}
	}`),
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

// ExtractPayload returns the body of the first fenced yaml/json block, or the
// whole reply when it has none.
func ExtractPayload(reply string) string {
	if m := fencedBlockRegex.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	return reply
}

// Exercises decodes the generator reply for the requested section kinds.
// Sections that were not requested are ignored.
func Exercises(reply string, requested []model.SectionKind) (*model.GeneratedExam, error) {
	payload := ExtractPayload(reply)

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, malformed("decode payload: %v", err)
	}
	if doc == nil {
		return nil, malformed("payload is not a map")
	}

	want := make(map[model.SectionKind]bool, len(requested))
	for _, k := range requested {
		want[k] = true
	}

	exam := &model.GeneratedExam{}
	for _, kind := range model.SectionKinds {
		if !want[kind] {
			continue
		}
		raw, ok := doc[string(kind)]
		if !ok {
			return nil, malformed("section %s missing from payload", kind)
		}
		sec, err := decodeSection(kind, raw)
		if err != nil {
			return nil, err
		}
		exam.Sections = append(exam.Sections, sec)
	}
	return exam, nil
}

func decodeSection(kind model.SectionKind, raw any) (model.GeneratedSection, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return model.GeneratedSection{}, malformed("section %s: %v", kind, err)
	}

	result, err := sectionSchemas[kind].Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return model.GeneratedSection{}, malformed("section %s: validate: %v", kind, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return model.GeneratedSection{}, malformed("section %s: %s", kind, strings.Join(msgs, "; "))
	}

	sec := model.GeneratedSection{Kind: kind}
	switch kind {
	case model.ChoiceSet:
		var items []model.ChoiceExercise
		if err := json.Unmarshal(data, &items); err != nil {
			return sec, malformed("section %s: %v", kind, err)
		}
		for _, it := range items {
			it.Question = trim(it.Question)
			for i := range it.Answers {
				it.Answers[i] = trim(it.Answers[i])
			}
			sec.Exercises = append(sec.Exercises, it)
		}
	case model.OpenEnded:
		var items []model.OpenExercise
		if err := json.Unmarshal(data, &items); err != nil {
			return sec, malformed("section %s: %v", kind, err)
		}
		for _, it := range items {
			it.Question, it.Answer = trim(it.Question), trim(it.Answer)
			sec.Exercises = append(sec.Exercises, it)
		}
	case model.BooleanClaim:
		var items []model.ClaimExercise
		if err := json.Unmarshal(data, &items); err != nil {
			return sec, malformed("section %s: %v", kind, err)
		}
		for _, it := range items {
			it.Question = trim(it.Question)
			sec.Exercises = append(sec.Exercises, it)
		}
	default:
		return sec, malformed("unknown section %s", kind)
	}
	return sec, nil
}

func trim(m model.Markup) model.Markup {
	return model.Markup(strings.TrimSpace(string(m)))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrMalformedGeneration, fmt.Sprintf(format, args...))
}
