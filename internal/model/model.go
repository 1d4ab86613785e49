package model

import (
	"context"
	"encoding/json"
	"time"
)

// SectionKind identifies a category of exam exercise.
type SectionKind string

const (
	// ChoiceSet is a single-answer multiple choice section.
	ChoiceSet SectionKind = "choiceSet"
	// OpenEnded is a free development section.
	OpenEnded SectionKind = "openEnded"
	// BooleanClaim is a true-or-false section.
	BooleanClaim SectionKind = "booleanClaim"
)

// SectionKinds lists every section kind in canonical document order.
var SectionKinds = []SectionKind{ChoiceSet, OpenEnded, BooleanClaim}

// Valid reports whether k is a known section kind.
func (k SectionKind) Valid() bool {
	switch k {
	case ChoiceSet, OpenEnded, BooleanClaim:
		return true
	}
	return false
}

// ExerciseDescription is one line of a teacher's request.
type ExerciseDescription struct {
	Description string `json:"description" validate:"required,max=200"`
	Quantity    int    `json:"quantity" validate:"min=1,max=10"`
}

// ExercisesRequest groups exercise descriptions by section kind.
// A kind with no descriptions is not requested at all.
type ExercisesRequest struct {
	ChoiceSet    []ExerciseDescription `json:"choiceSet,omitempty" validate:"omitempty,dive"`
	OpenEnded    []ExerciseDescription `json:"openEnded,omitempty" validate:"omitempty,dive"`
	BooleanClaim []ExerciseDescription `json:"booleanClaim,omitempty" validate:"omitempty,dive"`
}

// Get returns the descriptions requested for a kind.
func (r ExercisesRequest) Get(kind SectionKind) []ExerciseDescription {
	switch kind {
	case ChoiceSet:
		return r.ChoiceSet
	case OpenEnded:
		return r.OpenEnded
	case BooleanClaim:
		return r.BooleanClaim
	}
	return nil
}

// Sections returns the requested kinds in canonical order.
func (r ExercisesRequest) Sections() []SectionKind {
	var kinds []SectionKind
	for _, k := range SectionKinds {
		if len(r.Get(k)) > 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Markup is LaTeX source for a question or an answer.
type Markup string

// UnmarshalJSON accepts JSON strings and bare numbers, keeping numbers in
// their literal form.
func (m *Markup) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = Markup(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = Markup(n.String())
	return nil
}

// Exercise is a generated exercise. The set of implementations is closed:
// ChoiceExercise, OpenExercise and ClaimExercise.
type Exercise interface {
	Kind() SectionKind
	exercise()
}

// ChoiceExercise is a multiple choice item. Answers[0] is the correct option
// as produced by the generator.
type ChoiceExercise struct {
	Question Markup   `json:"question"`
	Answers  []Markup `json:"answers"`
}

// OpenExercise is a development item with a model answer.
type OpenExercise struct {
	Question Markup `json:"question"`
	Answer   Markup `json:"answer"`
}

// ClaimExercise is a statement the student judges as true or false.
type ClaimExercise struct {
	Question Markup `json:"question"`
	Answer   bool   `json:"answer"`
}

func (ChoiceExercise) Kind() SectionKind { return ChoiceSet }
func (OpenExercise) Kind() SectionKind   { return OpenEnded }
func (ClaimExercise) Kind() SectionKind  { return BooleanClaim }

func (ChoiceExercise) exercise() {}
func (OpenExercise) exercise()   {}
func (ClaimExercise) exercise()  {}

// GeneratedSection holds the exercises the generator produced for one kind.
type GeneratedSection struct {
	Kind      SectionKind
	Exercises []Exercise
}

// GeneratedExam is the typed form of a generator reply. Sections are kept in
// canonical order.
type GeneratedExam struct {
	Sections []GeneratedSection
}

// Section returns the generated section for kind, or nil when absent.
func (g *GeneratedExam) Section(kind SectionKind) *GeneratedSection {
	for i := range g.Sections {
		if g.Sections[i].Kind == kind {
			return &g.Sections[i]
		}
	}
	return nil
}

// RenderedChoice is a choice exercise after its answers were permuted.
// Answers[CorrectIndex] is the answer that was first before permutation.
type RenderedChoice struct {
	Question     Markup
	Answers      []Markup
	CorrectIndex int
}

// ExamArtifact links a stored exam document to its owner.
type ExamArtifact struct {
	ID        string    `json:"id" firestore:"id"`
	OwnerID   int64     `json:"owner_id" firestore:"ownerId"`
	FileName  string    `json:"file_name" firestore:"fileName"`
	Pages     int       `json:"pages" firestore:"pages"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// ExamConfig holds runtime parameters set via CLI flags.
type ExamConfig struct {
	Env            string // storage namespace segment (development, production, ...)
	IncludeDebug   bool   // dump payload and LaTeX source to DebugDir
	DebugDir       string
	PersistTimeout time.Duration
}

// Subjects lists the subjects a teacher can pick.
var Subjects = []string{
	"languageAndCommunication",
	"mathematics",
	"physics",
	"chemistry",
	"biology",
	"naturalSciences",
	"geographyAndSocialSciences",
	"physicalEducation",
	"visualArts",
	"music",
	"technology",
	"english",
}

type userCtxKey struct{}

// ContextWithUser stores the authenticated user id in the request context.
func ContextWithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserFromContext retrieves the authenticated user id, or false if absent.
func UserFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userCtxKey{}).(int64)
	return id, ok
}
