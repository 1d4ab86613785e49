package exam

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/pavelanni/trilma/internal/archive"
	"github.com/pavelanni/trilma/internal/latex"
	"github.com/pavelanni/trilma/internal/model"
	"github.com/pavelanni/trilma/internal/render"
	"github.com/pavelanni/trilma/internal/tasks"
)

// frontToSecond moves the first element to the second slot.
type frontToSecond struct{}

func (frontToSecond) Shuffle(n int, swap func(i, j int)) {
	if n > 1 {
		swap(0, 1)
	}
}

type fakeGenerator struct {
	reply   string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeRenderer struct {
	locator string
	source  string
}

func (f *fakeRenderer) Render(_ context.Context, source string) (*url.URL, error) {
	f.source = source
	return render.ParseLocator(f.locator)
}

type fakeArchiver struct {
	mu   sync.Mutex
	jobs []archive.Job
}

func (f *fakeArchiver) Archive(_ context.Context, job archive.Job) (*model.ExamArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return &model.ExamArtifact{ID: "id-1", OwnerID: job.Owner, FileName: job.FileName}, nil
}

// inlineDispatcher runs tasks when asked to, so tests control the ordering.
type inlineDispatcher struct {
	pending []tasks.Task
	err     error
}

func (d *inlineDispatcher) Submit(_ string, fn tasks.Task) error {
	if d.err != nil {
		return d.err
	}
	d.pending = append(d.pending, fn)
	return nil
}

func (d *inlineDispatcher) runAll(t *testing.T) {
	t.Helper()
	for _, fn := range d.pending {
		if err := fn(context.Background()); err != nil {
			t.Fatalf("task: %v", err)
		}
	}
	d.pending = nil
}

const fractionsReply = "```yaml\n" + `choiceSet:
  - question: Which fraction equals one half?
    answers: ["2/4", "1/3", "5/6"]
` + "```"

func fractionsRequest(includeAnswers bool) Request {
	return Request{
		Exercises: model.ExercisesRequest{
			ChoiceSet: []model.ExerciseDescription{{Description: "fractions", Quantity: 1}},
		},
		Subject:        "mathematics",
		IncludeAnswers: includeAnswers,
	}
}

type fixture struct {
	svc        *Service
	gen        *fakeGenerator
	renderer   *fakeRenderer
	archiver   *fakeArchiver
	dispatcher *inlineDispatcher
}

func newFixture(reply, locator string) *fixture {
	f := &fixture{
		gen:        &fakeGenerator{reply: reply},
		renderer:   &fakeRenderer{locator: locator},
		archiver:   &fakeArchiver{},
		dispatcher: &inlineDispatcher{},
	}
	doc := latex.NewRenderer(frontToSecond{}, latex.DefaultLabels)
	f.svc = NewService(f.gen, f.renderer, f.archiver, f.dispatcher, doc, model.ExamConfig{Env: "test"})
	return f
}

func TestCreateFractions(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/exam-7.pdf")

	created, err := f.svc.Create(context.Background(), 7, fractionsRequest(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.FileName != "exam-7.pdf" {
		t.Errorf("FileName = %q, want %q", created.FileName, "exam-7.pdf")
	}

	src := f.renderer.source
	if !strings.HasPrefix(src, latex.Preamble) || !strings.HasSuffix(src, latex.Closing) {
		t.Error("document must start with the preamble and end with the closing")
	}
	if !strings.Contains(src, `\item[b)] 2/4`) {
		t.Errorf("correct answer should be listed under b):\n%s", src)
	}
	key := src[strings.Index(src, `\newpage`):]
	if !strings.Contains(key, `\item b)`) {
		t.Errorf("answer key should point at b):\n%s", key)
	}
	if !strings.Contains(f.gen.prompts[0], "1 question(s): fractions") {
		t.Errorf("prompt should carry the request lines:\n%s", f.gen.prompts[0])
	}
}

func TestCreateWithoutAnswers(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/exam.pdf")
	if _, err := f.svc.Create(context.Background(), 1, fractionsRequest(false)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if strings.Contains(f.renderer.source, `\newpage`) || strings.Contains(f.renderer.source, "Answers") {
		t.Errorf("answer key must be omitted:\n%s", f.renderer.source)
	}
}

func TestCreateEmptyRequest(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/exam.pdf")
	_, err := f.svc.Create(context.Background(), 1, Request{Subject: "mathematics"})
	if !errors.Is(err, model.ErrEmptyRequest) {
		t.Fatalf("error = %v, want ErrEmptyRequest", err)
	}
	if f.gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", f.gen.calls)
	}
}

func TestCreateBadRender(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/render_failed.html")
	created, err := f.svc.Create(context.Background(), 1, fractionsRequest(true))
	if !errors.Is(err, model.ErrBadDocumentSource) {
		t.Fatalf("error = %v, want ErrBadDocumentSource", err)
	}
	if created != nil {
		t.Error("no exam should be returned")
	}
	if !strings.Contains(err.Error(), "render_failed.html") {
		t.Errorf("error should carry the locator, got %v", err)
	}
	if len(f.dispatcher.pending) != 0 || len(f.archiver.jobs) != 0 {
		t.Error("nothing may be archived for a bad render")
	}
}

func TestCreateGenerationErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  error
	}{
		{"unavailable", "", model.ErrGenerationUnavailable, model.ErrGenerationUnavailable},
		{"malformed", "I cannot help with that.", nil, model.ErrMalformedGeneration},
		{"missing section", "```yaml\nopenEnded: []\n```", nil, model.ErrMalformedGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.reply, "https://render.example/out/exam.pdf")
			f.gen.err = tt.err
			_, err := f.svc.Create(context.Background(), 1, fractionsRequest(true))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if f.renderer.source != "" {
				t.Error("renderer must not be called")
			}
		})
	}
}

func TestArchiveRunsOnlyWhenDispatched(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/exam-9.pdf")
	created, err := f.svc.Create(context.Background(), 9, fractionsRequest(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.archiver.jobs) != 0 {
		t.Fatal("Create must not persist anything")
	}

	if err := f.svc.Archive(created); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(f.archiver.jobs) != 0 {
		t.Fatal("archiving must wait for the dispatcher")
	}
	f.dispatcher.runAll(t)

	if len(f.archiver.jobs) != 1 {
		t.Fatalf("expected one archive job, got %d", len(f.archiver.jobs))
	}
	job := f.archiver.jobs[0]
	if job.Owner != 9 || job.FileName != "exam-9.pdf" || job.Locator.String() != "https://render.example/out/exam-9.pdf" {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestArchiveQueueFull(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/exam.pdf")
	f.dispatcher.err = tasks.ErrQueueFull
	created, err := f.svc.Create(context.Background(), 1, fractionsRequest(true))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.svc.Archive(created); !errors.Is(err, tasks.ErrQueueFull) {
		t.Errorf("Archive error = %v, want ErrQueueFull", err)
	}
}

func TestDebugDump(t *testing.T) {
	f := newFixture(fractionsReply, "https://render.example/out/exam.pdf")
	mem := afero.NewMemMapFs()
	f.svc.debugFS = mem
	f.svc.cfg.IncludeDebug = true
	f.svc.cfg.DebugDir = "/debug"

	if _, err := f.svc.Create(context.Background(), 3, fractionsRequest(true)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries, err := afero.ReadDir(mem, "/debug/3")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var tex, payload bool
	for _, e := range entries {
		tex = tex || strings.HasSuffix(e.Name(), "exam.tex")
		payload = payload || strings.HasSuffix(e.Name(), "payload.yaml")
	}
	if !tex || !payload {
		t.Errorf("expected payload and LaTeX dumps, got %v", entries)
	}
}
