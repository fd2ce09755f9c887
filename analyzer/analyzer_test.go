package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hannes/kiji-ner/ner"
	"github.com/hannes/kiji-ner/providers"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider returns a canned completion or error.
type fakeProvider struct {
	raw   string
	err   error
	delay time.Duration
	calls int32
	user  string
	mu    sync.Mutex
}

func (f *fakeProvider) GetType() providers.ProviderType { return "fake" }
func (f *fakeProvider) GetName() string                 { return "Fake" }
func (f *fakeProvider) ValidateConfig() error           { return nil }

func (f *fakeProvider) Complete(ctx context.Context, system, user string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.user = user
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.raw, f.err
}

type fakeLabeler struct {
	result ner.ExtractionResult
	err    error
	calls  int32
}

func (f *fakeLabeler) Label(ctx context.Context, text string) (ner.ExtractionResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

type recordingReporter struct {
	mu       sync.Mutex
	branches []string
}

func (r *recordingReporter) Report(_ context.Context, branch string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches = append(r.branches, branch)
}

func newGenerative(p providers.Provider, reporter ErrorReporter) *GenerativeExtractor {
	logger := quietLogger()
	return NewGenerativeExtractor(p, ner.NewNormalizer(logger), GenerativeOptions{Reporter: reporter, Logger: logger})
}

var labeled = ner.ExtractionResult{
	{Entity: "John Smith", Type: "PER"},
	{Entity: "Acme Corp", Type: "ORG"},
}

func TestAnalyze_MeetingScenario(t *testing.T) {
	p := &fakeProvider{raw: "```json\n" +
		`[{"entity":"John Smith","type":"PERSON"},{"entity":"July 4th, 2023","type":"DATE"},{"entity":"Acme Corp.","type":"ORG"}]` +
		"\n```"}
	a := New(newGenerative(p, nil), &fakeLabeler{result: labeled}, Options{Logger: quietLogger()})

	resp, err := a.Analyze(context.Background(), "John Smith met with Acme Corp. on July 4th, 2023.")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	wantGen := ner.ExtractionResult{
		{Entity: "John Smith", Type: "PERSON"},
		{Entity: "2023-07-04", Type: "DATE"},
		{Entity: "Acme Corp.", Type: "ORG"},
	}
	if !reflect.DeepEqual(resp.GenerativeResults, wantGen) {
		t.Errorf("Expected generative %v, got %v", wantGen, resp.GenerativeResults)
	}
	if !reflect.DeepEqual(resp.LabelingResults, labeled) {
		t.Errorf("Expected labeling %v, got %v", labeled, resp.LabelingResults)
	}
	for _, e := range resp.LabelingResults {
		if e.Type == "DATE" {
			t.Errorf("Labeling list should not be date-normalized or merged: %v", e)
		}
	}
}

func TestAnalyze_GenerativeFailureLeavesLabelingIntact(t *testing.T) {
	reporter := &recordingReporter{}
	p := &fakeProvider{err: errors.New("connection refused")}
	a := New(newGenerative(p, reporter), &fakeLabeler{result: labeled}, Options{Reporter: reporter, Logger: quietLogger()})

	resp, err := a.Analyze(context.Background(), "John Smith works at Acme Corp.")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if resp.GenerativeResults == nil || len(resp.GenerativeResults) != 0 {
		t.Errorf("Expected empty generative list, got %v", resp.GenerativeResults)
	}
	if !reflect.DeepEqual(resp.LabelingResults, labeled) {
		t.Errorf("Expected labeling list intact, got %v", resp.LabelingResults)
	}
	if len(reporter.branches) != 1 || reporter.branches[0] != BranchGenerative {
		t.Errorf("Expected one generative report, got %v", reporter.branches)
	}
}

func TestAnalyze_MalformedGenerativeOutput(t *testing.T) {
	p := &fakeProvider{raw: "Sure! John Smith is a person."}
	a := New(newGenerative(p, nil), &fakeLabeler{result: labeled}, Options{Logger: quietLogger()})

	resp, err := a.Analyze(context.Background(), "John Smith")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(resp.GenerativeResults) != 0 {
		t.Errorf("Expected empty generative list, got %v", resp.GenerativeResults)
	}
	if len(resp.LabelingResults) != 2 {
		t.Errorf("Expected labeling list intact, got %v", resp.LabelingResults)
	}
}

func TestAnalyze_LabelingFailure(t *testing.T) {
	labelErr := errors.New("model not loaded")
	p := &fakeProvider{raw: `[{"entity":"Acme","type":"ORG"}]`}

	t.Run("isolated by default", func(t *testing.T) {
		reporter := &recordingReporter{}
		a := New(newGenerative(p, nil), &fakeLabeler{err: labelErr}, Options{Reporter: reporter, Logger: quietLogger()})

		resp, err := a.Analyze(context.Background(), "Acme")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(resp.GenerativeResults) != 1 {
			t.Errorf("Expected generative result, got %v", resp.GenerativeResults)
		}
		if resp.LabelingResults == nil || len(resp.LabelingResults) != 0 {
			t.Errorf("Expected empty labeling list, got %v", resp.LabelingResults)
		}
		if len(reporter.branches) != 1 || reporter.branches[0] != BranchLabeling {
			t.Errorf("Expected one labeling report, got %v", reporter.branches)
		}
	})

	t.Run("strict propagates", func(t *testing.T) {
		a := New(newGenerative(p, nil), &fakeLabeler{err: labelErr}, Options{StrictLabeling: true, Logger: quietLogger()})

		_, err := a.Analyze(context.Background(), "Acme")
		if !errors.Is(err, labelErr) {
			t.Errorf("Expected wrapped labeling error, got %v", err)
		}
	})
}

func TestAnalyze_EmptyInputSkipsBranches(t *testing.T) {
	p := &fakeProvider{raw: "[]"}
	l := &fakeLabeler{result: labeled}
	a := New(newGenerative(p, nil), l, Options{Logger: quietLogger()})

	resp, err := a.Analyze(context.Background(), " \n\t ")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if resp.GenerativeResults == nil || resp.LabelingResults == nil {
		t.Error("Expected non-nil empty lists")
	}
	if atomic.LoadInt32(&p.calls) != 0 || atomic.LoadInt32(&l.calls) != 0 {
		t.Error("Expected no branch to be called for empty input")
	}
}

func TestAnalyze_GenerativeTimeoutDoesNotCancelLabeling(t *testing.T) {
	p := &fakeProvider{raw: "[]", delay: time.Second}
	a := New(newGenerative(p, nil), &fakeLabeler{result: labeled}, Options{
		GenerativeTimeout: 20 * time.Millisecond,
		Logger:            quietLogger(),
	})

	start := time.Now()
	resp, err := a.Analyze(context.Background(), "John Smith")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Expected generative branch to be cut off by its timeout")
	}
	if len(resp.GenerativeResults) != 0 {
		t.Errorf("Expected empty generative list after timeout, got %v", resp.GenerativeResults)
	}
	if !reflect.DeepEqual(resp.LabelingResults, labeled) {
		t.Errorf("Expected labeling list intact, got %v", resp.LabelingResults)
	}
}

func TestAnalyze_BranchesRunConcurrently(t *testing.T) {
	p := &fakeProvider{raw: "[]", delay: 100 * time.Millisecond}
	l := &slowLabeler{delay: 100 * time.Millisecond}
	a := New(newGenerative(p, nil), l, Options{Logger: quietLogger()})

	start := time.Now()
	if _, err := a.Analyze(context.Background(), "text"); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 190*time.Millisecond {
		t.Errorf("Expected branches to overlap, took %v", elapsed)
	}
}

type slowLabeler struct{ delay time.Duration }

func (s *slowLabeler) Label(ctx context.Context, text string) (ner.ExtractionResult, error) {
	time.Sleep(s.delay)
	return ner.ExtractionResult{}, nil
}

func TestGenerativeExtractor_SendsDocumentAsUserMessage(t *testing.T) {
	p := &fakeProvider{raw: "[]"}
	g := newGenerative(p, nil)

	g.Extract(context.Background(), "Acme hired Bob.")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user != "Acme hired Bob." {
		t.Errorf("Expected document as user message, got %q", p.user)
	}
}

func TestGenerativeExtractor_EmptyCompletion(t *testing.T) {
	p := &fakeProvider{err: providers.ErrEmptyCompletion}
	got := newGenerative(p, nil).Extract(context.Background(), "x")

	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil result, got %v", got)
	}
}

func TestAnalyze_LogsUseEventKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := &fakeProvider{raw: `[{"entity":"John Smith","type":"PERSON"}]`}
	gen := NewGenerativeExtractor(p, ner.NewNormalizer(logger), GenerativeOptions{Logger: logger})
	a := New(gen, &fakeLabeler{err: errors.New("model offline")}, Options{Logger: logger})

	if _, err := a.Analyze(context.Background(), "John Smith"); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	eventKey := regexp.MustCompile(`^[a-z]+(\.[a-z_]+)+$`)
	seen := map[string]bool{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec struct {
			Msg string `json:"msg"`
		}
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode log record: %v", err)
		}
		if !eventKey.MatchString(rec.Msg) {
			t.Errorf("Expected an event key, got log message %q", rec.Msg)
		}
		seen[rec.Msg] = true
	}
	for _, want := range []string{"llm.extract.done", "analyze.labeling_failed", "analyze.done"} {
		if !seen[want] {
			t.Errorf("Expected %s to be logged, got %v", want, seen)
		}
	}
}
