package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/knowledge"
	"github.com/verity0/verity/internal/retrieval"
)

type fakeSearcher struct {
	results []knowledge.Result
	err     error
	calls   int
}

func (s *fakeSearcher) Search(_ context.Context, _ string, _ ...knowledge.SearchOption) ([]knowledge.Result, error) {
	s.calls++
	return s.results, s.err
}

func searchResults() []knowledge.Result {
	return []knowledge.Result{
		{
			Document:   knowledge.Document{ID: "p1", Content: "The Pro plan costs 49 per month and includes 5 seats."},
			Similarity: 0.9,
		},
		{
			Document:   knowledge.Document{ID: "p2", Content: "Support responds within 24 hours on business days."},
			Similarity: 0.8,
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline:     testPipelineConfig(),
		Organization: testProfile(),
	}
}

// newTestPipeline wires a pipeline entirely on fakes. The reranker has no
// scorer, so every turn records a degraded rerank stage.
func newTestPipeline(client *fakeClient, searcher *fakeSearcher) *Pipeline {
	cfg := testConfig()
	return New(cfg, Deps{
		Client:    client,
		Embedder:  &fakeEmbedder{},
		Retriever: retrieval.NewRetriever(searcher, cfg.Pipeline.TopK, cfg.Pipeline.SimilarityFloor, testLogger()),
		Reranker:  retrieval.NewReranker(nil, cfg.Pipeline.RerankTopN, testLogger()),
	}, testLogger())
}

func TestAnswerHappyPath(t *testing.T) {
	t.Parallel()

	client := &fakeClient{responses: []string{"The Pro plan costs 49 per month [S1]."}}
	p := newTestPipeline(client, &fakeSearcher{results: searchResults()})

	res, err := p.Answer(context.Background(), Request{Query: "how much does the acme pricing plan cost"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer.Refusal || res.Answer.Hedged {
		t.Errorf("answer = %+v, want plain grounded answer", res.Answer)
	}
	if len(res.Answer.Sources) != 1 || res.Answer.Sources[0].ID != "p1" {
		t.Errorf("sources = %+v, want cited p1", res.Answer.Sources)
	}
	if res.Decision.Intent != IntentInScope {
		t.Errorf("intent = %v", res.Decision.Intent)
	}
	assertStage(t, res.Decision, "rerank", StageDegraded)
	assertStage(t, res.Decision, "validation", StageOK)
}

func TestAnswerEmptyQuery(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeClient{}, &fakeSearcher{})
	for _, q := range []string{"", "   ", "​ "} {
		if _, err := p.Answer(context.Background(), Request{Query: q}, nil); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Answer(%q) err = %v, want ErrEmptyQuery", q, err)
		}
	}
}

func TestAnswerGreeting(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	p := newTestPipeline(client, &fakeSearcher{})

	res, err := p.Answer(context.Background(), Request{Query: "hello"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer.Refusal {
		t.Error("greeting marked as refusal")
	}
	if !strings.Contains(res.Answer.Text, "Acme") {
		t.Errorf("greeting %q does not mention the organization", res.Answer.Text)
	}
	if len(client.requests) != 0 {
		t.Errorf("model called %d times for a greeting", len(client.requests))
	}
}

func TestAnswerOffTopicRefusal(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	searcher := &fakeSearcher{}
	p := newTestPipeline(client, searcher)

	res, err := p.Answer(context.Background(), Request{Query: "what is the weather forecast today"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Answer.Refusal {
		t.Error("off-topic query not refused")
	}
	if res.Decision.Intent != IntentOffTopic {
		t.Errorf("intent = %v", res.Decision.Intent)
	}
	if searcher.calls != 0 {
		t.Errorf("vector store searched %d times for an off-topic query", searcher.calls)
	}
	if len(client.requests) != 0 {
		t.Errorf("model called %d times for an off-topic query", len(client.requests))
	}
}

func TestAnswerCollisionRefusal(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeClient{}, &fakeSearcher{})

	res, err := p.Answer(context.Background(), Request{Query: "does the acme dashboard track car engine vehicle stats"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Answer.Refusal {
		t.Fatal("collision query not refused")
	}
	if res.Decision.CollisionEntity != "Acme Motors" {
		t.Errorf("collision entity = %q", res.Decision.CollisionEntity)
	}
	if !strings.Contains(res.Answer.Text, "Acme Motors") {
		t.Errorf("refusal %q does not name the colliding entity", res.Answer.Text)
	}
}

func TestAnswerNoInformation(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeClient{}, &fakeSearcher{})

	res, err := p.Answer(context.Background(), Request{Query: "how does acme pricing handle my account"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Answer.Refusal {
		t.Error("empty retrieval did not produce a refusal")
	}
	assertStage(t, res.Decision, "retrieval", StageOK)
}

func TestAnswerRetrievalFailureDegrades(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeClient{}, &fakeSearcher{err: errors.New("connection refused")})

	res, err := p.Answer(context.Background(), Request{Query: "how does acme pricing handle my account"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v, want degraded refusal", err)
	}
	if !res.Answer.Refusal {
		t.Error("failed retrieval did not produce a refusal")
	}
	assertStage(t, res.Decision, "retrieval", StageFailed)
}

func TestAnswerValidationRetry(t *testing.T) {
	t.Parallel()

	client := &fakeClient{responses: []string{
		"The Pro plan costs 99 per month [S1].", // invented number
		"The Pro plan costs 49 per month [S1].",
	}}
	p := newTestPipeline(client, &fakeSearcher{results: searchResults()})

	res, err := p.Answer(context.Background(), Request{Query: "how much does the acme pricing plan cost"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer.ValidationRetries != 1 {
		t.Errorf("retries = %d, want 1", res.Answer.ValidationRetries)
	}
	if !strings.Contains(res.Answer.Text, "49") {
		t.Errorf("final answer = %q, want the regenerated one", res.Answer.Text)
	}
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}
	if !strings.Contains(client.requests[1].System, "IMPORTANT: your previous answer") {
		t.Error("retry request missing the stricter rules")
	}
}

func TestAnswerRetriesExhaustedHedges(t *testing.T) {
	t.Parallel()

	client := &fakeClient{responses: []string{
		"The Pro plan costs 99 per month [S1].",
		"The Pro plan costs 77 per month [S1].",
	}}
	p := newTestPipeline(client, &fakeSearcher{results: searchResults()})

	res, err := p.Answer(context.Background(), Request{Query: "how much does the acme pricing plan cost"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Answer.Hedged {
		t.Error("exhausted retries did not hedge the answer")
	}
	if !strings.Contains(res.Answer.Text, "77") {
		t.Errorf("final answer = %q, want last generation kept", res.Answer.Text)
	}
}

func TestAnswerUnsupportedClaimsRetryThenHedge(t *testing.T) {
	t.Parallel()

	// Number-free answers with no vocabulary from the passages: the
	// overlap check must reject both, allow exactly one retry and hedge
	// the final text.
	client := &fakeClient{responses: []string{
		"Giraffes roam the savanna at dusk.",
		"Elephants gather near rivers at dawn.",
	}}
	p := newTestPipeline(client, &fakeSearcher{results: searchResults()})

	res, err := p.Answer(context.Background(), Request{Query: "how much does the acme pricing plan cost"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer.ValidationRetries != 1 {
		t.Errorf("retries = %d, want exactly 1", res.Answer.ValidationRetries)
	}
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}
	if !res.Answer.Hedged {
		t.Error("second unsupported answer not hedged")
	}
	if !strings.Contains(res.Answer.Text, "Elephants") {
		t.Errorf("final answer = %q, want last generation kept", res.Answer.Text)
	}
	assertStage(t, res.Decision, "validation", StageDegraded)
}

func TestAnswerGenerationFailure(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeClient{err: errFakeUnavailable}, &fakeSearcher{results: searchResults()})

	_, err := p.Answer(context.Background(), Request{Query: "how much does the acme pricing plan cost"}, nil)
	if !errors.Is(err, errFakeUnavailable) {
		t.Fatalf("err = %v, want generation failure surfaced", err)
	}
}

func TestAnswerStreamingEvents(t *testing.T) {
	t.Parallel()

	client := &fakeClient{responses: []string{"The Pro plan costs 49 per month [S1]."}}
	p := newTestPipeline(client, &fakeSearcher{results: searchResults()})

	var gotSources []SourceRef
	var streamed strings.Builder
	events := &Events{
		OnSources: func(_ context.Context, sources []SourceRef) error {
			gotSources = sources
			return nil
		},
		OnToken: func(_ context.Context, text string) error {
			streamed.WriteString(text)
			return nil
		},
	}

	res, err := p.Answer(context.Background(), Request{Query: "how much does the acme pricing plan cost"}, events)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(gotSources) != 2 {
		t.Errorf("sources event carried %d refs, want the 2 budgeted passages", len(gotSources))
	}
	if streamed.String() != res.Answer.Text {
		t.Errorf("streamed %q, final %q", streamed.String(), res.Answer.Text)
	}
}

func TestAnswerLanguageAndDirection(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeClient{}, &fakeSearcher{})

	res, err := p.Answer(context.Background(), Request{Query: "ما هو الطقس اليوم"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer.Language != "ar" {
		t.Errorf("language = %q, want ar", res.Answer.Language)
	}
	if !res.Answer.RTL {
		t.Error("RTL not set for Arabic")
	}
}

func assertStage(t *testing.T, d Decision, stage string, want StageStatus) {
	t.Helper()
	for i := len(d.Outcomes) - 1; i >= 0; i-- {
		if d.Outcomes[i].Stage == stage {
			if d.Outcomes[i].Status != want {
				t.Errorf("stage %s status = %v, want %v", stage, d.Outcomes[i].Status, want)
			}
			return
		}
	}
	t.Errorf("no outcome recorded for stage %s", stage)
}
