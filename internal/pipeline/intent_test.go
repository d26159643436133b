package pipeline

import (
	"context"
	"testing"
)

func TestClassifyGreeting(t *testing.T) {
	t.Parallel()

	c := NewIntentClassifier(testProfile(), testPipelineConfig(), &fakeEmbedder{}, &fakeClient{}, testLogger())

	for _, q := range []string{"hello", "Hi!", "good morning", "こんにちは", "안녕하세요"} {
		got := c.Classify(context.Background(), q)
		if got.intent != IntentGreeting {
			t.Errorf("Classify(%q) intent = %v, want greeting", q, got.intent)
		}
	}
}

func TestClassifyKeywordStrongMatch(t *testing.T) {
	t.Parallel()

	c := NewIntentClassifier(testProfile(), testPipelineConfig(), &fakeEmbedder{}, &fakeClient{}, testLogger())

	got := c.Classify(context.Background(), "how does acme pricing work for my account")
	if got.intent != IntentInScope {
		t.Fatalf("intent = %v, want in_scope", got.intent)
	}
	if got.method != methodKeywords {
		t.Errorf("method = %q, want %q", got.method, methodKeywords)
	}
	if got.confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9", got.confidence)
	}
}

func TestClassifyKeywordOffTopic(t *testing.T) {
	t.Parallel()

	c := NewIntentClassifier(testProfile(), testPipelineConfig(), &fakeEmbedder{}, &fakeClient{}, testLogger())

	got := c.Classify(context.Background(), "what is the weather like today")
	if got.intent != IntentOffTopic {
		t.Fatalf("intent = %v, want off_topic", got.intent)
	}
}

func TestClassifyCentroid(t *testing.T) {
	t.Parallel()

	profile := testProfile()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		profile.CanonicalQuestions[0]: {1, 0, 0},
		profile.CanonicalQuestions[1]: {1, 0, 0},
		"tell me about your product":  {1, 0, 0},   // similarity 1.0
		"paint my fence":              {0.1, 1, 0}, // similarity ~0.1
	}}
	c := NewIntentClassifier(profile, testPipelineConfig(), embedder, &fakeClient{}, testLogger())
	if err := c.Prime(context.Background()); err != nil {
		t.Fatalf("Prime: %v", err)
	}

	got := c.Classify(context.Background(), "tell me about your product")
	if got.intent != IntentInScope || got.method != methodCentroid {
		t.Errorf("got %v via %q, want in_scope via centroid", got.intent, got.method)
	}

	got = c.Classify(context.Background(), "paint my fence")
	if got.intent != IntentOffTopic || got.method != methodCentroid {
		t.Errorf("got %v via %q, want off_topic via centroid", got.intent, got.method)
	}
}

func TestClassifyGuardBand(t *testing.T) {
	t.Parallel()

	profile := testProfile()
	// Similarity 0.5 lands between the thresholds and reaches the guard.
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		profile.CanonicalQuestions[0]: {1, 0, 0},
		profile.CanonicalQuestions[1]: {1, 0, 0},
		"can you help me with things":  {0.5, 0.866, 0},
	}}

	tests := []struct {
		name       string
		verdict    string
		wantIntent Intent
	}{
		{"scope verdict", "SCOPE", IntentInScope},
		{"offtopic verdict", "OFFTOPIC", IntentOffTopic},
		{"unclear verdict", "UNCLEAR", IntentAmbiguous},
		{"garbage verdict", "well, it depends", IntentAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewIntentClassifier(profile, testPipelineConfig(), embedder,
				&fakeClient{responses: []string{tt.verdict}}, testLogger())
			if err := c.Prime(context.Background()); err != nil {
				t.Fatalf("Prime: %v", err)
			}

			got := c.Classify(context.Background(), "can you help me with things")
			if got.intent != tt.wantIntent {
				t.Errorf("intent = %v, want %v", got.intent, tt.wantIntent)
			}
		})
	}
}

func TestClassifyGuardUnavailableDefaultsAllow(t *testing.T) {
	t.Parallel()

	c := NewIntentClassifier(testProfile(), testPipelineConfig(), &fakeEmbedder{err: errFakeUnavailable},
		&fakeClient{err: errFakeUnavailable}, testLogger())

	got := c.Classify(context.Background(), "can you help me with things")
	if got.intent != IntentAmbiguous {
		t.Errorf("intent = %v, want ambiguous", got.intent)
	}
	if got.method != methodDefaultAllow {
		t.Errorf("method = %q, want %q", got.method, methodDefaultAllow)
	}
	if got.confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", got.confidence)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		got := cosineSimilarity(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: cosineSimilarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}
