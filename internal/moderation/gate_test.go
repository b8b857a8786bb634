package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeClassifier struct {
	configured bool
	flagged    bool
	categories []string
	err        error
	calls      int
}

func (f *fakeClassifier) Configured() bool { return f.configured }

func (f *fakeClassifier) Classify(ctx context.Context, input string) (bool, []string, error) {
	f.calls++
	return f.flagged, f.categories, f.err
}

type fakeJudge struct {
	content string
	err     error
	calls   int
}

func (f *fakeJudge) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.content}, nil
}

func TestTierOneFlaggedRejectsImmediately(t *testing.T) {
	judge := &fakeJudge{content: "SAFE"}
	gate := NewGate(&fakeClassifier{configured: true, flagged: true, categories: []string{"harassment"}}, judge)

	res := gate.Check(context.Background(), "some message", "", "topic")
	if res.Safe {
		t.Fatalf("expected rejection, got %#v", res)
	}
	if res.Type != TierOpenAI {
		t.Fatalf("moderationType = %q, want %q", res.Type, TierOpenAI)
	}
	if len(res.Categories) != 1 || res.Categories[0] != "harassment" {
		t.Fatalf("categories = %v", res.Categories)
	}
	if judge.calls != 0 {
		t.Fatalf("contextual judge should not run after a tier-1 rejection")
	}
}

func TestTierOneFailureFallsThroughToKeywords(t *testing.T) {
	judge := &fakeJudge{content: "SAFE"}
	gate := NewGate(&fakeClassifier{configured: true, err: errors.New("timeout")}, judge)

	res := gate.Check(context.Background(), "I think gun control is wrong", "", "gun control")
	if !res.Safe {
		t.Fatalf("expected safe, got %#v", res)
	}
	if res.Type != TierKeyword {
		t.Fatalf("moderationType = %q, want %q", res.Type, TierKeyword)
	}
	if judge.calls != 0 {
		t.Fatalf("keyword tier is terminal when tier 1 is unreachable")
	}
}

func TestKeywordTierRejectsDenylistedTerms(t *testing.T) {
	gate := NewGate(&fakeClassifier{configured: false}, nil)

	res := gate.Check(context.Background(), "why don't you just KYS already", "", "topic")
	if res.Safe {
		t.Fatalf("expected rejection, got %#v", res)
	}
	if res.Type != TierKeyword || len(res.Keywords) == 0 {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestTierOneSafeStillRunsContextualJudge(t *testing.T) {
	judge := &fakeJudge{content: "UNSAFE: personal attack unrelated to the debate"}
	classifier := &fakeClassifier{configured: true}
	gate := NewGate(classifier, judge)

	res := gate.Check(context.Background(), "you are an idiot", "", "zoos")
	if res.Safe {
		t.Fatalf("expected contextual rejection, got %#v", res)
	}
	if res.Type != TierContextual {
		t.Fatalf("moderationType = %q, want %q", res.Type, TierContextual)
	}
	if res.Reason != "personal attack unrelated to the debate" {
		t.Fatalf("reason = %q", res.Reason)
	}
	if judge.calls != 1 {
		t.Fatalf("judge calls = %d, want 1", judge.calls)
	}
}

func TestContextualSafeIsApproved(t *testing.T) {
	gate := NewGate(&fakeClassifier{configured: true}, &fakeJudge{content: "SAFE - on topic"})

	res := gate.Check(context.Background(), "zoos preserve endangered species", "", "zoos")
	if !res.Safe || res.Type != TierApproved {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestJudgeFailureDegradesToSafeFallback(t *testing.T) {
	gate := NewGate(&fakeClassifier{configured: true}, &fakeJudge{err: errors.New("provider down")})

	res := gate.Check(context.Background(), "a perfectly normal argument", "", "topic")
	if !res.Safe {
		t.Fatalf("gate must never block on its own failure: %#v", res)
	}
	if res.Type != TierFallback {
		t.Fatalf("moderationType = %q, want %q", res.Type, TierFallback)
	}
}

func TestUnparseableVerdictDegradesToSafe(t *testing.T) {
	gate := NewGate(&fakeClassifier{configured: true}, &fakeJudge{content: "well, it depends"})

	res := gate.Check(context.Background(), "a normal message", "", "topic")
	if !res.Safe || res.Type != TierFallback {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestMatchKeywordsCaseInsensitive(t *testing.T) {
	hits := matchKeywords("Go Die somewhere else")
	if len(hits) != 1 || hits[0] != "go die" {
		t.Fatalf("hits = %v", hits)
	}
	if hits := matchKeywords("a civil sentence"); len(hits) != 0 {
		t.Fatalf("unexpected hits: %v", hits)
	}
}
