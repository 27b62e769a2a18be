package config

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestPatchKeys(t *testing.T) {
	p := Patch{RerankTopN: ptr(5), LexicalWeight: ptr(0.3)}

	got := p.Keys()
	want := []string{"lexical_weight", "rerank_top_n"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if p.IsEmpty() {
		t.Error("patch with keys reported empty")
	}
	if !(Patch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	if len(PatchKeys()) != len(patchFields) {
		t.Errorf("PatchKeys lists %d keys", len(PatchKeys()))
	}
}

func TestSnapshot_CapturesTouchedKeysOnly(t *testing.T) {
	cfg := Default()
	p := Patch{SearchDefaultLimit: ptr(5), SimilarityTimeout: ptr(Duration(time.Second))}

	prev := Snapshot(cfg, p)
	if prev.SearchDefaultLimit == nil || *prev.SearchDefaultLimit != cfg.Search.DefaultLimit {
		t.Errorf("SearchDefaultLimit snapshot = %v", prev.SearchDefaultLimit)
	}
	if prev.SimilarityTimeout == nil || time.Duration(*prev.SimilarityTimeout) != cfg.Search.SimilarityTimeout {
		t.Errorf("SimilarityTimeout snapshot = %v", prev.SimilarityTimeout)
	}
	if !reflect.DeepEqual(prev.Keys(), p.Keys()) {
		t.Errorf("snapshot keys %v differ from patch keys %v", prev.Keys(), p.Keys())
	}
}

func TestApply(t *testing.T) {
	cfg := Default()

	next, err := cfg.Apply(Patch{RerankEnabled: ptr(true), LogLevel: ptr("debug")})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !next.Search.RerankEnabled || next.Logging.Level != "debug" {
		t.Errorf("patch not applied: %+v", next)
	}
	if cfg.Search.RerankEnabled {
		t.Error("Apply must not mutate the receiver")
	}

	_, err = cfg.Apply(Patch{SearchDefaultLimit: ptr(0)})
	if !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("expected ErrInvalidPatch, got %v", err)
	}
}

func TestDecodePatch(t *testing.T) {
	p, err := DecodePatch([]byte(`{"search_default_limit": 12, "similarity_timeout": "1500ms"}`))
	if err != nil {
		t.Fatalf("DecodePatch failed: %v", err)
	}
	if *p.SearchDefaultLimit != 12 {
		t.Errorf("SearchDefaultLimit = %d", *p.SearchDefaultLimit)
	}
	if time.Duration(*p.SimilarityTimeout) != 1500*time.Millisecond {
		t.Errorf("SimilarityTimeout = %v", time.Duration(*p.SimilarityTimeout))
	}

	if _, err := DecodePatch([]byte(`{"storage_path": "/x"}`)); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("unknown key should be rejected, got %v", err)
	}
	if _, err := DecodePatch([]byte(`{"similarity_timeout": "soon"}`)); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("bad duration should be rejected, got %v", err)
	}
}

func TestDuration_JSON(t *testing.T) {
	data, err := json.Marshal(Patch{SimilarityTimeout: ptr(Duration(2 * time.Second))})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"similarity_timeout":"2s"}` {
		t.Errorf("encoded = %s", data)
	}
}

func TestModes(t *testing.T) {
	for _, name := range ModeNames() {
		p, err := Mode(name)
		if err != nil {
			t.Fatalf("Mode(%q) failed: %v", name, err)
		}
		if _, err := Default().Apply(p); err != nil {
			t.Errorf("mode %q does not apply cleanly to defaults: %v", name, err)
		}
	}
	if _, err := Mode("ludicrous"); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("expected ErrInvalidPatch, got %v", err)
	}
}
