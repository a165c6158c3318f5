package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
)

var opinionPrompt = util.MustParse("llm_opinion", `You are a professional car market analyst. Evaluate the fairness of this used car deal:

Car Info:
- Year: {{.Car.Year}}
- Make: {{.Car.Make}}
- Model: {{.Car.Model}}
- Mileage: {{.Car.Mileage}}
- Paid Price: {{money .Car.PricePaid}}
- Market Median Price: {{money .Median}}
{{- if .Context}}

Context (optional):
{{.Context}}
{{- end}}

Respond in JSON with the fields:
- score (0-100)
- verdict ({{join "/" .Verdicts}})
- reasoning (short explanation)
`)

// Opinion is the JSON object the model is asked to return.
type Opinion struct {
	Score     float64
	Verdict   string
	Reasoning string
}

// LLMOpinion asks the model for an independent deal score and writes
// llm_opinion. The early retrieval brief is injected as optional context.
func (w *Workers) LLMOpinion(ctx context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameLLMOpinion, map[string]any{"round": s.ScoreRound()})

	cmp := s.PriceComparison
	if cmp == nil || !cmp.Success {
		res := &core.LLMOpinion{
			Status:    core.Err(core.KindDependency, "Price comparison not available").Status(),
			Verdict:   "Unknown",
			Reasoning: "Price comparison not available",
		}
		patch = patch.Merge(core.LogError(NameLLMOpinion, res.Error, nil))
		patch.LLMOpinion = res
		return patch
	}

	var brief string
	if early, ok := s.Insight(core.InsightEarly); ok {
		brief = early.Brief
	}
	prompt, err := opinionPrompt.Render(map[string]any{
		"Car":      s.Car,
		"Median":   cmp.MarketMedian,
		"Context":  brief,
		"Verdicts": core.ShortVerdicts(),
	})
	if err != nil {
		return w.opinionError(patch, err)
	}

	text, err := w.complete(ctx, prompt)
	if err != nil {
		return w.opinionError(patch, err)
	}

	op, err := ParseOpinion(text)
	if err != nil {
		res := &core.LLMOpinion{
			Status:    core.Err(core.KindParse, "LLM parsing failed: %v", err).Status(),
			Score:     50,
			Verdict:   "Unknown",
			Reasoning: fmt.Sprintf("LLM parsing failed: %v", err),
			Model:     w.modelName(),
		}
		patch = patch.Merge(core.LogWarn(NameLLMOpinion, res.Error, map[string]any{"raw": util.Truncate(text, 200)}))
		patch.LLMOpinion = res
		return patch
	}

	res := &core.LLMOpinion{
		Status:    core.Ok().Status(),
		Score:     op.Score,
		Verdict:   op.Verdict,
		Reasoning: op.Reasoning,
		Model:     w.modelName(),
	}
	patch = patch.Merge(core.LogComplete(NameLLMOpinion, map[string]any{"score": res.Score, "verdict": res.Verdict}))
	patch.LLMOpinion = res
	return patch
}

func (w *Workers) opinionError(patch core.Patch, err error) core.Patch {
	res := &core.LLMOpinion{
		Status:    core.Err(core.KindProvider, "LLM error: %v", err).Status(),
		Verdict:   "Error",
		Reasoning: fmt.Sprintf("LLM error: %v", err),
		Model:     w.modelName(),
	}
	patch = patch.Merge(core.LogError(NameLLMOpinion, res.Error, nil))
	patch.LLMOpinion = res
	return patch
}

// ParseOpinion decodes a model reply. Code fences and surrounding prose are
// stripped and malformed JSON is repaired first. Missing fields default to
// score 50, verdict "Fair" and reasoning "LLM evaluation".
func ParseOpinion(text string) (Opinion, error) {
	raw, err := DecodeJSON(text)
	if err != nil {
		return Opinion{}, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return Opinion{}, fmt.Errorf("expected a JSON object, got %T", raw)
	}

	op := Opinion{Score: 50, Verdict: "Fair", Reasoning: "LLM evaluation"}
	if v, ok := number(obj["score"]); ok {
		op.Score = min(max(v, 0), 100)
	}
	if v, ok := obj["verdict"].(string); ok && strings.TrimSpace(v) != "" {
		op.Verdict = strings.TrimSpace(v)
	}
	if v, ok := obj["reasoning"].(string); ok && strings.TrimSpace(v) != "" {
		op.Reasoning = strings.TrimSpace(v)
	}
	return op, nil
}

// DecodeJSON extracts the JSON value of an LLM reply into generic Go values.
func DecodeJSON(text string) (any, error) {
	body := extractJSON(util.StripFences(text))
	if body == "" {
		return nil, fmt.Errorf("no JSON found in reply")
	}
	var out any
	if err := json.Unmarshal([]byte(body), &out); err == nil {
		return out, nil
	}
	fixed, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return nil, fmt.Errorf("repair JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return out, nil
}

// extractJSON returns the span from the first opening bracket to the last
// matching closing bracket, or the trimmed text when no bracket is found.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
