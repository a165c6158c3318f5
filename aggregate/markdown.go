package aggregate

import (
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
)

var batchMarkdown = util.MustParse("batch", `# Car Deal Analysis Report
Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}

## Summary
- Cars analyzed: {{.Summary.TotalCars}}
- Successful: {{.Summary.SuccessfulAnalyses}}
- Failed: {{.Summary.FailedAnalyses}}
- Success rate: {{printf "%.1f" .Summary.SuccessRate}}%

## Scoring
- Rule-based average: {{printf "%.1f" .Summary.AverageRuleScore}}/100
- LLM average: {{printf "%.1f" .Summary.AverageLLMScore}}/100
- Agreement rate: {{printf "%.1f" .Summary.ScoringComparison.AgreementRate}}% ({{.Summary.ScoringComparison.Close}} close, {{.Summary.ScoringComparison.Minor}} minor, {{.Summary.ScoringComparison.Major}} major)
{{- if .Summary.RuleCategories}}

## Rule-based verdicts
{{- range $verdict, $n := .Summary.RuleCategories}}
- {{$verdict}}: {{$n}}
{{- end}}
{{- end}}
{{- if .Summary.LLMCategories}}

## LLM verdicts
{{- range $verdict, $n := .Summary.LLMCategories}}
- {{$verdict}}: {{$n}}
{{- end}}
{{- end}}
{{- if .Summary.ErrorAnalysis.ErrorTypes}}

## Errors
{{- range $kind, $n := .Summary.ErrorAnalysis.ErrorTypes}}
- {{$kind}}: {{$n}}
{{- end}}
{{- end}}

## Cars
{{- range .Cars}}
- {{.Title}}: {{.Line}}
{{- end}}
`)

type carLine struct {
	Title string
	Line  string
}

// Markdown renders the batch report followed by each car's markdown.
func Markdown(r Report) (string, error) {
	cars := make([]carLine, 0, len(r.CarReports))
	for _, c := range r.CarReports {
		cars = append(cars, carLine{Title: c.Car.Title(), Line: statusLine(c)})
	}
	head, err := batchMarkdown.Render(struct {
		Report
		Cars []carLine
	}{r, cars})
	if err != nil {
		return "", err
	}

	out := head
	for _, c := range r.CarReports {
		if c.MarkdownReport != "" {
			out += "\n---\n\n" + c.MarkdownReport + "\n"
		}
	}
	return out, nil
}

func statusLine(c core.CarReport) string {
	if !c.Status.Success {
		if c.Error != "" {
			return "failed (" + core.ErrorKind(c.Error) + ")"
		}
		return "failed"
	}
	line := "ok"
	if rule, ok := c.RuleScore(); ok {
		line += ", rule " + util.Thousands(rule)
	}
	if llm, ok := c.LLMScore(); ok {
		line += ", LLM " + util.Thousands(llm)
	}
	return line
}
