package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThousandsAndMoney(t *testing.T) {
	tests := []struct {
		in    float64
		want  string
		money string
	}{
		{0, "0", "$0"},
		{999, "999", "$999"},
		{23800, "23,800", "$23,800"},
		{1234567.4, "1,234,567", "$1,234,567"},
		{-1300, "-1,300", "-$1,300"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Thousands(tt.in))
		assert.Equal(t, tt.money, Money(tt.in))
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `[1]`, StripFences("  [1] "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
}

func TestTemplateRender(t *testing.T) {
	tmpl := MustParse("t", "{{.Name | upper}} paid {{money .Price}} ({{pct .Delta}})")
	out, err := tmpl.Render(map[string]any{"Name": "camry", "Price": 22500.0, "Delta": -5.46})
	require.NoError(t, err)
	assert.Equal(t, "CAMRY paid $22,500 (-5.5%)", out)

	plain, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", plain)

	withDefault, err := RenderTemplate(`{{default "n/a" .Missing}}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "n/a", withDefault)
}
