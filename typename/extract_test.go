package typename

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, []string{}},
		{"scalar", "Item", []string{}},
		{
			name: "nested object",
			in: map[string]any{
				"data": map[string]any{
					"item": map[string]any{"__typename": "Item", "id": "item"},
				},
			},
			want: []string{"Item"},
		},
		{
			name: "lists and duplicates",
			in: map[string]any{
				"data": map[string]any{
					"todos": []any{
						map[string]any{"__typename": "Todo", "author": map[string]any{"__typename": "User"}},
						map[string]any{"__typename": "Todo"},
					},
				},
			},
			want: []string{"Todo", "User"},
		},
		{
			name: "typed slice of maps",
			in:   []map[string]any{{"__typename": "A"}, {"__typename": "B"}},
			want: []string{"A", "B"},
		},
		{
			name: "msgpack style keys",
			in:   map[any]any{"__typename": "Loose", "child": []any{map[string]any{"__typename": "Inner"}}},
			want: []string{"Inner", "Loose"},
		},
		{
			name: "invalid typename values ignored",
			in: map[string]any{
				"a": map[string]any{"__typename": ""},
				"b": map[string]any{"__typename": 42},
				"c": map[string]any{"__typename": nil},
			},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.in))
		})
	}
}

func TestExtractIsPure(t *testing.T) {
	in := map[string]any{
		"data": map[string]any{"item": map[string]any{"__typename": "Item", "id": "item"}},
	}
	first := Extract(in)
	second := Extract(in)
	assert.Equal(t, first, second)
	assert.Equal(t, map[string]any{"__typename": "Item", "id": "item"}, in["data"].(map[string]any)["item"])
}
