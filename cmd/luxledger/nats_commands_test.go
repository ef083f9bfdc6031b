package main

import (
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileFilters(t *testing.T, exprs ...string) []*gojq.Code {
	t.Helper()
	codes := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		require.NoError(t, err)
		codes[i], err = gojq.Compile(query)
		require.NoError(t, err)
	}
	return codes
}

func TestMatchesFilters(t *testing.T) {
	update := []byte(`{
		"entity": "pool",
		"entity_id": "token-1",
		"kind": "trade-executed",
		"change": "trade-recorded",
		"amount": 20000
	}`)

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{name: "no filters matches everything", filters: nil, want: true},
		{name: "field equality", filters: []string{`.change == "trade-recorded"`}, want: true},
		{name: "field mismatch", filters: []string{`.change == "graduated"`}, want: false},
		{name: "numeric comparison", filters: []string{`.amount > 10000`}, want: true},
		{name: "all filters must match", filters: []string{`.entity == "pool"`, `.amount > 99999`}, want: false},
		{name: "contains", filters: []string{`. | contains({entity: "pool"})`}, want: true},
		{name: "missing field is null and falsy", filters: []string{`.no_such_field`}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes := compileFilters(t, tt.filters...)
			assert.Equal(t, tt.want, matchesFilters(codes, update))
		})
	}
}

func TestMatchesFilters_MalformedData(t *testing.T) {
	codes := compileFilters(t, `.entity == "pool"`)
	assert.False(t, matchesFilters(codes, []byte("not json")))
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0)) // jq semantics: zero is truthy
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]any{}))
}
