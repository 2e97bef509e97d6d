package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuery() *Query {
	return NewQuery("query_1").
		WithTarget("target_a", "a").
		WithTarget("target_b", "b").
		WithChoices("choice_a", "a", "b", "c").
		WithChoices("choice_b", "1", "2", "3")
}

func TestQueryTasks(t *testing.T) {
	q := sampleQuery()
	require.NoError(t, q.Validate())
	assert.Equal(t, 2, q.Count())

	tasks := q.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "query_1\ta;b\tchoice_a\ta;b;c\n", tasks[0].Line())
	assert.Equal(t, "query_1\ta;b\tchoice_b\t1;2;3\n", tasks[1].Line())
}

func TestQueryKeepsInsertionOrder(t *testing.T) {
	q := NewQuery("q").
		WithChoices("zeta", "z").
		WithChoices("alpha", "a").
		WithChoices("mid", "m")

	var groups []string
	for _, tk := range q.Tasks() {
		groups = append(groups, tk.Group)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, groups)
}

func TestNewQueryGeneratesID(t *testing.T) {
	a, b := NewQuery(""), NewQuery("")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, DefaultQueryTopic, a.Topic)
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name  string
		query *Query
	}{
		{"no groups", NewQuery("q")},
		{"tab in id", NewQuery("a\tb").WithChoices("g", "x")},
		{"no topic", NewQuery("q").OnTopic("").WithChoices("g", "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.query.Validate())
		})
	}
}

func TestParseTask(t *testing.T) {
	tk, err := ParseTask("query_1\ta;b\tchoice_a\ta;b;c\n")
	require.NoError(t, err)
	assert.Equal(t, Task{
		RequestID: "query_1",
		Target:    []string{"a", "b"},
		Group:     "choice_a",
		Options:   []string{"a", "b", "c"},
	}, tk)

	tk, err = ParseTask("q\t\tg\tonly")
	require.NoError(t, err)
	assert.Nil(t, tk.Target)
	assert.Equal(t, []string{"only"}, tk.Options)

	_, err = ParseTask("q\tg\tx")
	assert.Error(t, err)
	_, err = ParseTask("\ta\tg\tx")
	assert.Error(t, err)
}

func TestSolutionEncode(t *testing.T) {
	tk := sampleQuery().Tasks()[1]
	s := NewSolution("query", tk.Line(), tk, "2", 0.25)

	msg, err := s.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"datetime": "",
		"topic": "solve",
		"id": "query_1",
		"origin_topic": "query",
		"origin_string": "query_1\ta;b\tchoice_b\t1;2;3\n",
		"choice": "2",
		"uncertainty": 0.25
	}`, msg)

	decoded, err := DecodeSolution(msg)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)

	answered, err := decoded.Task()
	require.NoError(t, err)
	assert.Equal(t, tk, answered)

	_, err = DecodeSolution(`{"choice":"x"}`)
	assert.Error(t, err)
}

func TestObservationEncode(t *testing.T) {
	o := NewObservation("clicked", "blue").WithTarget("user", "u1").WithTarget("page", "home")
	msg, err := o.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"datetime":"","topic":"observe","message":"clicked","target":{"user":"u1","page":"home"},"result":"blue"}`, msg)
}

func TestSchemas(t *testing.T) {
	schemas := Schemas()
	require.Len(t, schemas, 3)

	sol := schemas["solution"]
	assert.Equal(t, "solution", sol.Title)
	for _, field := range []string{"id", "origin_topic", "origin_string", "choice", "uncertainty"} {
		_, ok := sol.Properties.Get(field)
		assert.True(t, ok, field)
	}

	obs := schemas["observation"]
	target, ok := obs.Properties.Get("target")
	require.True(t, ok)
	assert.Equal(t, "object", target.Type)
	require.NotNil(t, target.AdditionalProperties)
	assert.Equal(t, "string", target.AdditionalProperties.Type)

	choices, ok := schemas["query"].Properties.Get("choices")
	require.True(t, ok)
	assert.Equal(t, "array", choices.AdditionalProperties.Type)
}
