// Package task holds the payloads that travel inside broker frames: compound
// queries, the sub-task lines they fragment into, and the solutions and
// observations sent back.
package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gian-ai/recommendations/pkg/uuidx"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultQueryTopic   = "query"
	DefaultSolveTopic   = "solve"
	DefaultObserveTopic = "observe"
)

const (
	fieldSep = "\t"
	listSep  = ";"
)

// Query is a compound unit of work. Each choice-group becomes one Task.
type Query struct {
	Topic    string                                   `json:"topic"`
	ID       string                                   `json:"id"`
	Datetime string                                   `json:"datetime"`
	Target   *orderedmap.OrderedMap[string, string]   `json:"target"`
	Choices  *orderedmap.OrderedMap[string, []string] `json:"choices"`
}

// NewQuery creates an empty query on the default query topic. An empty id is
// replaced by a generated one.
func NewQuery(id string) *Query {
	if id == "" {
		id = uuidx.NewString()
	}
	return &Query{
		Topic:   DefaultQueryTopic,
		ID:      id,
		Target:  orderedmap.New[string, string](),
		Choices: orderedmap.New[string, []string](),
	}
}

// OnTopic sets the topic the query is sent on.
func (q *Query) OnTopic(topic string) *Query {
	q.Topic = topic
	return q
}

// WithTarget adds a named characteristic of the target.
func (q *Query) WithTarget(name, value string) *Query {
	q.Target.Set(name, value)
	return q
}

// WithChoices adds a choice-group and its candidate options.
func (q *Query) WithChoices(group string, options ...string) *Query {
	q.Choices.Set(group, options)
	return q
}

// Validate checks that the query can be fragmented into well formed lines.
func (q *Query) Validate() error {
	if q.Topic == "" {
		return errors.New("query topic is required")
	}
	if q.ID == "" {
		return errors.New("query id is required")
	}
	if strings.ContainsAny(q.ID, fieldSep+"\n") {
		return fmt.Errorf("query id %q contains a separator", q.ID)
	}
	if q.Choices == nil || q.Choices.Len() == 0 {
		return fmt.Errorf("query %s has no choice-groups", q.ID)
	}
	return nil
}

// Tasks fragments the query into one Task per choice-group, in insertion order.
func (q *Query) Tasks() []Task {
	var target []string
	if q.Target != nil {
		for pair := q.Target.Oldest(); pair != nil; pair = pair.Next() {
			target = append(target, pair.Value)
		}
	}
	if q.Choices == nil {
		return nil
	}

	tasks := make([]Task, 0, q.Choices.Len())
	for pair := q.Choices.Oldest(); pair != nil; pair = pair.Next() {
		tasks = append(tasks, Task{
			RequestID: q.ID,
			Target:    append([]string(nil), target...),
			Group:     pair.Key,
			Options:   append([]string(nil), pair.Value...),
		})
	}
	return tasks
}

// Count is the number of sub-tasks, and therefore of solutions to wait for.
func (q *Query) Count() int {
	if q.Choices == nil {
		return 0
	}
	return q.Choices.Len()
}
