// Package sink records the traffic a broker sends. Sinks receive encoded
// frame lines after delivery and never influence routing; their failures are
// logged where they happen.
package sink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gian-ai/recommendations/task"
	"github.com/tidwall/gjson"
)

// Kinds of records, also the base names of the bookkeeper files.
const (
	KindQuery   = "query"
	KindSolve   = "solve"
	KindObserve = "observe"
)

// Record is one derived row of recorded traffic.
type Record interface {
	Kind() string
	Fields() []string
}

// QueryRecord is one sub-task sent on the query topic.
type QueryRecord struct {
	ServerDatetime string
	Topic          string
	RequestID      string
	Target         string
	Group          string
	Choices        string
}

func (QueryRecord) Kind() string { return KindQuery }

func (r QueryRecord) Fields() []string {
	return []string{r.ServerDatetime, r.Topic, r.RequestID, r.Target, r.Group, r.Choices}
}

// SolveRecord is one solution broadcast on the solve topic.
type SolveRecord struct {
	ServerDatetime string
	RequestID      string
	Target         string
	Group          string
	Choices        string
	Choice         string
	Uncertainty    string
}

func (SolveRecord) Kind() string { return KindSolve }

func (r SolveRecord) Fields() []string {
	return []string{r.ServerDatetime, r.RequestID, r.Target, r.Group, r.Choices, r.Choice, r.Uncertainty}
}

// ObserveRecord is one observation sent on the observe topic.
type ObserveRecord struct {
	ServerDatetime string
	Message        string
	Target         string
	Result         string
}

func (ObserveRecord) Kind() string { return KindObserve }

func (r ObserveRecord) Fields() []string {
	return []string{r.ServerDatetime, r.Message, r.Target, r.Result}
}

// Topics names the topics whose traffic is recorded.
type Topics struct {
	Query   string `yaml:"query"`
	Solve   string `yaml:"solve"`
	Observe string `yaml:"observe"`
}

// DefaultTopics returns the default query, solve and observe topic names.
func DefaultTopics() Topics {
	return Topics{
		Query:   task.DefaultQueryTopic,
		Solve:   task.DefaultSolveTopic,
		Observe: task.DefaultObserveTopic,
	}
}

// ErrNotRecorded is returned by Parse for lines on topics that are not recorded.
var ErrNotRecorded = errors.New("sink: topic not recorded")

// Parse derives a record from an encoded frame line.
func (t Topics) Parse(line []byte) (Record, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("sink: invalid frame line")
	}
	frame := gjson.ParseBytes(line)
	topic := frame.Get("topic").String()
	datetime := frame.Get("datetime").String()
	message := frame.Get("message").String()

	switch topic {
	case t.Query:
		st, err := task.ParseTask(message)
		if err != nil {
			return nil, fmt.Errorf("sink: query line: %w", err)
		}
		f := st.Fields()
		return QueryRecord{
			ServerDatetime: datetime,
			Topic:          topic,
			RequestID:      f[0],
			Target:         f[1],
			Group:          f[2],
			Choices:        f[3],
		}, nil

	case t.Solve:
		msg := gjson.Parse(message)
		if !msg.IsObject() {
			return nil, fmt.Errorf("sink: solve message is not an object")
		}
		st, err := task.ParseTask(msg.Get("origin_string").String())
		if err != nil {
			return nil, fmt.Errorf("sink: solve origin: %w", err)
		}
		f := st.Fields()
		return SolveRecord{
			ServerDatetime: datetime,
			RequestID:      f[0],
			Target:         f[1],
			Group:          f[2],
			Choices:        f[3],
			Choice:         msg.Get("choice").String(),
			Uncertainty:    strconv.FormatFloat(msg.Get("uncertainty").Float(), 'f', -1, 64),
		}, nil

	case t.Observe:
		msg := gjson.Parse(message)
		if !msg.IsObject() {
			return nil, fmt.Errorf("sink: observe message is not an object")
		}
		var target []string
		msg.Get("target").ForEach(func(_, value gjson.Result) bool {
			target = append(target, value.String())
			return true
		})
		return ObserveRecord{
			ServerDatetime: datetime,
			Message:        msg.Get("message").String(),
			Target:         strings.Join(target, ";"),
			Result:         msg.Get("result").String(),
		}, nil
	}
	return nil, ErrNotRecorded
}
