package task

import (
	"fmt"

	json "github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Solution answers exactly one Task.
type Solution struct {
	Datetime     string  `json:"datetime"`
	Topic        string  `json:"topic"`
	ID           string  `json:"id"`
	OriginTopic  string  `json:"origin_topic"`
	OriginString string  `json:"origin_string"`
	Choice       string  `json:"choice"`
	Uncertainty  float64 `json:"uncertainty"`
}

// NewSolution answers the task that arrived as origin on originTopic.
func NewSolution(originTopic, origin string, t Task, choice string, uncertainty float64) Solution {
	return Solution{
		Topic:        DefaultSolveTopic,
		ID:           t.RequestID,
		OriginTopic:  originTopic,
		OriginString: origin,
		Choice:       choice,
		Uncertainty:  uncertainty,
	}
}

// Task parses the sub-task this solution answers.
func (s Solution) Task() (Task, error) {
	return ParseTask(s.OriginString)
}

// Encode returns the JSON text carried as a frame message.
func (s Solution) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode solution: %w", err)
	}
	return string(b), nil
}

// DecodeSolution parses a frame message into a Solution.
func DecodeSolution(message string) (Solution, error) {
	var s Solution
	if err := json.Unmarshal([]byte(message), &s); err != nil {
		return Solution{}, fmt.Errorf("decode solution: %w", err)
	}
	if s.ID == "" {
		return Solution{}, fmt.Errorf("decode solution: missing id")
	}
	return s, nil
}

// Observation reports the real outcome for a target, for later comparison
// with predictions.
type Observation struct {
	Datetime string                                 `json:"datetime"`
	Topic    string                                 `json:"topic"`
	Message  string                                 `json:"message"`
	Target   *orderedmap.OrderedMap[string, string] `json:"target"`
	Result   string                                 `json:"result"`
}

// NewObservation creates an observation on the default observe topic.
func NewObservation(message, result string) *Observation {
	return &Observation{
		Topic:   DefaultObserveTopic,
		Message: message,
		Target:  orderedmap.New[string, string](),
		Result:  result,
	}
}

// WithTarget adds a named characteristic of the observed target.
func (o *Observation) WithTarget(name, value string) *Observation {
	o.Target.Set(name, value)
	return o
}

// Encode returns the JSON text carried as a frame message.
func (o *Observation) Encode() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode observation: %w", err)
	}
	return string(b), nil
}
