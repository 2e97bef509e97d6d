package task

import (
	"fmt"
	"strings"
)

// Task is one independently routed fragment of a Query.
type Task struct {
	RequestID string
	Target    []string
	Group     string
	Options   []string
}

// Fields returns the four line fields: request id, target, group, options.
func (t Task) Fields() []string {
	return []string{
		t.RequestID,
		strings.Join(t.Target, listSep),
		t.Group,
		strings.Join(t.Options, listSep),
	}
}

// Line renders the task as a tab separated, newline terminated line.
func (t Task) Line() string {
	return strings.Join(t.Fields(), fieldSep) + "\n"
}

// ParseTask parses a line produced by Task.Line.
func ParseTask(line string) (Task, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, fieldSep)
	if len(fields) != 4 {
		return Task{}, fmt.Errorf("task line has %d fields, want 4", len(fields))
	}
	if fields[0] == "" {
		return Task{}, fmt.Errorf("task line has no request id")
	}
	return Task{
		RequestID: fields[0],
		Target:    splitList(fields[1]),
		Group:     fields[2],
		Options:   splitList(fields[3]),
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}
