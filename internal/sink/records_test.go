package sink

import (
	"testing"
	"time"

	"github.com/gian-ai/recommendations/task"
	"github.com/gian-ai/recommendations/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

func encoded(t *testing.T, f wire.Frame) []byte {
	t.Helper()
	line, err := wire.Encode(f.WithIndex(0))
	require.NoError(t, err)
	return line
}

func sampleTask() task.Task {
	q := task.NewQuery("req-1").
		WithTarget("age", "30").
		WithTarget("city", "Lima").
		WithChoices("color", "red", "blue")
	return q.Tasks()[0]
}

func queryLine(t *testing.T) []byte {
	return encoded(t, wire.Send("query", sampleTask().Line(), wire.DeliveryOne, at))
}

func solveLine(t *testing.T) []byte {
	t.Helper()
	st := sampleTask()
	msg, err := task.NewSolution("query", st.Line(), st, "blue", 0.25).Encode()
	require.NoError(t, err)
	return encoded(t, wire.Send("solve", msg, wire.DeliveryAll, at))
}

func observeLine(t *testing.T) []byte {
	t.Helper()
	msg, err := task.NewObservation("bought", "blue").WithTarget("age", "30").WithTarget("city", "Lima").Encode()
	require.NoError(t, err)
	return encoded(t, wire.Send("observe", msg, wire.DeliveryOne, at))
}

func TestTopics_Parse(t *testing.T) {
	topics := DefaultTopics()

	t.Run("query", func(t *testing.T) {
		rec, err := topics.Parse(queryLine(t))
		require.NoError(t, err)
		assert.Equal(t, QueryRecord{
			ServerDatetime: "09/03/2024, 14:05:06",
			Topic:          "query",
			RequestID:      "req-1",
			Target:         "30;Lima",
			Group:          "color",
			Choices:        "red;blue",
		}, rec)
	})

	t.Run("solve", func(t *testing.T) {
		rec, err := topics.Parse(solveLine(t))
		require.NoError(t, err)
		assert.Equal(t, KindSolve, rec.Kind())
		assert.Equal(t, []string{"09/03/2024, 14:05:06", "req-1", "30;Lima", "color", "red;blue", "blue", "0.25"}, rec.Fields())
	})

	t.Run("observe", func(t *testing.T) {
		rec, err := topics.Parse(observeLine(t))
		require.NoError(t, err)
		assert.Equal(t, ObserveRecord{
			ServerDatetime: "09/03/2024, 14:05:06",
			Message:        "bought",
			Target:         "30;Lima",
			Result:         "blue",
		}, rec)
	})

	t.Run("other topic", func(t *testing.T) {
		_, err := topics.Parse(encoded(t, wire.Send("chat", "hi", wire.DeliveryAll, at)))
		assert.ErrorIs(t, err, ErrNotRecorded)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := topics.Parse([]byte("{nope"))
		assert.Error(t, err)

		_, err = topics.Parse(encoded(t, wire.Send("query", "only\ttwo", wire.DeliveryOne, at)))
		assert.Error(t, err)

		_, err = topics.Parse(encoded(t, wire.Send("solve", "not json", wire.DeliveryAll, at)))
		assert.Error(t, err)
	})
}
