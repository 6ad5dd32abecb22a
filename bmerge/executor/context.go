package executor

import (
	"time"

	"github.com/wbrown/janus-merge/bmerge/annotations"
)

// Context provides clean annotation points for join execution tracking.
type Context interface {
	// Join lifecycle
	JoinBegin(left, right string, joinType string, numJoinCols int)
	JoinStaged(leftBuckets, rightBuckets int, leftWidths, rightWidths []int)
	JoinComplete(rows int64, chunks, pairs int, err error)

	// Partition pair tasks. Phase runs one phase of a task; fn returns the
	// data to attach to the phase event.
	Task(pair Pair, node int, fn func() (*TaskResult, error)) (*TaskResult, error)
	Phase(pair Pair, name string, fn func() (map[string]interface{}, error)) error

	// Get underlying collector
	Collector() *annotations.Collector
}

// BaseContext provides a no-op implementation with zero overhead.
type BaseContext struct{}

// NewContext creates an appropriate context based on whether annotations are needed.
func NewContext(handler annotations.Handler) Context {
	if handler == nil {
		return &BaseContext{}
	}
	return &AnnotatedContext{
		collector: annotations.NewCollector(handler),
	}
}

func (c *BaseContext) JoinBegin(left, right string, joinType string, numJoinCols int) {}

func (c *BaseContext) JoinStaged(leftBuckets, rightBuckets int, leftWidths, rightWidths []int) {}

func (c *BaseContext) JoinComplete(rows int64, chunks, pairs int, err error) {}

func (c *BaseContext) Task(pair Pair, node int, fn func() (*TaskResult, error)) (*TaskResult, error) {
	return fn()
}

func (c *BaseContext) Phase(pair Pair, name string, fn func() (map[string]interface{}, error)) error {
	_, err := fn()
	return err
}

func (c *BaseContext) Collector() *annotations.Collector {
	return nil
}

// AnnotatedContext provides full annotation tracking
type AnnotatedContext struct {
	collector *annotations.Collector
	joinStart time.Time
}

func (c *AnnotatedContext) JoinBegin(left, right string, joinType string, numJoinCols int) {
	c.joinStart = time.Now()
	c.collector.Add(annotations.Event{
		Name:  annotations.JoinInvoked,
		Start: c.joinStart,
		Data: map[string]interface{}{
			"left":      left,
			"right":     right,
			"join.type": joinType,
			"join.cols": numJoinCols,
		},
	})
}

func (c *AnnotatedContext) JoinStaged(leftBuckets, rightBuckets int, leftWidths, rightWidths []int) {
	c.collector.AddTiming(annotations.JoinStaged, c.joinStart, map[string]interface{}{
		"left.buckets":  leftBuckets,
		"right.buckets": rightBuckets,
		"left.widths":   leftWidths,
		"right.widths":  rightWidths,
	})
}

func (c *AnnotatedContext) JoinComplete(rows int64, chunks, pairs int, err error) {
	data := map[string]interface{}{
		"rows":    rows,
		"chunks":  chunks,
		"pairs":   pairs,
		"success": err == nil,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.AddTiming(annotations.JoinCompleted, c.joinStart, data)
}

func (c *AnnotatedContext) Task(pair Pair, node int, fn func() (*TaskResult, error)) (*TaskResult, error) {
	start := time.Now()
	c.collector.Add(annotations.Event{
		Name:  annotations.TaskBegin,
		Start: start,
		Data:  pairData(pair, map[string]interface{}{"node": node}),
	})

	res, err := fn()
	if err != nil {
		c.collector.AddTiming(annotations.ErrorTask, start, pairData(pair, map[string]interface{}{
			"error": err.Error(),
		}))
		return nil, err
	}

	c.collector.AddTiming(annotations.TaskComplete, start, pairData(pair, map[string]interface{}{
		"result.rows": res.NumRowsInResult,
	}))
	return res, nil
}

func (c *AnnotatedContext) Phase(pair Pair, name string, fn func() (map[string]interface{}, error)) error {
	start := time.Now()
	data, err := fn()
	if err != nil {
		return err
	}
	c.collector.AddTiming(name, start, pairData(pair, data))
	return nil
}

func (c *AnnotatedContext) Collector() *annotations.Collector {
	return c.collector
}

func pairData(pair Pair, data map[string]interface{}) map[string]interface{} {
	if data == nil {
		data = make(map[string]interface{}, 2)
	}
	data["left.msb"] = pair.LeftMSB
	data["right.msb"] = pair.RightMSB
	return data
}
