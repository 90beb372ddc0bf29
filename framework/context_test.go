package framework

import (
	"errors"
	"testing"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTestLogger struct {
	started  []string
	finished map[string]bool
	skipped  map[string]string
}

func newRecordingTestLogger() *recordingTestLogger {
	return &recordingTestLogger{finished: make(map[string]bool), skipped: make(map[string]string)}
}

func (r *recordingTestLogger) TestStarted(id TestID) { r.started = append(r.started, id.String()) }
func (r *recordingTestLogger) TestError(TestID, error) {}
func (r *recordingTestLogger) TestFinished(id TestID, failed bool, _ logging.CapturedOutput) {
	r.finished[id.String()] = failed
}
func (r *recordingTestLogger) TestSkipped(id TestID, reason string) { r.skipped[id.String()] = reason }

func TestRunRecordsPassAndFailure(t *testing.T) {
	logger := newRecordingTestLogger()
	results := Run(nil, logger, func(c *Context) {
		c.Run("a", func(c *Context) {
			c.Run("passes", func(c *Context) {})
			c.Run("fails", func(c *Context) {
				assert.Fail(c, "nope")
			})
		})
	})

	assert.False(t, results.OK())
	require.Len(t, results.Failures, 1)
	assert.Equal(t, "a/fails", results.Failures[0].TestID.String())
	assert.Equal(t, []string{"a", "a/passes", "a/fails"}, logger.started)
	assert.False(t, logger.finished["a/passes"])
	assert.True(t, logger.finished["a/fails"])
}

func TestRequireStopsOnlyTheCurrentTest(t *testing.T) {
	reached := false
	results := Run(nil, nil, func(c *Context) {
		c.Run("stops", func(c *Context) {
			require.NoError(c, errors.New("boom"))
			reached = true
		})
		c.Run("continues", func(c *Context) {})
	})

	assert.False(t, reached)
	require.Len(t, results.Failures, 1)
	passed, failed, skipped := results.Counts()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, skipped)
}

func TestUnexpectedPanicIsReportedAsFailure(t *testing.T) {
	results := Run(nil, nil, func(c *Context) {
		c.Run("panics", func(c *Context) {
			panic("oops")
		})
	})

	require.Len(t, results.Failures, 1)
	require.Len(t, results.Failures[0].Errors, 1)
	assert.Contains(t, results.Failures[0].Errors[0].Error(), "oops")
}

func TestSkipWithReason(t *testing.T) {
	logger := newRecordingTestLogger()
	results := Run(nil, logger, func(c *Context) {
		c.Run("skipped", func(c *Context) {
			c.SkipWithReason("not today")
		})
	})

	assert.True(t, results.OK())
	assert.Equal(t, "not today", logger.skipped["skipped"])
	_, _, skipped := results.Counts()
	assert.Equal(t, 1, skipped)
}

func TestDeferredActionsRunInReverseOrderEvenOnFailure(t *testing.T) {
	var order []int
	Run(nil, nil, func(c *Context) {
		c.Run("x", func(c *Context) {
			c.Defer(func() { order = append(order, 1) })
			c.Defer(func() { order = append(order, 2) })
			c.FailNow()
		})
	})
	assert.Equal(t, []int{2, 1}, order)
}

func TestFilterExcludesTests(t *testing.T) {
	var filters RegexFilters
	require.NoError(t, filters.MustNotMatch.Set("^a/b$"))

	logger := newRecordingTestLogger()
	ran := map[string]bool{}
	Run(filters.AsFilter, logger, func(c *Context) {
		c.Run("a", func(c *Context) {
			c.Run("b", func(c *Context) { ran["b"] = true })
			c.Run("c", func(c *Context) { ran["c"] = true })
		})
	})

	assert.False(t, ran["b"])
	assert.True(t, ran["c"])
	assert.Equal(t, "excluded by filter parameters", logger.skipped["a/b"])
}

func TestRegexListRejectsInvalidPattern(t *testing.T) {
	var r RegexList
	assert.Error(t, r.Set("("))
	assert.False(t, r.IsDefined())
}
