package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzerding/xiaomi-token-web/pkg/log"
)

func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.tlog")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger.Log(log.Event{
		Timestamp: ts,
		SessionID: "abcdef1234",
		Category:  log.CategoryExchange,
		Step:      "login_step1",
		Exchange:  &log.ExchangeEvent{Method: "GET", URL: "https://account.xiaomi.com/pass/serviceLogin", Status: 200},
	})
	logger.Log(log.Event{
		Timestamp:   ts.Add(time.Second),
		SessionID:   "abcdef1234",
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{OldState: "FRESH", NewState: "STEP1_DONE"},
	})
	logger.Log(log.Event{
		Timestamp: ts.Add(2 * time.Second),
		SessionID: "abcdef1234",
		Category:  log.CategoryError,
		Step:      "login_step2",
		Error:     &log.ErrorEventData{Message: "boom", Context: "credentials"},
	})
	require.NoError(t, logger.Close())
	return path
}

func TestReadEvents(t *testing.T) {
	path := writeTestLog(t)

	var events []log.Event
	require.NoError(t, readEvents(path, func(e log.Event) {
		events = append(events, e)
	}))

	require.Len(t, events, 3)
	assert.Equal(t, "login_step1", events[0].Step)
	assert.Equal(t, log.CategoryState, events[1].Category)
	assert.Equal(t, "boom", events[2].Error.Message)
}

func TestFormatEvent(t *testing.T) {
	path := writeTestLog(t)

	var buf bytes.Buffer
	require.NoError(t, readEvents(path, func(e log.Event) {
		formatEvent(&buf, e)
	}))

	out := buf.String()
	assert.Contains(t, out, "GET https://account.xiaomi.com/pass/serviceLogin -> 200")
	assert.Contains(t, out, "FRESH -> STEP1_DONE")
	assert.Contains(t, out, "credentials: boom")
	assert.Contains(t, out, "[abcdef12]", "session ids are shortened")
}

func TestReadEventsMissingFile(t *testing.T) {
	err := readEvents(filepath.Join(t.TempDir(), "nope.tlog"), func(log.Event) {})
	assert.Error(t, err)
}
