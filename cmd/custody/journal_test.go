package main

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/custody/audit"
	"github.com/chazu/custody/bridge"
	"github.com/chazu/custody/manifest"
	"github.com/chazu/custody/vm"
)

func writeJournal(t *testing.T, record func(j *audit.Journal)) string {
	t.Helper()
	j := audit.NewJournal()
	record(j)
	path := filepath.Join(t.TempDir(), "custody.journal")
	require.NoError(t, j.WriteFile(path))
	return path
}

func TestJournalCmdPrintsAndVerifies(t *testing.T) {
	id := uuid.New()
	path := writeJournal(t, func(j *audit.Journal) {
		j.Record(id, vm.FromExceptionID(2), bridge.ActionRaise)
		j.Record(id, vm.FromExceptionID(2), bridge.ActionClear)
	})

	cmd := newJournalCmd()
	cmd.SetArgs([]string{path})
	assert.NoError(t, cmd.Execute())
}

func TestJournalCmdReportsViolation(t *testing.T) {
	path := writeJournal(t, func(j *audit.Journal) {
		j.Record(uuid.New(), vm.FromExceptionID(2), bridge.ActionRaise)
	})

	cmd := newJournalCmd()
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custody violated")
}

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, _, err := runDemo(manifest.Default(), reg)
	require.NoError(t, err)
	assert.NoError(t, printMetrics(reg))
}
