package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adamwoolhether/chainsync/foundation/logger"
)

func TestNew(t *testing.T) {
	log, err := logger.New("TEST", "warn")
	require.NoError(t, err)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Desugar().Core().Enabled(zapcore.WarnLevel))

	_, err = logger.New("TEST", "loud")
	assert.Error(t, err)
}

func TestEvHandler(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ev := logger.EvHandler(zap.New(core).Sugar())

	ev("syncer: job: started: blks[%d]", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "syncer: job: started: blks[3]", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}
