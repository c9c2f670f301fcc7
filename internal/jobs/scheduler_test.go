package jobs

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSweeperDisabled(t *testing.T) {
	env := newTestEnv(t, &fakeConverter{}, nil)

	for _, tc := range []struct {
		interval int
		ttl      time.Duration
	}{
		{0, time.Hour},
		{5, 0},
	} {
		s, err := StartSweeper(env.manager, tc.interval, tc.ttl, zerolog.Nop())
		require.NoError(t, err)
		assert.Nil(t, s.scheduler)
		s.Stop()
	}
}

func TestStartSweeperSchedulesJob(t *testing.T) {
	env := newTestEnv(t, &fakeConverter{}, nil)

	s, err := StartSweeper(env.manager, 10, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, s.scheduler)
	assert.Len(t, s.scheduler.Jobs(), 1)
	assert.True(t, s.scheduler.IsRunning())
	s.Stop()
	assert.False(t, s.scheduler.IsRunning())

	var nilSweeper *Sweeper
	nilSweeper.Stop()
}
