package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/ruleset"
)

func TestOneShotTimerFires(t *testing.T) {
	var mu sync.Mutex
	var fires []Fire
	m := New(func(f Fire) {
		mu.Lock()
		fires = append(fires, f)
		mu.Unlock()
	}, nil)

	require.NoError(t, m.Set(&ruleset.TimerConfig{
		Name:     "t1",
		Duration: "10",
		OnExpire: ruleset.EventSpec{Topic: "timer.t1.expired"},
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fires) == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, m.Active("t1"))
}

func TestSetReplacesExistingTimer(t *testing.T) {
	var mu sync.Mutex
	var fires []Fire
	m := New(func(f Fire) {
		mu.Lock()
		fires = append(fires, f)
		mu.Unlock()
	}, nil)

	require.NoError(t, m.Set(&ruleset.TimerConfig{Name: "t1", Duration: "500"}))
	require.NoError(t, m.Set(&ruleset.TimerConfig{Name: "t1", Duration: "10"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fires) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelPreventsFiring(t *testing.T) {
	var mu sync.Mutex
	var fires []Fire
	m := New(func(f Fire) {
		mu.Lock()
		fires = append(fires, f)
		mu.Unlock()
	}, nil)

	require.NoError(t, m.Set(&ruleset.TimerConfig{Name: "t1", Duration: "20"}))
	assert.True(t, m.Cancel("t1"))
	assert.False(t, m.Cancel("t1"))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, fires)
}

func TestRepeatingTimerRespectsMaxCount(t *testing.T) {
	var mu sync.Mutex
	var fires []Fire
	m := New(func(f Fire) {
		mu.Lock()
		fires = append(fires, f)
		mu.Unlock()
	}, nil)

	require.NoError(t, m.Set(&ruleset.TimerConfig{
		Name:     "t1",
		Duration: "5",
		Repeat:   &ruleset.RepeatConfig{Interval: "5", MaxCount: 3},
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fires) == 3
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, fires, 3)
}

func TestFireCarriesCorrelationID(t *testing.T) {
	var mu sync.Mutex
	var fires []Fire
	m := New(func(f Fire) {
		mu.Lock()
		fires = append(fires, f)
		mu.Unlock()
	}, nil)

	require.NoError(t, m.Set(&ruleset.TimerConfig{
		Name:          "t1",
		Duration:      "10",
		CorrelationID: "corr-armed-by-rule",
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fires) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "corr-armed-by-rule", fires[0].CorrelationID)
}

func TestGetTimerGetAllSize(t *testing.T) {
	m := New(func(Fire) {}, nil)

	assert.Nil(t, m.GetTimer("t1"))
	assert.Equal(t, 0, m.Size())

	require.NoError(t, m.Set(&ruleset.TimerConfig{Name: "t1", Duration: "1h", CorrelationID: "c1"}))
	require.NoError(t, m.Set(&ruleset.TimerConfig{Name: "t2", Duration: "2h"}))

	assert.Equal(t, 2, m.Size())
	assert.Equal(t, 2, m.Count())

	handle := m.GetTimer("t1")
	require.NotNil(t, handle)
	assert.Equal(t, "t1", handle.Name)
	assert.Equal(t, "c1", handle.CorrelationID)
	assert.Greater(t, handle.ExpiresAt, int64(0))

	all := m.GetAll()
	assert.Len(t, all, 2)

	m.Cancel("t1")
	assert.Nil(t, m.GetTimer("t1"))
	assert.Equal(t, 1, m.Size())
}

func TestOnSetAndOnCancelHooks(t *testing.T) {
	m := New(func(Fire) {}, nil)

	var mu sync.Mutex
	var setEvents []Timer
	var cancelled []string
	m.OnSet(func(t Timer) {
		mu.Lock()
		setEvents = append(setEvents, t)
		mu.Unlock()
	})
	m.OnCancel(func(name, correlationID string) {
		mu.Lock()
		cancelled = append(cancelled, name)
		mu.Unlock()
	})

	require.NoError(t, m.Set(&ruleset.TimerConfig{Name: "t1", Duration: "1h", CorrelationID: "c1"}))
	m.Cancel("t1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, setEvents, 1)
	assert.Equal(t, "t1", setEvents[0].Name)
	assert.Equal(t, []string{"t1"}, cancelled)
}
