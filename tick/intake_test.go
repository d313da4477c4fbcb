package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
)

func TestOnTickUpdatesLTPCache(t *testing.T) {
	in := NewIntake(nil)
	l := in.Subscribe("test")

	tk := broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(500), Timestamp: time.Now()}
	in.OnTick(tk)

	ltp, ok := in.LTP("SBIN")
	require.True(t, ok)
	assert.True(t, ltp.Equal(models.NewMoney(500)))

	select {
	case got := <-l.C:
		assert.Equal(t, "SBIN", got.Symbol)
	default:
		t.Fatal("expected tick fanned out to listener")
	}
}

// TestReplayedTickIsDeduped covers P6: replaying the same tick twice
// within the short window produces the same LTP value and at most one
// downstream listener invocation.
func TestReplayedTickIsDeduped(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	in := NewIntake(func() time.Time { return fixed })
	l := in.Subscribe("test")

	tk := broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(500), Timestamp: fixed}
	in.OnTick(tk)
	in.OnTick(tk) // replay

	assert.Len(t, l.C, 1, "replayed tick must not be delivered twice")
}

func TestDistinctTimestampsAreNotDeduped(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	in := NewIntake(func() time.Time { return fixed })
	l := in.Subscribe("test")

	in.OnTick(broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(500), Timestamp: fixed})
	in.OnTick(broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(501), Timestamp: fixed.Add(time.Millisecond)})

	assert.Len(t, l.C, 2)
}

func TestListenerOverflowDropsOldest(t *testing.T) {
	in := NewIntake(nil)
	l := in.Subscribe("test")

	for i := 0; i < ListenerQueueDepth+5; i++ {
		in.OnTick(broker.Tick{
			Symbol:    "SBIN",
			LastPrice: models.NewMoney(float64(500 + i)),
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}

	assert.True(t, l.Dropped() > 0)
	assert.LessOrEqual(t, len(l.C), ListenerQueueDepth)
}
