package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTradeUpdateTrailingStopBuyOnlyAdvances(t *testing.T) {
	trade := &Trade{Direction: DirectionBuy}

	assert.True(t, trade.UpdateTrailingStop(NewMoney(100)))
	assert.True(t, trade.UpdateTrailingStop(NewMoney(105)))
	assert.False(t, trade.UpdateTrailingStop(NewMoney(103)))
	assert.Equal(t, NewMoney(105), *trade.TrailingStop)
}

func TestTradeUpdateTrailingStopSellOnlyAdvancesDown(t *testing.T) {
	trade := &Trade{Direction: DirectionSell}

	assert.True(t, trade.UpdateTrailingStop(NewMoney(100)))
	assert.True(t, trade.UpdateTrailingStop(NewMoney(95)))
	assert.False(t, trade.UpdateTrailingStop(NewMoney(97)))
	assert.Equal(t, NewMoney(95), *trade.TrailingStop)
}

func TestTradeIsOpen(t *testing.T) {
	assert.True(t, Trade{Status: TradeStatusOpen}.IsOpen())
	assert.True(t, Trade{Status: TradeStatusExiting}.IsOpen())
	assert.False(t, Trade{Status: TradeStatusClosed}.IsOpen())
}

func TestSignalDedupeKey(t *testing.T) {
	s := Signal{
		Symbol:     "INFY",
		SignalType: SignalTypeEntry,
		Direction:  DirectionBuy,
	}
	s.SignalDay = s.SignalDay // zero time, format deterministic
	key := s.DedupeKey()
	assert.Contains(t, key, "INFY")
	assert.Contains(t, key, string(SignalTypeEntry))
}
