package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/models"
)

func TestMockAdapterPlaceOrderRequiresConnection(t *testing.T) {
	m := NewMockAdapter()
	_, err := m.PlaceOrder(context.Background(), OrderRequest{Symbol: "INFY", Quantity: 1})
	require.Error(t, err)
	var brokerErr *Error
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, ErrNotAuthenticated, brokerErr.Kind)
}

func TestMockAdapterPlaceOrderFillsAtLTP(t *testing.T) {
	m := NewMockAdapter()
	_, err := m.Connect(context.Background(), Credentials{})
	require.NoError(t, err)
	m.SetLTP("INFY", models.NewMoney(1500))

	ack, err := m.PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "INFY",
		Direction:   models.DirectionBuy,
		OrderType:   models.OrderTypeMarket,
		ProductType: models.ProductCNC,
		Quantity:    10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.BrokerOrderID)

	positions, err := m.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)
}

func TestDhanProductTableKeepsMTFDistinctFromNRML(t *testing.T) {
	assert.NotEqual(t, dhanProductTable[models.ProductMTF], dhanProductTable[models.ProductNRML])
	assert.Equal(t, defaultProductTable[models.ProductMTF], defaultProductTable[models.ProductNRML])
}
