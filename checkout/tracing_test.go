package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"storefront-service/models"
)

func TestAssembler_SpansPerSellerGroup(t *testing.T) {
	f := newFixture(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	a := NewAssembler(f.creator, f.store, zap.NewNop(), WithTracerProvider(tp))

	_, err := a.Place(context.Background(), customerU1, []models.CartItem{f.item(t, "P1", 1), f.item(t, "P2", 1)})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["checkout.place"])
	assert.Equal(t, 2, names["checkout.seller_group"])
}

func TestAssembler_FailedPlacementMarksSpan(t *testing.T) {
	f := newFixture(t)
	f.creator.failFor("S1", errBackendDown)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	a := NewAssembler(f.creator, f.store, zap.NewNop(), WithTracerProvider(tp))

	_, err := a.Place(context.Background(), customerU1, []models.CartItem{f.item(t, "P1", 1)})
	require.ErrorIs(t, err, ErrSubmissionFailed)

	for _, s := range rec.Ended() {
		assert.Equal(t, codes.Error, s.Status().Code, s.Name())
	}
}
