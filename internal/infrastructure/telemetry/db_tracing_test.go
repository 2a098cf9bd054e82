package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type trackedRow struct {
	ID   uint   `gorm:"primaryKey"`
	SKU  string `gorm:"size:64"`
	Note string
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&trackedRow{}))
	return db
}

func setupRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return m
}

func TestNewDBTracingPlugin_Defaults(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
	assert.Equal(t, "postgresql", p.config.DBSystem)

	def := DefaultDBTracingConfig()
	assert.False(t, def.Enabled)
	assert.False(t, def.LogFullSQL)
}

func TestRegisterOtelGorm_Disabled(t *testing.T) {
	db := setupTestDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{}, zap.NewNop())
	require.NoError(t, p.RegisterOtelGorm(db))
	assert.Nil(t, db.Callback().Create().Get("otel_slow_query:create"))
}

func TestRegisterOtelGorm_Enabled(t *testing.T) {
	db := setupTestDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
	require.NoError(t, p.RegisterOtelGorm(db))

	assert.NotNil(t, db.Callback().Create().Get("otel_slow_query:create"))
	assert.NotNil(t, db.Callback().Query().Get("otel_timing:before_query"))
	require.NoError(t, db.Create(&trackedRow{SKU: "A-1"}).Error)
}

func TestAfterQuery_AnnotatesRecordingSpan(t *testing.T) {
	db := setupTestDB(t)
	tp, sr := setupRecorder(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.NewNop())

	ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.append")
	ctx = WithQueryStartTime(ctx)
	time.Sleep(time.Millisecond)

	tx := db.WithContext(ctx)
	tx.Statement.Table = "stock_movements"
	tx.Statement.RowsAffected = 3
	tx.Error = errors.New("constraint failed")
	p.afterQuery(tx)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "stock_movements", attrs["db.sql.table"].AsString())
	assert.Equal(t, int64(3), attrs["db.rows_affected"].AsInt64())
	assert.True(t, attrs["db.slow_query"].AsBool())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	var names []string
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "slow_query_warning")
}

func TestAfterQuery_RecordNotFoundIsNotAnError(t *testing.T) {
	db := setupTestDB(t)
	tp, sr := setupRecorder(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Hour}, zap.NewNop())

	ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.balance")
	tx := db.WithContext(WithQueryStartTime(ctx))
	tx.Error = gorm.ErrRecordNotFound
	p.afterQuery(tx)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
	_, slow := attrMap(spans[0].Attributes())["db.slow_query"]
	assert.False(t, slow)
}

func TestAfterQuery_NoSpan(t *testing.T) {
	db := setupTestDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	assert.NotPanics(t, func() {
		p.afterQuery(db.WithContext(context.Background()))
	})
}
