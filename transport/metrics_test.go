package transport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsTrackBytesAndCompression(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	writerConn, readerConn := pipePair()
	defer writerConn.Close()
	defer readerConn.Close()

	tw := New(writerConn, WithMetrics(m), WithCompressionThreshold(-1))
	go func() {
		tw.BeginWrite(1)
		tw.Write([]byte("hello"))
		tw.EndWrite()
	}()

	tr := New(readerConn)
	_, err := tr.BeginRead()
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = tr.Read(buf)
	require.NoError(t, err)
	require.NoError(t, tr.EndRead())

	assert.Equal(t, float64(5), counterValue(t, m.bytesWritten))
	assert.Equal(t, float64(1), counterValue(t, m.packetsPlain))
}
