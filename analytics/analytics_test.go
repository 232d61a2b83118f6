package analytics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumar/drip/model"
	"github.com/stretchr/testify/require"
)

func TestLogFileDataCollector(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "outcomes.log")
	c, err := NewDataCollector(DataCollectorConfig{FileName: fileName, CollectorType: LOG_FILE_DATA_COLLECTOR})
	require.NoError(t, err)

	job := &model.JobSpec{Id: "j1", FlowId: "f1", Recipient: "a@x.com", AttemptCount: 1}
	c.RecordSent(job, 15*time.Millisecond)
	c.RecordRetry(job, "451", time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	c.RecordFailure(job, "550")
	c.RecordRequeue(job)
	require.NoError(t, c.Close())

	f, err := os.Open(fileName)
	require.NoError(t, err)
	defer f.Close()

	var msgs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		require.Equal(t, "j1", line["jobId"])
		require.Equal(t, float64(2), line["attempt"])
		msgs = append(msgs, line["msg"].(string))
	}
	require.Equal(t, []string{"sent", "retry", "failure", "requeue"}, msgs)
}

func TestNewDataCollector(t *testing.T) {
	c, err := NewDataCollector(DataCollectorConfig{})
	require.NoError(t, err)
	require.IsType(t, NoopDataCollector{}, c)

	_, err = NewDataCollector(DataCollectorConfig{CollectorType: "ELASTIC"})
	require.Error(t, err)
}
