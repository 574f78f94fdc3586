package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, "hirehub", cfg.MongoDB)
	assert.Equal(t, []string{"localhost:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, "hirehub_messages", cfg.ScyllaKeyspace)
	assert.Equal(t, gocql.Quorum, cfg.ScyllaConsistency)
	assert.Equal(t, "hirehub.messages", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, int64(64*1024), cfg.MaxFrameSize)
}

func TestLoadRequiresMongoURI(t *testing.T) {
	t.Setenv("MONGO_URI", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("SCYLLA_HOSTS", "node1:9042, node2:9042 ,,node3:9042")
	t.Setenv("KAFKA_BROKERS", "kafka1:9092,kafka2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"node1:9042", "node2:9042", "node3:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, []string{"kafka1:9092", "kafka2:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")

	t.Setenv("WS_PONG_WAIT", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
	t.Setenv("WS_PONG_WAIT", "")

	t.Setenv("SCYLLA_CONSISTENCY", "NOT_A_LEVEL")
	_, err = Load()
	assert.Error(t, err)
}
