package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/slogdb/slogadm/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterConf = `
protocol: "tcp"
replicas: {
	addresses: "192.168.2.11"
	addresses: "192.168.2.12"
}
replicas: {
	addresses: "192.168.2.13"
	addresses: "192.168.2.14"
}
broker_port: 2021
server_port: 2023
num_partitions: 2
partition_key_num_bytes: 1
batch_duration: 5
`

func writeConf(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "cluster.conf")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConf(t, clusterConf))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.NumReplicas())
	assert.Equal(t, 2, cfg.NumPartitions())
	assert.Equal(t, 1, cfg.PartitionKeyNumBytes())
	assert.Equal(t, [][]string{
		{"192.168.2.11", "192.168.2.12"},
		{"192.168.2.13", "192.168.2.14"},
	}, cfg.Addresses())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	var cerr *models.ConfigLoadError
	require.True(t, errors.As(err, &cerr), "expected ConfigLoadError, got %v", err)
	assert.Contains(t, cerr.Path, "nope.conf")
}

func TestLoadMalformed(t *testing.T) {
	path := writeConf(t, "num_partitions: 2\nno_such_field: 3\n")
	_, err := Load(path)
	var cerr *models.ConfigLoadError
	require.True(t, errors.As(err, &cerr), "expected ConfigLoadError, got %v", err)
	assert.Equal(t, path, cerr.Path)
}

func TestWithAddressesLeavesOriginalIntact(t *testing.T) {
	cfg, err := Parse([]byte(clusterConf))
	require.NoError(t, err)

	local, err := cfg.WithAddresses([][]string{
		{"172.28.5.1", "172.28.5.2"},
		{"172.28.5.3", "172.28.5.4"},
	})
	require.NoError(t, err)

	assert.Equal(t, "192.168.2.11", cfg.Addresses()[0][0])
	assert.Equal(t, "172.28.5.4", local.Addresses()[1][1])
	assert.Equal(t, cfg.NumPartitions(), local.NumPartitions())

	_, err = cfg.WithAddresses([][]string{{"172.28.5.1"}})
	assert.True(t, errors.Is(err, models.ErrInvalidTopology))
}

func TestTextRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(clusterConf))
	require.NoError(t, err)

	text, err := cfg.Text()
	require.NoError(t, err)

	again, err := Parse([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, cfg.Addresses(), again.Addresses())
	assert.Equal(t, cfg.NumPartitions(), again.NumPartitions())
}
