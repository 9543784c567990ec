package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatasetFilterWellKnown(t *testing.T) {
	assert.Contains(t, datasetFilter("suricata"), "JSONHas(raw, 'suricata')")
	assert.Contains(t, datasetFilter("WAZUH"), "'wazuh'")
	assert.Contains(t, datasetFilter("zeek"), "JSONHas(raw, 'zeek')")
}

func TestDatasetFilterGeneric(t *testing.T) {
	got := datasetFilter("custom_ids")
	assert.Contains(t, got, "JSON_VALUE(raw, '$.event.dataset') = 'custom_ids'")
	assert.Contains(t, got, "JSON_VALUE(raw, '$.event.module') = 'custom_ids'")
	assert.Contains(t, got, "JSON_VALUE(raw, '$.event.provider') = 'custom_ids'")
}

func TestDatasetFilterEmptyAdmitsAll(t *testing.T) {
	assert.Equal(t, "1 = 1", datasetFilter(""))
}

func TestDatasetFilterEscapesQuotes(t *testing.T) {
	got := datasetFilter("o'brien")
	assert.Contains(t, got, "'o''brien'")
}
