package formatting

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/model"
	"conductor/internal/supervision"
)

func sampleInstance() *model.Instance {
	return &model.Instance{
		InstanceID:          "i-1",
		Name:                "demo-one",
		CompositionID:       "c-1",
		CompositionTargetID: "c-2",
		DeployState:         model.DeployStateMigrating,
		LockState:           model.LockStateLocked,
		StateChangeResult:   model.ResultTimeout,
		Elements: map[string]model.ElementInstance{
			"e-2": {ElementID: "e-2", DefinitionID: "web", ParticipantID: "p1", DeployState: model.DeployStateMigrating},
			"e-1": {ElementID: "e-1", DefinitionID: "db", ParticipantID: "p2", DeployState: model.DeployStateUndeploying},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "plain", want: FormatPlain},
		{in: "json", want: FormatJSON},
		{in: "yaml", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableInstances(t *testing.T) {
	var buf bytes.Buffer
	f := New(Options{Format: FormatPlain})

	require.NoError(t, f.Instances(&buf, []*model.Instance{sampleInstance()}))

	out := buf.String()
	assert.Contains(t, out, "DEPLOY")
	assert.Contains(t, out, "demo-one")
	assert.Contains(t, out, "c-1 -> c-2")
	assert.Contains(t, out, "MIGRATING")
	assert.Contains(t, out, "TIMEOUT")
}

func TestTableElementsSortedByDefinition(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatTable}).Elements(&buf, sampleInstance()))

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("db")), bytes.Index(buf.Bytes(), []byte("web")), out)
}

func TestTableEmptyLists(t *testing.T) {
	var buf bytes.Buffer
	f := New(Options{})

	require.NoError(t, f.Definitions(&buf, nil))
	require.NoError(t, f.Participants(&buf, nil))
	assert.Contains(t, buf.String(), "No compositions commissioned")
	assert.Contains(t, buf.String(), "No participants registered")
}

func TestTableMetrics(t *testing.T) {
	var buf bytes.Buffer
	summary := supervision.MetricsSummary{
		Scans: 7,
		PerKind: []supervision.KindMetricsView{
			{Kind: model.OperationPrime, Opened: 2, Converged: 1, Expired: 1, Retried: 1},
		},
	}

	require.NoError(t, New(Options{Format: FormatTable}).Metrics(&buf, summary))
	assert.Contains(t, buf.String(), "PRIME")
	assert.Contains(t, buf.String(), "SCANS")
}

func TestJSONDefinitions(t *testing.T) {
	var buf bytes.Buffer
	def := &model.Definition{
		CompositionID:   "c-1",
		Name:            "demo",
		Version:         "1.0.0",
		TypeState:       model.TypeStatePrimed,
		LastMessageTime: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, New(Options{Format: FormatJSON}).Definitions(&buf, []*model.Definition{def}))

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "PRIMED", got[0]["typeState"])
}

func TestJSONEmptyListIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatJSON}).Instances(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestYAMLUsesJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatYAML}).Elements(&buf, sampleInstance()))

	assert.Contains(t, buf.String(), "compositionTargetId: c-2")
	assert.Contains(t, buf.String(), "deployState: MIGRATING")
}

func TestPrettyJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"name\": \"test\",\n  \"value\": 42\n}",
		PrettyJSON(map[string]interface{}{"name": "test", "value": 42}))
	assert.NotEmpty(t, PrettyJSON(make(chan int)))
}

func TestJoinShort(t *testing.T) {
	assert.Equal(t, "a,b", joinShort([]string{"a", "b"}, 3))
	assert.Equal(t, "a,b,+2", joinShort([]string{"a", "b", "c", "d"}, 2))
}
