package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, GetDefaultConfig().Validate())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Supervision.OperationTimeout = 0
	cfg.Supervision.MaxRetries = -1
	cfg.Storage.Driver = StorageBolt
	cfg.Logging.Level = "loud"
	cfg.Participants = []ParticipantConfig{
		{ID: "p1", Kind: ParticipantSimulator, SupportedElementTypes: []string{"helm"}},
		{ID: "p1", Kind: "ftp"},
	}

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"supervision.operationTimeout",
		"supervision.maxRetries",
		"storage.path",
		"logging.level",
		"participants[1].id",
		"participants[1].kind",
		"participants[1].supportedElementTypes",
	}, fields)
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a", "is required")
	assert.Equal(t, "field 'a': is required", errs.Error())

	errs.Add("", "something else")
	assert.Equal(t, "validation failed: field 'a': is required; something else", errs.Error())
}

func TestConfigurationErrorCollection(t *testing.T) {
	var c ConfigurationErrorCollection
	assert.False(t, c.HasErrors())

	c.Add(ConfigurationError{FilePath: "/tmp/t/a.yaml", FileName: "a.yaml", Category: "templates", ErrorType: "parse", Message: "bad yaml"})
	assert.Equal(t, "[templates] a.yaml: bad yaml", c.Error())

	c.Add(ConfigurationError{
		FilePath: "/tmp/t/b.yaml", FileName: "b.yaml", Category: "templates", ErrorType: "validation",
		Message: "name is required", Suggestions: []string{"add a name"},
	})
	assert.Equal(t, 2, c.Count())
	assert.Equal(t, "2 configuration errors, first: [templates] a.yaml: bad yaml", c.Error())
	assert.Equal(t, "/tmp/t/a.yaml (parse error)\n  bad yaml\n\n/tmp/t/b.yaml (validation error)\n  name is required\n  hint: add a name",
		c.FormatErrorSummary())
}
