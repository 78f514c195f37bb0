package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/config"
	"conductor/internal/model"
)

const shopTemplate = `
name: web-shop
version: 1.0.0
elements:
  - id: frontend
    type: helm
    properties:
      chart: shop-frontend
      replicas: "{{ replicas }}"
      image: "registry/shop:{{ .tag }}"
  - id: settings
    type: configmap
    participantId: k8s-1
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(shopTemplate))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "web-shop:1.0.0", c.Key())
	require.Len(t, c.Elements, 2)
	assert.Equal(t, "helm", c.Elements[0].Type)
	assert.Equal(t, "k8s-1", c.Elements[1].ParticipantID)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: x\nversion: 1.0.0\nelemnts: []\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := &Composition{
		Version: "one",
		Elements: []Element{
			{ID: "a", Type: "helm"},
			{ID: "a"},
		},
	}

	err := c.Validate()
	var verrs config.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"name", "version", "elements[1].id", "elements[1].type"}, fields)
}

func TestEngineRender(t *testing.T) {
	e := NewEngine()
	props := model.Properties{
		"replicas": "{{ replicas }}",
		"image":    "registry/shop:{{ .tag }}",
		"nested":   map[string]interface{}{"list": []interface{}{"{{tag}}", 1.5}},
	}

	out, err := e.Render(props, map[string]interface{}{"replicas": float64(3), "tag": "v2"})
	require.NoError(t, err)

	assert.Equal(t, float64(3), out["replicas"])
	assert.Equal(t, "registry/shop:v2", out["image"])
	assert.Equal(t, []interface{}{"v2", 1.5}, out["nested"].(map[string]interface{})["list"])
	// The input is not modified.
	assert.Equal(t, "{{ replicas }}", props["replicas"])
}

func TestEngineReportsEveryMissingParameter(t *testing.T) {
	e := NewEngine()
	props := model.Properties{"a": "{{ zone }}", "b": "{{ .region }}-{{ zone }}"}

	assert.Equal(t, []string{"region", "zone"}, e.Variables(props))

	_, err := e.Render(props, nil)
	require.Error(t, err)
	assert.Equal(t, "missing template parameters: region, zone", err.Error())
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3", stringify(float64(3)))
	assert.Equal(t, "2.5", stringify(2.5))
	assert.Equal(t, "true", stringify(true))
}

func TestMergeParameters(t *testing.T) {
	got := MergeParameters(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2},
	)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, got)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-shop.yaml"), []byte(shopTemplate), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-broken.yaml"), []byte("name: [unterminated"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c-invalid.yml"), []byte("name: x\nversion: \"1\"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	loaded, err := LoadDir(dir)
	require.Len(t, loaded, 1)
	assert.Equal(t, "web-shop", loaded[0].Composition.Name)

	var coll *config.ConfigurationErrorCollection
	require.True(t, errors.As(err, &coll))
	require.Equal(t, 2, coll.Count())
	assert.Equal(t, "a-broken.yaml", coll.Errors[0].FileName)
	assert.Equal(t, "parse", coll.Errors[0].ErrorType)
	assert.Equal(t, "validation", coll.Errors[1].ErrorType)
}

func TestLoadDirMissing(t *testing.T) {
	loaded, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, 50*time.Millisecond)
	changes := make(chan Event, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, changes))
	defer w.Stop()

	path := filepath.Join(dir, "shop.yaml")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(shopTemplate), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0644))

	select {
	case ev := <-changes:
		assert.Equal(t, Event{Op: OpUpsert, Path: path, Name: "shop"}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for the template write")
	}

	select {
	case ev := <-changes:
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.Remove(path))
	select {
	case ev := <-changes:
		assert.Equal(t, OpRemove, ev.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for the template removal")
	}
}
