package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"conductor/internal/config"
	"conductor/internal/formatting"
	"conductor/internal/model"
	"conductor/internal/template"
)

const shopTemplate = `
name: shop
version: 1.0.0
elements:
  - id: frontend
    type: helm
    properties:
      image: "registry/shop:{{ .tag }}"
  - id: settings
    type: configmap
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Supervision.ScanInterval = 50 * time.Millisecond
	cfg.Supervision.OperationTimeout = 10 * time.Second
	return &cfg
}

func parseTemplate(t *testing.T, data string) *template.Composition {
	t.Helper()
	tpl, err := template.Parse([]byte(data))
	require.NoError(t, err)
	require.NoError(t, tpl.Validate())
	return tpl
}

func startServices(t *testing.T, cfg *config.Config) *Services {
	t.Helper()
	s, err := newServices(cfg, clock.RealClock{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestPrepareSimulation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Driver: config.StorageBolt, Path: "/tmp/x.db"}
	cfg.Templates.Directory = "/somewhere"

	tpl := parseTemplate(t, shopTemplate+`
  - id: db
    type: database
    participantId: dba
  - id: cache
    type: configmap
`)
	PrepareSimulation(cfg, tpl)

	assert.Equal(t, config.StorageMemory, cfg.Storage.Driver)
	assert.Empty(t, cfg.Templates.Directory)
	require.Len(t, cfg.Participants, 2)
	assert.Equal(t, "dba", cfg.Participants[0].ID)
	assert.Equal(t, []string{"database"}, cfg.Participants[0].SupportedElementTypes)
	assert.Equal(t, SimulatorParticipantID, cfg.Participants[1].ID)
	assert.Equal(t, []string{"configmap", "helm"}, cfg.Participants[1].SupportedElementTypes)
}

func TestPrepareSimulationKeepsConfiguredParticipants(t *testing.T) {
	cfg := testConfig(t)
	cfg.Participants = []config.ParticipantConfig{{ID: "mine", Kind: config.ParticipantSimulator, SupportedElementTypes: []string{"helm"}}}
	PrepareSimulation(cfg, parseTemplate(t, shopTemplate))

	require.Len(t, cfg.Participants, 1)
	assert.Equal(t, "mine", cfg.Participants[0].ID)
}

func TestOperationKinds(t *testing.T) {
	assert.Equal(t, []model.OperationKind{model.OperationDeploy, model.OperationPrime},
		operationKinds([]string{"deploy", " Prime "}))
}

func TestSimulateFullLifecycle(t *testing.T) {
	cfg := testConfig(t)
	tpl := parseTemplate(t, shopTemplate)
	PrepareSimulation(cfg, tpl)
	s := startServices(t, cfg)

	var out bytes.Buffer
	err := Simulate(context.Background(), s, tpl, SimulateOptions{
		Parameters: map[string]interface{}{"tag": "2.0"},
		Formatter:  formatting.New(formatting.Options{Format: formatting.FormatJSON}),
		Out:        &out,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "shop-sim")
	assert.Contains(t, out.String(), "registry/shop:2.0")

	defs, err := s.Provider.ListDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, model.TypeStateCommissioned, defs[0].TypeState)

	insts, err := s.Provider.ListInstances(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, insts)
}

func TestSimulateKeep(t *testing.T) {
	cfg := testConfig(t)
	tpl := parseTemplate(t, shopTemplate)
	PrepareSimulation(cfg, tpl)
	s := startServices(t, cfg)

	err := Simulate(context.Background(), s, tpl, SimulateOptions{
		InstanceName: "kept",
		Parameters:   map[string]interface{}{"tag": "1"},
		Keep:         true,
	})
	require.NoError(t, err)

	insts, err := s.Provider.ListInstances(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "kept", insts[0].Name)
	assert.Equal(t, model.DeployStateDeployed, insts[0].DeployState)
	assert.Equal(t, model.LockStateLocked, insts[0].LockState)
}

func TestSimulateReportsFailedStep(t *testing.T) {
	cfg := testConfig(t)
	tpl := parseTemplate(t, shopTemplate)
	PrepareSimulation(cfg, tpl)
	cfg.Participants[0].Simulator.Fail = []string{"deploy"}
	s := startServices(t, cfg)

	err := Simulate(context.Background(), s, tpl, SimulateOptions{
		Parameters: map[string]interface{}{"tag": "1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploy")
	assert.Contains(t, err.Error(), "FAILED")
}

func TestStartCommissionsTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yaml"), []byte(shopTemplate), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0644))

	cfg := testConfig(t)
	cfg.Templates.Directory = dir
	cfg.Participants = []config.ParticipantConfig{{
		ID: "sim", Kind: config.ParticipantSimulator, SupportedElementTypes: []string{"helm", "configmap"},
	}}
	s := startServices(t, cfg)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	def, err := s.Provider.FindDefinition(ctx, "shop", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "sim", def.Elements["frontend"].ParticipantID)
}

func TestTemplateWatcherRecommissions(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Templates = config.TemplatesConfig{Directory: dir, Watch: true}
	cfg.Participants = []config.ParticipantConfig{{
		ID: "sim", Kind: config.ParticipantSimulator, SupportedElementTypes: []string{"helm", "configmap"},
	}}
	s := startServices(t, cfg)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yaml"), []byte(shopTemplate), 0644))

	require.NoError(t, wait.PollUntilContextTimeout(ctx, 20*time.Millisecond, 10*time.Second, true,
		func(ctx context.Context) (bool, error) {
			_, err := s.Provider.FindDefinition(ctx, "shop", "1.0.0")
			return err == nil, nil
		}))
}

func TestStopWithoutStart(t *testing.T) {
	s, err := newServices(testConfig(t), clock.RealClock{})
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestBoltStorageSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.db")
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Driver: config.StorageBolt, Path: path}
	cfg.Participants = []config.ParticipantConfig{{
		ID: "sim", Kind: config.ParticipantSimulator, SupportedElementTypes: []string{"helm", "configmap"},
	}}
	ctx := context.Background()

	s, err := newServices(cfg, clock.RealClock{})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	_, err = s.Provider.Commission(ctx, parseTemplate(t, shopTemplate))
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx))

	reopened, err := newServices(cfg, clock.RealClock{})
	require.NoError(t, err)
	defer reopened.Stop(ctx)
	_, err = reopened.Provider.FindDefinition(ctx, "shop", "1.0.0")
	assert.NoError(t, err)
}

func TestUnknownStorageDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "etcd"
	_, err := newServices(cfg, clock.RealClock{})
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestNewApplicationLoadsConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
logging:
  level: warn
participants:
  - id: sim-1
    supportedElementTypes: [helm]
`), 0644))

	application, err := NewApplication(NewConfig(false, true, dir))
	require.NoError(t, err)
	defer application.Services().Stop(context.Background())

	services := application.Services()
	assert.Equal(t, filepath.Join(dir, "templates"), services.Config.Templates.Directory)
	require.Len(t, services.Participants, 1)
	assert.Equal(t, "sim-1", services.Participants[0].ID())
}

func TestNewApplicationRejectsBadLogLevel(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = "chatty"
	_, err := NewApplication(&Config{Silent: true, Conductor: &cfg})
	assert.ErrorContains(t, err, "invalid logging level")
}
