package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()

	// Run from an empty directory so no stray config.yaml is picked up
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(name, content string) string {
	path := filepath.Join(suite.tempDir, name)
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultListenAddr, cfg.Server.Addr)
	assert.Equal(suite.T(), internal.DefaultDatabaseType, cfg.Database.Driver)
	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.Database.Path)
	assert.Equal(suite.T(), 5, cfg.Orchestrator.DefaultTopK)
	assert.Equal(suite.T(), 5, cfg.Orchestrator.HistoryTurns)
	assert.Equal(suite.T(), 5*time.Second, cfg.Orchestrator.RetrievalTimeout)
	assert.Equal(suite.T(), 0.3, cfg.Orchestrator.MinReferenceConfidence)
	assert.Equal(suite.T(), []string{"admin", "support_engineer"}, cfg.Guardrail.PrivilegedRoles)
	assert.Equal(suite.T(), "extractive", cfg.Generation.Provider)
	assert.Equal(suite.T(), 2*time.Second, cfg.Runtime.RateLimitRefillRate)
	assert.Equal(suite.T(), ".kbignore", cfg.Knowledge.IgnoreFile)
	assert.Equal(suite.T(), "/metrics", cfg.Metrics.Path)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configFile := suite.writeConfig("config.yaml", `
server:
  addr: ":9090"
database:
  driver: "sqlite"
  path: "test.db"
orchestrator:
  default_top_k: 3
  generation_timeout: "2s"
guardrail:
  privileged_roles: ["admin"]
  extra_rules:
    - pattern: "export.*all.*tickets"
      reason: "Bulk ticket export is not allowed"
`)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), ":9090", cfg.Server.Addr)
	assert.Equal(suite.T(), "sqlite", cfg.Database.Driver)
	assert.Equal(suite.T(), "test.db", cfg.Database.Path)
	assert.Equal(suite.T(), 3, cfg.Orchestrator.DefaultTopK)
	assert.Equal(suite.T(), 2*time.Second, cfg.Orchestrator.GenerationTimeout)
	assert.Equal(suite.T(), []string{"admin"}, cfg.Guardrail.PrivilegedRoles)
	require.Len(suite.T(), cfg.Guardrail.ExtraRules, 1)
	assert.Equal(suite.T(), "Bulk ticket export is not allowed", cfg.Guardrail.ExtraRules[0].Reason)
}

func (suite *ConfigTestSuite) TestEnvironmentOverridesDefaults() {
	suite.T().Setenv("GENERATION_PROVIDER", "genai")
	suite.T().Setenv("GENERATION_API_KEY", "test-key")
	suite.T().Setenv("ORCHESTRATOR_HISTORY_TURNS", "2")

	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "genai", cfg.Generation.Provider)
	assert.Equal(suite.T(), "test-key", cfg.Generation.APIKey)
	assert.Equal(suite.T(), 2, cfg.Orchestrator.HistoryTurns)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	configFile := suite.writeConfig("malformed.yaml", `
server:
  addr: ":9090"
  invalid_yaml: [unclosed bracket
`)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestValidateRejectsBadValues() {
	configFile := suite.writeConfig("bad.yaml", `
database:
  driver: "postgres"
`)
	_, err := LoadConfig(configFile)
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "database.driver")

	configFile = suite.writeConfig("bad-genai.yaml", `
generation:
  provider: "genai"
`)
	_, err = LoadConfig(configFile)
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "api_key")

	configFile = suite.writeConfig("bad-topk.yaml", `
orchestrator:
  default_top_k: 50
`)
	_, err = LoadConfig(configFile)
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "default_top_k")
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		cfg, err := LoadConfig("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
