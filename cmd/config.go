package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/mnemo/pkg/auth"
	"github.com/theapemachine/mnemo/pkg/embedding"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/logging"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/orchestrator"
	"github.com/theapemachine/mnemo/pkg/provider"
	"github.com/theapemachine/mnemo/pkg/retrieval"
	"github.com/theapemachine/mnemo/pkg/service"
	"github.com/theapemachine/mnemo/pkg/stores/qdrant"
	"github.com/theapemachine/mnemo/pkg/stores/s3"
	"github.com/theapemachine/mnemo/pkg/tools"
)

type StoreConfig struct {
	Driver     string        `mapstructure:"driver"`
	Path       string        `mapstructure:"path"`
	Index      string        `mapstructure:"index"`
	VectorsDir string        `mapstructure:"vectors"`
	Overfetch  int           `mapstructure:"overfetch"`
	Qdrant     qdrant.Config `mapstructure:"qdrant"`
}

/*
VectorPath is where the embedded index persists. It defaults to a directory
next to the database file.
*/
func (cfg StoreConfig) VectorPath() string {
	if cfg.VectorsDir != "" {
		return cfg.VectorsDir
	}

	return filepath.Join(filepath.Dir(cfg.Path), "vectors")
}

type ToolsConfig struct {
	tools.BridgeConfig `mapstructure:",squash"`
	Search             struct {
		Endpoint string        `mapstructure:"endpoint"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"search"`
}

type ServerConfig struct {
	HTTP service.Config `mapstructure:",squash"`
	Auth auth.Config    `mapstructure:",squash"`
}

/*
Config mirrors cfg/config.yml.
*/
type Config struct {
	Logging   logging.Config   `mapstructure:"logging"`
	Store     StoreConfig      `mapstructure:"store"`
	Embedding embedding.Config `mapstructure:"embedding"`
	Episode   struct {
		Window time.Duration `mapstructure:"window"`
	} `mapstructure:"episode"`
	Retrieval    retrieval.Config       `mapstructure:"retrieval"`
	Tools        ToolsConfig            `mapstructure:"tools"`
	Provider     provider.ManagerConfig `mapstructure:"provider"`
	Providers    []provider.Config      `mapstructure:"providers"`
	Orchestrator orchestrator.Config    `mapstructure:"orchestrator"`
	Server       ServerConfig           `mapstructure:"server"`
	Export       s3.Config              `mapstructure:"export"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.KindFatalConfig, err, "invalid configuration")
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = provider.DefaultCatalogue()
	}

	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Store.VectorsDir = expandHome(cfg.Store.VectorsDir)

	return cfg, nil
}

/*
scopeFlags reads the --user and --persona flags shared by several commands.
*/
func scopeFlags(cmd *cobra.Command) memory.Scope {
	user, _ := cmd.Flags().GetString("user")
	persona, _ := cmd.Flags().GetString("persona")

	return memory.Scope{User: user, Persona: persona}
}

func tierFlag(cmd *cobra.Command) (provider.Tier, error) {
	name, _ := cmd.Flags().GetString("tier")
	return provider.ParseTier(name)
}
