// Package autoload configures the global logger from the environment as a
// side effect of being imported.
package autoload

import (
	"github.com/kelseyhightower/envconfig"

	logx "github.com/tanpawarit/Chative-Support-Supervisor/pkg/logger"
)

func init() {
	var cfg logx.Config
	_ = envconfig.Process("LOG", &cfg)
	logx.Init(cfg)
}
