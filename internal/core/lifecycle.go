package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept YAML configuration.
// node is the module's section under `modules:`; Configure runs before
// Provision and only when that section exists.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that need setup after instantiation.
// Modules open connections here and publish what they provide through
// AppContext.RegisterService.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration
// is complete and correct. Called after Provision().
// Validate should be read-only, with no side effects.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules with background work, such as the
// gateway listener or the cycle trigger. Start runs once every module is
// loaded.
type Starter interface {
	Start() error
}

// Stopper releases what Provision or Start acquired. Modules are stopped
// in reverse load order.
type Stopper interface {
	Stop(ctx context.Context) error
}
