package app

// Compiled-in modules. Each registers itself with core from init().
import (
	_ "github.com/flemzord/mtpsched/internal/gateway"
	_ "github.com/flemzord/mtpsched/modules/job/exec"
	_ "github.com/flemzord/mtpsched/modules/job/webhook"
	_ "github.com/flemzord/mtpsched/modules/store/memory"
	_ "github.com/flemzord/mtpsched/modules/store/postgres"
	_ "github.com/flemzord/mtpsched/modules/store/sqlite"
)
