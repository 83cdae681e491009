package install

import (
	"context"
	"strings"

	"ubuild/internal/console"
	"ubuild/internal/execx"
)

// Hooks stops uprocd's services before an install and reloads the unit
// files after it. Failures are logged and otherwise ignored: a service
// that is not running must not block the install.
type Hooks struct {
	// Enabled is the auto_service option.
	Enabled   bool
	Systemctl string
	Cmd       execx.Commander
	Log       *console.Logger
}

// PreInstall stops cgrmvd and the user's uprocd slice.
func (h Hooks) PreInstall(ctx context.Context) {
	h.run(ctx,
		[]string{"stop", "cgrmvd"},
		[]string{"--user", "stop", "uprocd.slice"},
	)
}

// PostInstall reloads the system and user service managers.
func (h Hooks) PostInstall(ctx context.Context) {
	h.run(ctx,
		[]string{"daemon-reload"},
		[]string{"--user", "daemon-reload"},
	)
}

func (h Hooks) run(ctx context.Context, cmds ...[]string) {
	if !h.Enabled {
		return
	}
	if h.Systemctl == "" {
		h.Log.Warn("auto_service is set but systemctl was not found")
		return
	}
	for _, args := range cmds {
		argv := append([]string{h.Systemctl}, args...)
		h.Log.Step("systemctl", strings.Join(args, " "))
		if err := h.Cmd.Run(ctx, "", argv...); err != nil {
			h.Log.Warn("systemctl %s: %v", strings.Join(args, " "), err)
		}
	}
}
