package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rootlayer/overlayd/lib/logger"
)

// managerInstallMaxElapsed bounds how long InstallManager keeps retrying
// pm install before giving up (SPEC_FULL.md §4.11 replaces the source's
// unbounded `while (1) sleep(5)` loop with a bounded backoff so a wedged
// package manager can't hang late-start forever).
const managerInstallMaxElapsed = 10 * time.Minute

// ManagerInstaller runs the manager APK install command (spec.md §4.9:
// "out of scope: the manager-APK install command itself"; only the
// handoff and its retry policy are in scope here) and returns its
// combined output.
type ManagerInstaller interface {
	Install(ctx context.Context) (output string, err error)
}

// InstallManager retries installer.Install with exponential backoff until
// its output no longer contains "Error:" (spec.md §4.9's literal readiness
// check against pm's own output, used because the Android package manager
// service isn't guaranteed to be up yet at late-start), or until
// managerInstallMaxElapsed passes.
func InstallManager(ctx context.Context, installer ManagerInstaller) error {
	log := logger.FromContext(ctx)

	op := func() (string, error) {
		out, err := installer.Install(ctx)
		if err != nil {
			return "", err
		}
		if strings.Contains(out, "Error:") {
			log.InfoContext(ctx, "manager install not ready, retrying", slog.String("output", out))
			return "", fmt.Errorf("pm not ready: %s", out)
		}
		return out, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(managerInstallMaxElapsed),
	)
	return err
}
