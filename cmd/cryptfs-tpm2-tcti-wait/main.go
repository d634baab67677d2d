// cryptfs-tpm2-tcti-wait blocks until a TPM resource manager is reachable,
// for use as an ExecStartPre-style gate in front of cryptfs-tpm2. It
// watches the resource-manager device node for creation with fsnotify to
// log progress, then defers to tpm.WaitForTabrmd's poll loop as the source
// of truth for readiness (a device node's existence doesn't prove a
// resource manager is actually listening on it).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"cryptfs-tpm2/internal/tpm"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "maximum time to wait for the resource manager")
	quiet := flag.Bool("q", false, "suppress progress output")
	flag.Parse()

	// This binary only polls and exits; raising its own priority (nice -5)
	// shaves a little latency off noticing the resource manager come up on
	// a busy boot, at the cost of a little more CPU share while it runs. Failure
	// is not fatal: unprivileged callers cannot lower their nice value
	// below 0 and that's fine, the poll loop still works at the default.
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -5); err != nil && !*quiet {
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2-tcti-wait: could not raise priority: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if !*quiet {
		go watchForDeviceNode(ctx)
	}

	if err := tpm.WaitForTabrmd(ctx, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2-tcti-wait: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Fprintln(os.Stderr, "cryptfs-tpm2-tcti-wait: resource manager ready")
	}
}

// watchForDeviceNode logs a single line as soon as the resource-manager
// device node appears, so an operator watching the unit's startup log gets
// feedback well before the poll loop's next tick confirms readiness. Best
// effort: a watcher that fails to start (missing /dev, permissions) just
// means no early progress line, not a failure to wait.
func watchForDeviceNode(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(tpm.ResourceManagerDevicePath)); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create) != 0 && ev.Name == tpm.ResourceManagerDevicePath {
				fmt.Fprintln(os.Stderr, "cryptfs-tpm2-tcti-wait: device node present, confirming resource manager")
				return
			}
		case <-watcher.Errors:
		case <-ctx.Done():
			return
		}
	}
}
