package runtime

import (
	"os"
	"sync"
)

// envGuard serializes installation of a function's environment into
// the shared process environment and guarantees its restoration.
// os.Setenv/Unsetenv mutate global process state, so — unlike the
// per-stack locking in internal/orchestrator, which is keyed per
// resource — there is exactly one shared resource here, and a keyed
// per-resource mutex collapses to a single plain sync.Mutex held for
// the duration of one invocation.
var envGuard sync.Mutex

// installEnv sets vars in the process environment and returns a
// restore function that undoes exactly that change, including
// re-removing any key that was previously absent. The returned
// function also releases the lock installEnv acquired, so callers
// defer it and do not unlock envGuard themselves.
func installEnv(vars map[string]string) (unlock func()) {
	envGuard.Lock()

	prior := make(map[string]*string, len(vars))
	for k, v := range vars {
		if old, ok := os.LookupEnv(k); ok {
			oldCopy := old
			prior[k] = &oldCopy
		} else {
			prior[k] = nil
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, old := range prior {
			if old == nil {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, *old)
			}
		}
		envGuard.Unlock()
	}
}
