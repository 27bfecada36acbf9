// Package workerstack resolves the per-role thread stack size overrides
// named in spec.md §6 (<ROLE>_THREAD_STACK_SIZE). Go's scheduler does not
// let a caller size a goroutine's stack, so this package cannot honor the
// value — it only parses and logs it for operational parity with the
// original host-language deployment, where the variable really did size
// an OS thread's stack.
package workerstack

import (
	"log/slog"
	"os"
	"strconv"
)

// Role names used to build the <ROLE>_THREAD_STACK_SIZE environment
// variable, matching spec.md §6.
const (
	RoleDemuxer  = "DEMUXER"
	RoleEncoder  = "ENCODER"
	RoleMuxer    = "MUXER"
	RoleProducer = "PRODUCER"
)

// Resolve reads <role>_THREAD_STACK_SIZE and logs it.
// It returns the parsed value (bytes) and whether it was set; callers
// have nothing to apply it to, since Go goroutines share the scheduler's
// default stack sizing.
func Resolve(logger *slog.Logger, role string) (int, bool) {
	name := role + "_THREAD_STACK_SIZE"
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}

	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		logger.Warn("ignoring invalid thread stack size override",
			slog.String("env", name),
			slog.String("value", raw),
		)
		return 0, false
	}

	logger.Info("thread stack size override requested but not honored by the Go runtime",
		slog.String("env", name),
		slog.Int("bytes", size),
	)
	return size, true
}
