package models

import (
	"fmt"
	"sort"
	"strings"
)

// LocalAction selects what the local emulator does.
type LocalAction string

const (
	LocalStart  LocalAction = "start"
	LocalStop   LocalAction = "stop"
	LocalRemove LocalAction = "remove"
	LocalStatus LocalAction = "status"
)

// GenDataParams sizes the data-generation payload run in each container.
type GenDataParams struct {
	Partition  int
	Size       int
	SizeUnit   string
	RecordSize int
	MaxJobs    int
}

// LogTarget selects the single node whose output the logs operation reads.
// Exactly one of Address or Node is set.
type LogTarget struct {
	Address string
	Node    *[2]int
}

// Request carries the caller-supplied parameters of one operation. It is
// built once and read-only afterwards.
type Request struct {
	ConfigPath string
	Image      string
	NoPull     bool
	User       string
	Env        map[string]string

	Logs   LogTarget
	Follow bool

	Local   bool
	Action  LocalAction
	GenData GenDataParams
}

// ParseEnv turns ["K1=a", "K2=b"] into a map. Values may contain '='.
func ParseEnv(envs []string) (map[string]string, error) {
	out := make(map[string]string, len(envs))
	for _, env := range envs {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEnv, env)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}

// EnvList renders env as KEY=VALUE pairs in a stable order.
func EnvList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
