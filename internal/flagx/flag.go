// Package flagx contains helpers for components that each parse only their
// own subset of the process command line.
package flagx

import (
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// FilterArgs returns the arguments that belong to allowedFlags, keeping the
// values that follow them.
//
// Supported forms:
//  1. flag and value as separate arguments: -c conf.json
//  2. flag and value joined with '=':       --config=conf.json
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			// the next token is a value unless it looks like another flag
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// NewFlagSet returns a quiet pflag set that reports errors instead of
// exiting, so callers decide how to fail.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// ConfigPath extracts the config file path given with -c or --config.
// It returns an empty string when neither is present.
func ConfigPath(args []string) string {
	var config string

	fs := NewFlagSet("config")
	fs.StringVarP(&config, "config", "c", "", "path to config file")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "--config"}))

	return config
}
