// Package flagenv fills unset command line flags from the environment.
package flagenv

import (
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

// Apply sets every flag of fs not given on the command line from the
// environment variable named by prefix and the flag name in upper case,
// dashes replaced by underscores. It must be called after fs.Parse.
func Apply(fs *pflag.FlagSet, prefix string) error {
	return apply(fs, prefix, os.LookupEnv)
}

func apply(fs *pflag.FlagSet, prefix string, lookup func(string) (string, bool)) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		name := EnvName(prefix, f.Name)
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		if serr := fs.Set(f.Name, v); serr != nil {
			err = errors.Annotatef(serr, "%s", name)
		}
	})
	return err
}

// EnvName returns the variable consulted for flag.
func EnvName(prefix, flag string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flag), "-", "_")
}
