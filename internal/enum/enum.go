// Package enum provides string flags restricted to a fixed set of options.
package enum

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// value implements pflag.Value. The first option is the default.
type value struct {
	options []string
	value   string
}

var _ pflag.Value = (*value)(nil)

func (e *value) String() string { return e.value }

func (e *value) Set(v string) error {
	v = strings.ToLower(v)
	if !slices.Contains(e.options, v) {
		return fmt.Errorf("must be one of %s", strings.Join(e.options, ", "))
	}
	e.value = v
	return nil
}

func (e *value) Type() string { return "enum" }

func Var(flags *pflag.FlagSet, name string, options []string, usage string) {
	VarP(flags, name, "", options, usage)
}

// VarP registers an enum flag defaulting to the first option.
func VarP(flags *pflag.FlagSet, name, shorthand string, options []string, usage string) {
	if len(options) == 0 {
		panic(fmt.Sprintf("enum flag %q needs at least one option", name))
	}
	flags.VarP(&value{options: options, value: options[0]}, name, shorthand,
		fmt.Sprintf("%s (must be one of %v)", usage, options))
}

// Get returns the current value of the enum flag name.
func Get(flags *pflag.FlagSet, name string) (string, error) {
	flag := flags.Lookup(name)
	if flag == nil {
		return "", fmt.Errorf("flag %q is not registered", name)
	}
	v, ok := flag.Value.(*value)
	if !ok {
		return "", fmt.Errorf("flag %q is not an enum", name)
	}
	return v.String(), nil
}
