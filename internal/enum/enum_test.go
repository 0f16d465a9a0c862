package enum

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestEnum(t *testing.T) {
	r := require.New(t)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	VarP(flags, "output", "o", []string{"table", "yaml", "json"}, "output format")
	flags.String("plain", "", "")

	v, err := Get(flags, "output")
	r.NoError(err)
	r.Equal("table", v)

	r.NoError(flags.Parse([]string{"-o", "JSON"}))
	v, err = Get(flags, "output")
	r.NoError(err)
	r.Equal("json", v)

	err = flags.Parse([]string{"--output", "xml"})
	r.ErrorContains(err, "must be one of table, yaml, json")

	_, err = Get(flags, "missing")
	r.ErrorContains(err, "not registered")
	_, err = Get(flags, "plain")
	r.ErrorContains(err, "not an enum")

	r.Panics(func() { Var(flags, "empty", nil, "") })
}
