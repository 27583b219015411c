package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	Foo string        `yaml:"foo"`
	Bar string        `yaml:"bar"`
	Sub fakeSubConfig `yaml:"sub"`
}

type fakeSubConfig struct {
	Car int `yaml:"car"`
}

func writeConfig(t *testing.T, s string) string {
	f, err := os.CreateTemp(t.TempDir(), "tether")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(s)
	require.NoError(t, err)
	return f.Name()
}

func TestLoad(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		path := writeConfig(t, `foo: val1
bar: val2
sub:
  car: 5`)

		var conf fakeConfig
		assert.NoError(t, Load(&conf, path, false))

		assert.Equal(t, "val1", conf.Foo)
		assert.Equal(t, "val2", conf.Bar)
		assert.Equal(t, 5, conf.Sub.Car)
	})

	t.Run("expand env", func(t *testing.T) {
		t.Setenv("TETHER_VAL1", "val1")
		t.Setenv("TETHER_VAL2", "val2")

		path := writeConfig(t, `foo: $TETHER_VAL1
bar: ${TETHER_VAL2}
sub:
  car: ${TETHER_VAL3:5}`)

		var conf fakeConfig
		assert.NoError(t, Load(&conf, path, true))

		assert.Equal(t, "val1", conf.Foo)
		assert.Equal(t, "val2", conf.Bar)
		assert.Equal(t, 5, conf.Sub.Car)
	})

	t.Run("expand env set overrides default", func(t *testing.T) {
		t.Setenv("TETHER_CAR", "8")

		path := writeConfig(t, `sub:
  car: ${TETHER_CAR:5}`)

		var conf fakeConfig
		assert.NoError(t, Load(&conf, path, true))
		assert.Equal(t, 8, conf.Sub.Car)
	})

	t.Run("no expand", func(t *testing.T) {
		t.Setenv("TETHER_VAL1", "val1")

		path := writeConfig(t, `foo: $TETHER_VAL1`)

		var conf fakeConfig
		assert.NoError(t, Load(&conf, path, false))
		assert.Equal(t, "$TETHER_VAL1", conf.Foo)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, `unknown: xyz`)

		var conf fakeConfig
		assert.Error(t, Load(&conf, path, false))
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, `invalid yaml...`)

		var conf fakeConfig
		assert.Error(t, Load(&conf, path, false))
	})

	t.Run("not found", func(t *testing.T) {
		var conf fakeConfig
		assert.Error(t, Load(&conf, "/a/b/c/notfound", false))
	})
}

func TestConfig_RegisterFlags(t *testing.T) {
	var conf Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--config.path", "/etc/tether.yaml",
		"--config.expand-env",
	}))
	assert.Equal(t, "/etc/tether.yaml", conf.Path)
	assert.True(t, conf.ExpandEnv)
}
