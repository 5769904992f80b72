package vconvert

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorteil/rbdvhd/pkg/elog"
	"github.com/vorteil/rbdvhd/pkg/vhd"
)

func TestConfig(t *testing.T) {

	f, err := ioutil.TempFile("", "rbdvhd-*.yaml")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.WriteString("creator:\n  application: qemu\n  hostos: \"Mac \"\nextract:\n  split-at-blocks: true\nprogress: false\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	viper.Reset()
	defer viper.Reset()
	InitConfig(f.Name(), elog.Discard)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "qemu", cfg.CreatorApplication)
	assert.Equal(t, uint32(vhd.PlatformMac), cfg.CreatorHostOS)
	assert.True(t, cfg.SplitAtBlocks)
	assert.False(t, cfg.Progress)

}

func TestConfigNotExist(t *testing.T) {

	viper.Reset()
	defer viper.Reset()
	InitConfig("/does/not/exist.yaml", elog.Discard)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "vcli", cfg.CreatorApplication)
	assert.Equal(t, uint32(vhd.PlatformWi2k), cfg.CreatorHostOS)
	assert.False(t, cfg.SplitAtBlocks)
	assert.True(t, cfg.Progress)

}

func TestConfigInvalid(t *testing.T) {

	viper.Reset()
	defer viper.Reset()

	viper.Set(KeyCreatorApplication, "rbd2vhd")
	_, err := LoadConfig()
	assert.Error(t, err)

	viper.Set(KeyCreatorApplication, "tool")
	viper.Set(KeyCreatorHostOS, "Windows")
	_, err = LoadConfig()
	assert.Error(t, err)

	x, err := parseHostOS("Wi")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x57692020), x)

}
