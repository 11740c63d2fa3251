package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".memedit"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Width is the integer width, in bytes, used when the session starts.
	Width *int `yaml:"width,omitempty"`
	// Type is the data type used when the session starts (int, float or
	// string).
	Type string `yaml:"type,omitempty"`

	// MaxDumpLen is the maximum number of bytes the dump command reads.
	MaxDumpLen *int `yaml:"max-dump-len,omitempty"`

	// ExcludePaths lists path prefixes of mappings that are never scanned.
	// If unset shared libraries under /usr/lib and /lib are excluded.
	ExcludePaths []string `yaml:"exclude-paths"`

	// Address color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	AddressColor int `yaml:"address-color"`

	// HistoryFile is where the command history is kept. Relative paths are
	// relative to the configuration directory.
	HistoryFile string `yaml:"history-file,omitempty"`
}

const defaultHistoryFile = ".memedit_history"

// GetWidth returns the configured width or def.
func (c *Config) GetWidth(def int) int {
	if c.Width == nil {
		return def
	}
	return *c.Width
}

// GetMaxDumpLen returns the configured maximum dump length or def.
func (c *Config) GetMaxDumpLen(def int) int {
	if c.MaxDumpLen == nil || *c.MaxDumpLen <= 0 {
		return def
	}
	return *c.MaxDumpLen
}

// GetHistoryFilePath returns the absolute path of the history file.
func (c *Config) GetHistoryFilePath() (string, error) {
	name := c.HistoryFile
	if name == "" {
		name = defaultHistoryFile
	}
	if path.IsAbs(name) {
		return name, nil
	}
	return GetConfigFilePath(name)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	c, err := loadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// loadConfigFrom reads the configuration at fullConfigFile, creating a
// default one if it does not exist.
func loadConfigFrom(fullConfigFile string) (*Config, error) {
	f, err := os.Open(fullConfigFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("unable to open config file: %v", err)
		}
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigTo(conf, fullConfigFile)
}

func saveConfigTo(conf *Config, fullConfigFile string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for memedit.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for addresses in the (list) and (regions) commands (if unset, default is 34,
# dark blue) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# address-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Integer width in bytes (1, 2, 4 or 8) and data type (int, float or string)
# used when a session starts.
# width: 4
# type: int

# Maximum number of bytes read by the dump command.
# max-dump-len: 4096

# Mappings whose path starts with one of these prefixes are never scanned.
# exclude-paths: ["/usr/lib/", "/usr/lib64/", "/lib/", "/lib64/"]

# File used to save the command history, relative to this directory.
# history-file: .memedit_history
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("MEMEDIT_CONFIG_DIR"); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
