package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// The user-wide file sits under the home directory and is shared by every
// workspace. It can hold the server token, so it is kept private.
const (
	globalDirName  = ".tasksync"
	globalFileName = "config"
	globalFileMode = 0o600
)

// GlobalDir returns the user-wide tasksync directory, ~/.tasksync. It falls
// back to a relative .tasksync when the home directory is unknown.
func GlobalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return globalDirName
	}
	return filepath.Join(home, globalDirName)
}

// GlobalPath returns the user-wide dotenv file.
func GlobalPath() string {
	return filepath.Join(GlobalDir(), globalFileName)
}

// LoadGlobal resolves a Config from the user-wide file and the environment
// only. Like Load, an invalid config comes back together with the error.
func LoadGlobal() (*Config, error) {
	values, err := readEnvFile(GlobalPath())
	if err != nil {
		return nil, err
	}
	cfg := build(func(key string) string { return getValue(values, key) })
	return cfg, cfg.Validate()
}

// SetGlobal stores key in the user-wide file, creating it when needed.
func SetGlobal(key, value string) error {
	return editEnvFile(GlobalPath(), globalFileMode, func(values map[string]string) {
		values[key] = value
	})
}

// UnsetGlobal removes key from the user-wide file.
func UnsetGlobal(key string) error {
	return editEnvFile(GlobalPath(), globalFileMode, func(values map[string]string) {
		delete(values, key)
	})
}

// GetGlobal returns the value stored for key in the user-wide file.
func GetGlobal(key string) (string, error) {
	return lookupEnvFile(GlobalPath(), key)
}

// readEnvFile parses a dotenv file. A missing file reads as empty.
func readEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	switch {
	case err == nil:
		return values, nil
	case errors.Is(err, fs.ErrNotExist):
		return map[string]string{}, nil
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
}

// editEnvFile applies edit to the parsed file and writes it back with mode.
func editEnvFile(path string, mode os.FileMode, edit func(map[string]string)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	values, err := readEnvFile(path)
	if err != nil {
		return err
	}
	edit(values)
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chmod(path, mode)
}

func lookupEnvFile(path, key string) (string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	value, ok := values[key]
	if !ok {
		return "", fmt.Errorf("key %q is not set in %s", key, path)
	}
	return value, nil
}
