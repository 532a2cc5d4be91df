// Package docker manages the development database containers behind the
// postgres and neo4j store backends, using the Docker CLI.
package docker

import (
	"bytes"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// ContainerConfig describes a database container.
type ContainerConfig struct {
	Name  string
	Image string
	// Ports are host:container mappings.
	Ports []string
	Env   map[string]string
	// ReadyLog is the log line that marks the database as accepting connections.
	ReadyLog string
}

// Neo4jContainer returns the container for the neo4j store backend.
func Neo4jContainer(name, image, username, password string) *ContainerConfig {
	return &ContainerConfig{
		Name:     name,
		Image:    image,
		Ports:    []string{"7687:7687", "7474:7474"},
		Env:      map[string]string{"NEO4J_AUTH": username + "/" + password},
		ReadyLog: "Started.",
	}
}

// PostgresContainer returns the container for the postgres store backend.
func PostgresContainer(name, image, username, password, database, port string) *ContainerConfig {
	if port == "" {
		port = "5432"
	}
	return &ContainerConfig{
		Name:  name,
		Image: image,
		Ports: []string{port + ":5432"},
		Env: map[string]string{
			"POSTGRES_USER":     username,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       database,
		},
		ReadyLog: "database system is ready to accept connections",
	}
}

// Validate checks that all required fields are set.
func (c *ContainerConfig) Validate() error {
	var missing []string

	if c.Name == "" {
		missing = append(missing, "Name")
	}
	if c.Image == "" {
		missing = append(missing, "Image")
	}
	for k, v := range c.Env {
		if v == "" || strings.HasSuffix(v, "/") {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RunArgs returns the docker run arguments for the container.
func (c *ContainerConfig) RunArgs() []string {
	args := []string{"run", "-d", "--name", c.Name}
	for _, p := range c.Ports {
		args = append(args, "-p", p)
	}
	for _, k := range sortedKeys(c.Env) {
		args = append(args, "-e", k+"="+c.Env[k])
	}
	return append(args, c.Image)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsDockerAvailable checks if Docker is installed and accessible.
func IsDockerAvailable() bool {
	return exec.Command("docker", "version").Run() == nil
}

func run(what string, args ...string) error {
	cmd := exec.Command("docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to %s: %w (stderr: %s)", what, err, stderr.String())
	}
	return nil
}

func listNames(all bool, name string) (string, error) {
	args := []string{"ps"}
	if all {
		args = append(args, "-a")
	}
	args = append(args, "--filter", fmt.Sprintf("name=^%s$", name), "--format", "{{.Names}}")
	output, err := exec.Command("docker", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// ContainerExists checks if a container with the given name exists.
func ContainerExists(name string) (bool, error) {
	out, err := listNames(true, name)
	if err != nil {
		return false, fmt.Errorf("failed to check container existence: %w", err)
	}
	return out == name, nil
}

// IsContainerRunning checks if a container is currently running.
func IsContainerRunning(name string) (bool, error) {
	out, err := listNames(false, name)
	if err != nil {
		return false, fmt.Errorf("failed to check container status: %w", err)
	}
	return out == name, nil
}

// CreateContainer creates and starts a new container.
func CreateContainer(config *ContainerConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid container config: %w", err)
	}
	return run("create container", config.RunArgs()...)
}

// StartContainer starts an existing container.
func StartContainer(name string) error {
	return run("start container", "start", name)
}

// StopContainer stops a running container.
func StopContainer(name string) error {
	return run("stop container", "stop", name)
}

// RemoveContainer removes a container (must be stopped first).
func RemoveContainer(name string) error {
	return run("remove container", "rm", name)
}

// EnsureContainer ensures that the container is running, creating or
// starting it as needed. It reports whether the container was created.
func EnsureContainer(config *ContainerConfig) (created bool, err error) {
	if !IsDockerAvailable() {
		return false, fmt.Errorf("docker is not available, please install Docker and ensure it is running")
	}
	if err := config.Validate(); err != nil {
		return false, fmt.Errorf("invalid container config: %w", err)
	}

	exists, err := ContainerExists(config.Name)
	if err != nil {
		return false, err
	}
	if !exists {
		if err := CreateContainer(config); err != nil {
			return false, err
		}
		return true, nil
	}

	running, err := IsContainerRunning(config.Name)
	if err != nil {
		return false, err
	}
	if !running {
		if err := StartContainer(config.Name); err != nil {
			return false, err
		}
	}
	return false, nil
}

// WaitForContainer polls the container logs until ReadyLog appears.
func WaitForContainer(config *ContainerConfig, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		running, err := IsContainerRunning(config.Name)
		if err != nil {
			return err
		}
		if !running {
			return fmt.Errorf("container %s is not running", config.Name)
		}

		output, err := exec.Command("docker", "logs", config.Name).CombinedOutput()
		if err == nil && strings.Contains(string(output), config.ReadyLog) {
			return nil
		}
		time.Sleep(time.Second)
	}

	return fmt.Errorf("timeout waiting for container %s to be ready", config.Name)
}
