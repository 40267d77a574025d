package testutil

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// CleanupLabel is used to identify containers created by tests.
	CleanupLabel = "eraflow-test"

	gcsImage         = "fsouza/fake-gcs-server:latest"
	gcsContainerPort = "4443/tcp"
)

// TestingT is a subset of testing.T used for Docker setup.
type TestingT interface {
	Name() string
	Cleanup(func())
	Logf(format string, args ...any)
	Helper()
}

// DockerClient creates a Docker client and registers cleanup for this test's
// containers.
func DockerClient(t TestingT) *client.Client {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		panic(fmt.Sprintf("failed to create docker client: %v", err))
	}

	// Verify Docker is running
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		panic(fmt.Sprintf("docker is not running: %v", err))
	}

	t.Cleanup(func() {
		cleanupTestContainers(t, cli)
	})

	return cli
}

// GCSEmulator is a fake-gcs-server container for object store integration
// tests.
type GCSEmulator struct {
	cli      *client.Client
	hostPort string
}

// StartGCSEmulator starts a fake-gcs-server container bound to a host port
// and waits for it to accept requests. The container is labeled for cleanup
// via DockerClient's registered hook.
func StartGCSEmulator(ctx context.Context, t TestingT, hostPort string) (*GCSEmulator, error) {
	t.Helper()
	cli := DockerClient(t)

	m := &GCSEmulator{cli: cli, hostPort: hostPort}
	if err := m.ensureImage(ctx); err != nil {
		return nil, err
	}

	containerConfig := &container.Config{
		Image: gcsImage,
		Cmd: []string{
			"-scheme", "http",
			"-port", "4443",
			"-public-host", "localhost:" + hostPort,
		},
		Labels: map[string]string{CleanupLabel: t.Name()},
		ExposedPorts: nat.PortSet{
			gcsContainerPort: struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			gcsContainerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: hostPort},
			},
		},
	}

	name := uniqueContainerName(t, "gcs")
	resp, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	if err := m.waitForReady(ctx, 30*time.Second); err != nil {
		return nil, err
	}
	return m, nil
}

// URL returns the emulator's HTTP endpoint.
func (m *GCSEmulator) URL() string {
	return fmt.Sprintf("http://localhost:%s", m.hostPort)
}

// CreateBucket creates a bucket in the emulator.
func (m *GCSEmulator) CreateBucket(ctx context.Context, name string) error {
	body := bytes.NewReader([]byte(fmt.Sprintf(`{"name":%q}`, name)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.URL()+"/storage/v1/b?project=test", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create bucket: status %d", resp.StatusCode)
	}
	return nil
}

// waitForReady polls the emulator until it accepts requests.
func (m *GCSEmulator) waitForReady(ctx context.Context, timeout time.Duration) error {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	url := m.URL() + "/storage/v1/b?project=test"

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(1*time.Second),
	)
}

// ensureImage pulls the emulator image if not present.
func (m *GCSEmulator) ensureImage(ctx context.Context) error {
	_, err := m.cli.ImageInspect(ctx, gcsImage)
	if err == nil {
		return nil
	}

	reader, err := m.cli.ImagePull(ctx, gcsImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain reader to complete pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// cleanupTestContainers removes all containers created by this test.
func cleanupTestContainers(t TestingT, cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", CleanupLabel, t.Name()))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		t.Logf("Failed to list containers for cleanup: %v", err)
		return
	}

	for _, c := range containers {
		timeout := 10
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			t.Logf("Failed to stop container %s: %v", c.Names[0], err)
		}
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); err != nil {
			t.Logf("Failed to remove container %s: %v", c.Names[0], err)
		} else {
			t.Logf("Cleaned up container: %s", c.Names[0])
		}
	}
}

// uniqueContainerName generates a unique container name for a test.
func uniqueContainerName(t TestingT, prefix string) string {
	t.Helper()
	return fmt.Sprintf("eraflow-test-%s-%s-%s", prefix, sanitizeName(t.Name()), randString(4))
}

// randString generates a random hex string of n bytes.
func randString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// sanitizeName converts a test name to a valid container name component.
func sanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			result = append(result, c)
		} else if c == '/' || c == '_' || c == '-' {
			result = append(result, '-')
		}
	}
	if len(result) > 30 {
		result = result[:30]
	}
	return string(result)
}
