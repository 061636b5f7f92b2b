package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const postgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway postgres through the Docker CLI on a
// port docker picks, and returns its connection string and a cleanup func.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return "", nil, errNoDocker
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=carecoord",
		"-e", "POSTGRES_PASSWORD=carecoord",
		"-e", "POSTGRES_DB=carecoord_test",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w: %s", postgresImage, err, out)
	}
	id := strings.TrimSpace(string(out))
	stop := func() { _ = exec.Command("docker", "stop", id).Run() }

	hostPort, err := mappedPort(ctx, id)
	if err != nil {
		stop()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://carecoord:carecoord@%s/carecoord_test?sslmode=disable", hostPort)
	if err := awaitReady(ctx, connStr, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

// mappedPort asks docker which host address it bound to the container's 5432.
func mappedPort(ctx context.Context, id string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	// One line per binding, e.g. "127.0.0.1:55012".
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if first == "" {
		return "", fmt.Errorf("no port binding for container %s", id)
	}
	return first, nil
}

// awaitReady retries a single connection until postgres answers or the
// deadline passes. The image restarts the server once during init, so one
// successful ping is not proof on its own; two in a row are required.
func awaitReady(ctx context.Context, connStr string, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()

	ok := 0
	for {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(ctx)
		}
		if err == nil {
			ok++
			if ok == 2 {
				return nil
			}
		} else {
			ok = 0
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", within, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}
