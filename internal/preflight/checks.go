package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sys/unix"

	"ctscribe/internal/config"
	"ctscribe/internal/deps"
	"ctscribe/internal/keypool"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries the worker executes.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.WorkerRequirements(cfg.Workflow.FFmpegBinary, cfg.Speech.Command, cfg.Speech.MockRecognition))
}

// CheckCredentials parses the subscription key list.
func CheckCredentials(spec string) Result {
	const name = "Speech credentials"
	creds, err := keypool.ParseCredentials(spec)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	regions := make([]string, 0, len(creds))
	for _, c := range creds {
		regions = append(regions, c.Region)
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d key(s): %s", len(creds), strings.Join(regions, ", "))}
}

// CheckBroker verifies the configured transport can be reached.
func CheckBroker(ctx context.Context, cfg *config.Config) Result {
	if cfg.Broker.Driver == "sqlite" {
		return checkSQLiteQueue(cfg.QueueDBPath())
	}
	return CheckAMQP(ctx, cfg.Broker.URL)
}

// CheckAMQP opens a TCP connection to the broker named by url.
func CheckAMQP(ctx context.Context, url string) Result {
	const name = "RabbitMQ"
	uri, err := amqp.ParseURI(url)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	addr := net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", addr)}
}

func checkSQLiteQueue(path string) Result {
	const name = "Local queue"
	result := CheckDirectoryAccess(name, filepath.Dir(path))
	if result.Passed {
		result.Detail = path
	}
	return result
}

// CheckS3Config verifies S3 publication settings are complete.
func CheckS3Config(storage config.Storage) Result {
	const name = "S3 publication"
	if strings.TrimSpace(storage.S3Bucket) == "" {
		return Result{Name: name, Detail: "missing bucket"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("s3://%s/%s", storage.S3Bucket, strings.Trim(storage.S3Prefix, "/"))}
}
