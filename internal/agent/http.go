package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// Envelope is the response body of every agent daemon endpoint.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ProvisionRequest is the body of POST /api/v1/provision.
type ProvisionRequest struct {
	Dir string `json:"dir"`
}

// HTTPTransport talks to "roobench agent serve" on each host.
type HTTPTransport struct {
	client *http.Client
	scheme string
	port   int
	logger *slog.Logger
}

// NewHTTPTransport uses client, or http.DefaultClient when nil. Host
// addresses that already carry a port are used as is.
func NewHTTPTransport(scheme string, port int, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if scheme == "" {
		scheme = "http"
	}
	return &HTTPTransport{client: client, scheme: scheme, port: port, logger: logger.WithComponent("HTTP")}
}

func (t *HTTPTransport) endpoint(host snapshot.Host, p string, query url.Values) string {
	addr := host.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(t.port))
	}
	u := url.URL{Scheme: t.scheme, Host: addr, Path: p}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call performs one request and decodes the envelope data into out.
func (t *HTTPTransport) call(ctx context.Context, host snapshot.Host, method, target string, body any, out any) (*Envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, deliveryError(ctx, host, err, "%s %s", method, target)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "%s %s: status %d, undecodable body", method, target, resp.StatusCode).ForHost(host.Name)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, faults.Wrap(faults.Connectivity, err, "%s %s: bad data", method, target).ForHost(host.Name)
		}
	}
	return &env, nil
}

func (t *HTTPTransport) Provision(ctx context.Context, host snapshot.Host, dir string) error {
	env, err := t.call(ctx, host, http.MethodPost, t.endpoint(host, "/api/v1/provision", nil), ProvisionRequest{Dir: dir}, nil)
	if err != nil {
		return err
	}
	if env.Code != 0 {
		return faults.New(faults.Connectivity, "provision %s: %s", dir, env.Message).ForHost(host.Name)
	}
	return nil
}

func (t *HTTPTransport) Send(ctx context.Context, host snapshot.Host, cmd Command) (Ack, error) {
	if err := checkCommand(host, cmd); err != nil {
		return Ack{}, err
	}
	var ack Ack
	env, err := t.call(ctx, host, http.MethodPost, t.endpoint(host, "/api/v1/commands/"+string(cmd.Kind), nil), cmd, &ack)
	if err != nil {
		return Ack{}, err
	}
	if ack.Kind == "" {
		return Ack{}, faults.New(faults.Connectivity, "%s: %s", describe(host, cmd), env.Message).ForHost(host.Name)
	}
	return fillAck(ack, host, cmd), nil
}

func (t *HTTPTransport) Collect(ctx context.Context, host snapshot.Host, remoteDir, localDir string) ([]string, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local directory '%s': %w", localDir, err)
	}
	var names []string
	query := url.Values{"dir": {remoteDir}, "host": {host.Name}}
	env, err := t.call(ctx, host, http.MethodGet, t.endpoint(host, "/api/v1/files", query), nil, &names)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, faults.New(faults.Connectivity, "list files: %s", env.Message).ForHost(host.Name)
	}

	var files []string
	for _, name := range names {
		local := filepath.Join(localDir, filepath.Base(name))
		if err := t.download(ctx, host, remoteDir, name, local); err != nil {
			return files, err
		}
		files = append(files, local)
	}
	t.logger.Info("Collected files", "host", host.Name, "count", len(files))
	return files, nil
}

func (t *HTTPTransport) download(ctx context.Context, host snapshot.Host, remoteDir, name, local string) error {
	target := t.endpoint(host, "/api/v1/files/"+url.PathEscape(name), url.Values{"dir": {remoteDir}})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return deliveryError(ctx, host, err, "download %s", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return faults.New(faults.Connectivity, "download %s: status %d", name, resp.StatusCode).ForHost(host.Name)
	}

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", local, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return deliveryError(ctx, host, err, "download %s", name)
	}
	return f.Close()
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
