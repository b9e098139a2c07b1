package ipc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrDaemonNotRunning reports that nothing is listening on the socket.
var ErrDaemonNotRunning = errors.New("bemflow daemon is not running")

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w (socket %s)", ErrDaemonNotRunning, path)
		}
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Submit sends a job document. A missing RequestID is generated.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	var resp SubmitResponse
	if err := c.call("Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start admits a created job.
func (c *Client) Start(id string) (*StatusChange, error) {
	var resp StatusChange
	if err := c.call("Start", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(id string) (*StatusChange, error) {
	var resp StatusChange
	if err := c.call("Cancel", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Job describes a live or recorded job.
func (c *Client) Job(id string) (*JobInfo, error) {
	var resp JobResponse
	if err := c.call("Job", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// List returns jobs matching req.
func (c *Client) List(req ListRequest) (*ListResponse, error) {
	var resp ListResponse
	if err := c.call("List", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs fetches one page of a job's log.
func (c *Client) Logs(req LogsRequest) (*LogsResponse, error) {
	var resp LogsResponse
	if err := c.call("Logs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon process to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
