package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"slices"
	"sync"
	"time"

	"bemflow/internal/daemon"
	"bemflow/internal/jobconfig"
	"bemflow/internal/jobs"
	"bemflow/internal/jobstore"
	"bemflow/internal/logging"
	"bemflow/internal/services"
)

// ServiceName is the RPC receiver name clients address.
const ServiceName = "Bemflow"

const maxLogWait = 30 * time.Second

// Option customizes a Server.
type Option func(*Server)

// WithStopHandler sets the callback the Stop RPC invokes. The daemon process
// uses it to begin its own shutdown.
func WithStopHandler(fn func()) Option {
	return func(s *Server) { s.onStop = fn }
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	onStop    func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "ipc"))

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	s := &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpc.NewServer(),
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.rpcServer.RegisterName(ServiceName, &service{server: s}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return s, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(c net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
}

// Close stops the server, drops open connections, and removes the socket.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	server *Server
}

func (s *service) daemon() *daemon.Daemon { return s.server.daemon }
func (s *service) log() *slog.Logger      { return s.server.logger }
func (s *service) ctx() context.Context   { return s.server.ctx }

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	format, err := jobconfig.ParseFormat(req.Format)
	if err != nil {
		return err
	}
	source := req.Source
	if source == "" {
		source = "ipc"
	}
	cfg, err := jobconfig.Decode([]byte(req.Config), format, source)
	if err != nil {
		return err
	}
	id, err := s.daemon().Submit(cfg)
	if err != nil {
		return err
	}
	resp.ID = id
	resp.Status = string(jobs.StatusCreated)
	if req.Start {
		resp.Status = string(s.daemon().StartJob(id))
	}
	ctx := s.ctx()
	if req.RequestID != "" {
		ctx = services.WithRequestID(ctx, req.RequestID)
	}
	logging.WithContext(ctx, s.log()).Debug("job submitted via IPC",
		logging.String(logging.FieldJobID, id),
		logging.String("source", source),
		logging.Bool("start", req.Start),
	)
	return nil
}

func (s *service) Start(req JobRequest, resp *StatusChange) error {
	status := s.daemon().StartJob(req.ID)
	if status == "" {
		return fmt.Errorf("start %s: %w", req.ID, jobs.ErrUnknownJob)
	}
	resp.ID = req.ID
	resp.Status = string(status)
	return nil
}

func (s *service) Cancel(req JobRequest, resp *StatusChange) error {
	status := s.daemon().CancelJob(req.ID)
	if status == "" {
		return fmt.Errorf("cancel %s: %w", req.ID, jobs.ErrUnknownJob)
	}
	resp.ID = req.ID
	resp.Status = string(status)
	return nil
}

func (s *service) Job(req JobRequest, resp *JobResponse) error {
	rec, live, err := s.daemon().Job(s.ctx(), req.ID)
	if err != nil {
		return err
	}
	resp.Job = NewJobInfo(rec, live)
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	statuses := make([]jobs.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		status, ok := jobs.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown job status %q", raw)
		}
		statuses = append(statuses, status)
	}

	if req.History {
		records, err := s.daemon().History(s.ctx(), jobstore.ListFilter{
			Statuses: statuses,
			Name:     req.Name,
			Limit:    req.Limit,
		})
		if err != nil {
			return err
		}
		for _, rec := range records {
			resp.Jobs = append(resp.Jobs, NewJobInfo(rec, false))
		}
		return nil
	}

	for _, rec := range s.daemon().Jobs() {
		if len(statuses) > 0 && !slices.Contains(statuses, rec.Status) {
			continue
		}
		if req.Name != "" && rec.Name != req.Name {
			continue
		}
		resp.Jobs = append(resp.Jobs, NewJobInfo(rec, true))
		if req.Limit > 0 && len(resp.Jobs) >= req.Limit {
			break
		}
	}
	return nil
}

func (s *service) Logs(req LogsRequest, resp *LogsResponse) error {
	wait := min(time.Duration(req.WaitMillis)*time.Millisecond, maxLogWait)
	msgs, next, err := s.daemon().FetchLogs(s.ctx(), req.ID, req.Since, req.Limit, wait)
	if err != nil {
		if s.ctx().Err() != nil {
			resp.Next = req.Since
			return nil
		}
		return err
	}
	resp.Messages = msgs
	resp.Next = next
	for _, msg := range msgs {
		if msg.IsEnd() {
			resp.Ended = true
		}
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon().Status(s.ctx())
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.Jobs = statusCounts(status.Jobs)
	resp.History = statusCounts(status.History)
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.SocketPath = status.SocketPath
	resp.LogPath = status.LogPath
	resp.WorkDirs = status.WorkDirs
	resp.WorkBytes = status.WorkBytes
	for _, check := range status.Checks {
		resp.Checks = append(resp.Checks, CheckInfo{
			Name:     check.Name,
			Passed:   check.Passed,
			Optional: check.Optional,
			Detail:   check.Detail,
		})
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	if s.server.onStop == nil {
		return errors.New("daemon stop is not supported by this server")
	}
	s.log().Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop_requested"),
	)
	s.server.onStop()
	resp.Stopping = true
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon().TestNotification(s.ctx())
	resp.Sent = sent
	resp.Message = message
	return err
}
