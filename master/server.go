// Package master implements the region server's side of the master protocol:
// the startup handshake, periodic heartbeat with piggybacked region reports,
// a bounded inbound instruction queue drained by a single worker, and
// lease-based suicide if reports stop being acknowledged in time. Grounded on
// job_processor.go's channel+errgroup worker pattern and the retry helper in
// retry.go for the startup handshake.
package master

import (
	"bytes"
	"context"
	"encoding/json"
	log "log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/region"
	"github.com/sharedcode/regionserver/registry"
	"github.com/sharedcode/regionserver/wal"
)

// Opener is the subset of server startup logic the instruction worker needs
// to actually open/close regions; implemented by the process wiring code
// (cmd/regionserver), kept as an interface here so master does not need to
// know how regions are located on disk or which WAL they share.
type Opener interface {
	OpenRegion(ctx context.Context, info rs.RegionInfo) (*region.Region, error)
}

// Report is one region's status, piggybacked on each heartbeat.
type Report struct {
	RegionName string `json:"region_name"`
	State      string `json:"state"`
}

// Server is the region server's master-protocol client: it reports on a
// fixed interval, accepts queued instructions pushed by the master's HTTP
// call, and aborts the process if its lease lapses.
type Server struct {
	masterURL   string
	serverName  string
	msgInterval time.Duration
	leasePeriod time.Duration
	maxRetries  int

	httpClient *http.Client

	reg    *registry.Registry
	opener Opener
	log    *wal.Log

	inbound chan Instruction

	mu          sync.Mutex
	outbound    []Report
	lastSuccess time.Time

	stopRequested  atomic.Bool
	abortRequested atomic.Bool
}

// New returns a Server bound to masterURL, ready to Start once the region
// server's own registry and WAL are open.
func New(masterURL, serverName string, cfg rs.Configuration, reg *registry.Registry, opener Opener, l *wal.Log) *Server {
	return &Server{
		masterURL:   masterURL,
		serverName:  serverName,
		msgInterval: cfg.MsgInterval,
		leasePeriod: cfg.MasterLeasePeriod,
		maxRetries:  cfg.ClientRetriesNumber,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		reg:         reg,
		opener:      opener,
		log:         l,
		inbound:     make(chan Instruction, cfg.HandlerCount),
		lastSuccess: time.Now(),
	}
}

// Startup performs the region server startup handshake: POST its identity to
// the master, and apply whatever configuration overrides come back. Mirrors
// the teacher's "install master-provided overrides once, then never mutate"
// configuration design note.
func (s *Server) Startup(ctx context.Context) (map[string]string, error) {
	var overrides map[string]string
	task := func(ctx context.Context) error {
		body, _ := json.Marshal(map[string]string{"server": s.serverName})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.masterURL+"/api/v1/master/startup", bytes.NewReader(body))
		if err != nil {
			return rs.NewError(rs.Io, err, s.masterURL)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return rs.NewError(rs.Remote, err, s.masterURL)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return rs.NewError(rs.Remote, nil, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&overrides)
	}
	if err := rs.Retry(ctx, task, nil); err != nil {
		return nil, err
	}
	return overrides, nil
}

// QueueInstruction enqueues an instruction for the worker to process; used by
// the HTTP handler the master calls to push instructions to this server.
// Blocks if the bounded queue is full, applying natural backpressure to the master.
func (s *Server) QueueInstruction(ctx context.Context, instr Instruction) error {
	select {
	case s.inbound <- instr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the heartbeat loop and the instruction worker; blocks until ctx
// is canceled or the server aborts due to lease expiry.
func (s *Server) Run(ctx context.Context) error {
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.runWorker(ctx)
	}()

	ticker := time.NewTicker(s.msgInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-workerDone
			return nil
		case <-ticker.C:
			if s.stopRequested.Load() {
				continue
			}
			s.heartbeat(ctx)
			if s.leaseExpired() {
				s.abortRequested.Store(true)
				log.Error("master: report lease expired, aborting")
				<-workerDone
				return rs.NewError(rs.LeaseExpired, nil, s.serverName)
			}
		}
	}
}

func (s *Server) leaseExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSuccess) > s.leasePeriod
}

// Report queues a region status update that heartbeat sends on its next tick.
func (s *Server) Report(regionName, state string) {
	s.mu.Lock()
	s.outbound = append(s.outbound, Report{RegionName: regionName, State: state})
	s.mu.Unlock()
}

func (s *Server) heartbeat(ctx context.Context) {
	s.mu.Lock()
	reports := s.outbound
	s.outbound = nil
	s.mu.Unlock()

	body, _ := json.Marshal(map[string]any{"server": s.serverName, "reports": reports})
	url := strings.TrimSuffix(s.masterURL, "/") + "/api/v1/master/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.requeue(reports)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("master: heartbeat failed", "error", err)
		s.requeue(reports)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn("master: heartbeat rejected", "status", resp.StatusCode)
		s.requeue(reports)
		return
	}

	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mu.Unlock()
}

func (s *Server) requeue(reports []Report) {
	if len(reports) == 0 {
		return
	}
	s.mu.Lock()
	s.outbound = append(reports, s.outbound...)
	s.mu.Unlock()
}

func (s *Server) runWorker(ctx context.Context) {
	retries := make(map[string]int)
	for {
		select {
		case <-ctx.Done():
			return
		case instr, ok := <-s.inbound:
			if !ok {
				return
			}
			if err := s.execute(ctx, instr); err != nil {
				key := instr.RegionName
				retries[key]++
				if retries[key] <= s.maxRetries {
					log.Warn("master: instruction failed, retrying", "kind", instr.Kind, "region", instr.RegionName, "attempt", retries[key], "error", err)
					go func() { _ = s.QueueInstruction(ctx, instr) }()
				} else {
					log.Error("master: instruction exhausted retries", "kind", instr.Kind, "region", instr.RegionName, "error", err)
				}
			} else {
				delete(retries, instr.RegionName)
			}
		}
	}
}

func (s *Server) execute(ctx context.Context, instr Instruction) error {
	switch instr.Kind {
	case Open:
		if instr.Region == nil {
			return rs.NewError(rs.Io, nil, "open instruction missing region descriptor")
		}
		reg, err := s.opener.OpenRegion(ctx, *instr.Region)
		if err != nil {
			return err
		}
		if err := s.reg.Open(reg); err != nil {
			return err
		}
		reg.MarkOpen()
		s.Report(reg.Name(), "OPEN")
		return nil
	case Close, CloseWithoutReport:
		reg, err := s.reg.BeginClose(instr.RegionName)
		if err != nil {
			return err
		}
		closable, ok := reg.(interface {
			Close(ctx context.Context, abort bool) error
		})
		if ok {
			if err := closable.Close(ctx, false); err != nil {
				return err
			}
		}
		s.reg.EndClose(instr.RegionName)
		if instr.Kind == Close {
			s.Report(instr.RegionName, "CLOSED")
		}
		return nil
	case Stop:
		s.stopRequested.Store(true)
		for _, reg := range s.reg.Snapshot() {
			_ = s.execute(ctx, Instruction{Kind: CloseWithoutReport, RegionName: reg.Name()})
		}
		return nil
	case CallServerStartup:
		_, err := s.Startup(ctx)
		return err
	default:
		return rs.NewError(rs.Io, nil, "unknown instruction kind")
	}
}

// AbortRequested reports whether the lease expired and the server must abort
// without a graceful close (the region's WAL tail covers recovery).
func (s *Server) AbortRequested() bool {
	return s.abortRequested.Load()
}
