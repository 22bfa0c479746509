package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/nettap/pkg/exchange"
	"github.com/getmockd/nettap/pkg/logging"
)

// Defaults.
const (
	DefaultPrefix     = "nettap"
	DefaultSessionLog = "nettap-session.log"
	DefaultQueueSize  = 256
)

// Errors.
var (
	ErrNoDir       = errors.New("artifacts: directory is required")
	ErrSessionOpen = errors.New("artifacts: session already open")
	ErrInvalidName = errors.New("artifacts: invalid file name")
)

// Options configures a Sink.
type Options struct {
	// Dir holds every artifact. Required.
	Dir string

	// Prefix starts the name of every scratch file. Defaults to "nettap".
	Prefix string

	// SessionLog is the session log file name inside Dir.
	SessionLog string

	// SaveBodies writes each captured body to its own scratch file.
	SaveBodies bool

	// QueueSize bounds the records waiting to be written.
	QueueSize int

	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

// Sink writes session artifacts.
type Sink struct {
	dir        string
	prefix     string
	sessionLog string
	saveBodies bool
	queueSize  int
	logger     *slog.Logger

	mu      sync.RWMutex
	session *session
	dropped atomic.Int64
}

type session struct {
	id    string
	file  *os.File
	enc   *json.Encoder
	queue chan exchange.Exchange
	done  chan struct{}
	seq   int64
}

// Record is one line of the session log.
type Record struct {
	Sequence     int64             `json:"seq"`
	Time         time.Time         `json:"time"`
	SessionID    string            `json:"sessionId"`
	ID           string            `json:"id"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	State        exchange.State    `json:"state"`
	StatusCode   int               `json:"status,omitempty"`
	Kind         exchange.Kind     `json:"kind"`
	Duration     time.Duration     `json:"duration"`
	RequestSize  int64             `json:"requestSize"`
	ResponseSize int64             `json:"responseSize"`
	Error        *exchange.Error   `json:"error,omitempty"`
	BodyFiles    map[string]string `json:"bodyFiles,omitempty"`
}

// New creates a Sink. The directory is created when a session opens.
func New(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		return nil, ErrNoDir
	}
	s := &Sink{
		dir:        opts.Dir,
		prefix:     opts.Prefix,
		sessionLog: opts.SessionLog,
		saveBodies: opts.SaveBodies,
		queueSize:  opts.QueueSize,
		logger:     logging.For(opts.Logger, "artifacts"),
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.sessionLog == "" {
		s.sessionLog = DefaultSessionLog
	}
	if s.queueSize <= 0 {
		s.queueSize = DefaultQueueSize
	}
	if strings.ContainsAny(s.prefix, `/\`) || strings.ContainsAny(s.sessionLog, `/\`) {
		return nil, fmt.Errorf("%w: prefix %q, session log %q", ErrInvalidName, s.prefix, s.sessionLog)
	}
	return s, nil
}

// Dir returns the artifact directory.
func (s *Sink) Dir() string {
	return s.dir
}

// SessionLogPath returns the full path of the session log.
func (s *Sink) SessionLogPath() string {
	return filepath.Join(s.dir, s.sessionLog)
}

// BodyPath returns the scratch file path for one side ("request" or
// "response") of an exchange.
func (s *Sink) BodyPath(exchangeID, side string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s-%s.body", s.prefix, exchangeID, side))
}

// Open starts a session: the session log is created (truncating any old
// one) and the writer goroutine started.
func (s *Sink) Open(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return ErrSessionOpen
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("artifacts: create dir: %w", err)
	}
	f, err := os.OpenFile(s.SessionLogPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("artifacts: open session log: %w", err)
	}

	sess := &session{
		id:    sessionID,
		file:  f,
		enc:   json.NewEncoder(f),
		queue: make(chan exchange.Exchange, s.queueSize),
		done:  make(chan struct{}),
	}
	s.session = sess
	s.dropped.Store(0)
	go s.run(sess)
	return nil
}

// Record queues a finished exchange. It returns false when no session is
// open or the queue is full.
func (s *Sink) Record(ex exchange.Exchange) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return false
	}
	select {
	case s.session.queue <- ex:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns how many records the current session discarded.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the queue and closes the session log. Closing without an
// open session is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	if sess != nil {
		close(sess.queue)
	}
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	<-sess.done

	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("session log dropped records", "session", sess.id, "dropped", n)
	}
	if err := sess.file.Sync(); err != nil {
		s.logger.Debug("session log sync failed", "error", err)
	}
	if err := sess.file.Close(); err != nil {
		return fmt.Errorf("artifacts: close session log: %w", err)
	}
	return nil
}

func (s *Sink) run(sess *session) {
	defer close(sess.done)
	for ex := range sess.queue {
		rec := s.record(sess, ex)
		if err := sess.enc.Encode(rec); err != nil {
			s.logger.Warn("session log write failed", "id", ex.ID, "error", err)
		}
	}
}

func (s *Sink) record(sess *session, ex exchange.Exchange) Record {
	sess.seq++
	rec := Record{
		Sequence:  sess.seq,
		Time:      ex.CompletedAt,
		SessionID: sess.id,
		ID:        ex.ID,
		Method:    ex.Request.Method,
		URL:       ex.Request.URL,
		State:     ex.State,
		Kind:      ex.Kind(),
		Duration:  ex.Duration,
		Error:     ex.Err,
	}
	if ex.Request.Body != nil {
		rec.RequestSize = ex.Request.Body.Size
	}
	if ex.Response != nil {
		rec.StatusCode = ex.Response.StatusCode
		if ex.Response.Body != nil {
			rec.ResponseSize = ex.Response.Body.Size
		}
	}

	if s.saveBodies {
		rec.BodyFiles = s.writeBodies(ex)
	}
	return rec
}

func (s *Sink) writeBodies(ex exchange.Exchange) map[string]string {
	files := make(map[string]string, 2)
	write := func(side string, b *exchange.Body) {
		if b == nil {
			return
		}
		path := s.BodyPath(ex.ID, side)
		if err := os.WriteFile(path, b.Data, 0o600); err != nil {
			s.logger.Warn("body write failed", "id", ex.ID, "side", side, "error", err)
			return
		}
		files[side] = path
	}

	write("request", ex.Request.Body)
	if ex.Response != nil {
		write("response", ex.Response.Body)
	}
	if len(files) == 0 {
		return nil
	}
	return files
}

// ClearOldData removes every file in Dir whose name starts with the prefix,
// plus the session log. Removal is best-effort: all failures are joined
// into the returned error and the rest still proceeds. A missing directory
// is not an error.
func (s *Sink) ClearOldData() error {
	matches, err := doublestar.Glob(os.DirFS(s.dir), escapeGlob(s.prefix)+"*")
	if err != nil {
		return fmt.Errorf("artifacts: glob: %w", err)
	}

	var errs []error
	for _, name := range matches {
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.SessionLogPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
