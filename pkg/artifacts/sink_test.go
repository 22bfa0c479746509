package artifacts

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/nettap/pkg/exchange"
)

func finishedExchange(t *testing.T, id string, reqBody, respBody string) exchange.Exchange {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "http://api.test/items", strings.NewReader(reqBody))
	ex := exchange.New(id, "sess", req, time.Unix(10, 0))
	require.NoError(t, ex.SetRequestBody(&exchange.Body{Data: []byte(reqBody), Size: int64(len(reqBody))}))
	require.NoError(t, ex.SetResponse(&http.Response{
		StatusCode: http.StatusCreated,
		Status:     "201 Created",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, time.Unix(11, 0)))
	require.NoError(t, ex.Complete(&exchange.Body{Data: []byte(respBody), Size: int64(len(respBody))}, time.Unix(12, 0)))
	return *ex
}

func readLog(t *testing.T, s *Sink) []Record {
	t.Helper()
	f, err := os.Open(s.SessionLogPath())
	require.NoError(t, err)
	defer f.Close()
	recs, err := ReadSessionLog(f)
	require.NoError(t, err)
	return recs
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoDir)

	_, err = New(Options{Dir: t.TempDir(), Prefix: "a/b"})
	assert.ErrorIs(t, err, ErrInvalidName)

	s, err := New(Options{Dir: "/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/x", DefaultSessionLog), s.SessionLogPath())
	assert.Equal(t, filepath.Join("/tmp/x", "nettap-abc-request.body"), s.BodyPath("abc", "request"))
}

func TestSink_SessionLog(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested")
	s, err := New(Options{Dir: dir})
	require.NoError(t, err)

	assert.False(t, s.Record(finishedExchange(t, "early", "", "")))

	require.NoError(t, s.Open("sess-1"))
	assert.ErrorIs(t, s.Open("sess-2"), ErrSessionOpen)

	assert.True(t, s.Record(finishedExchange(t, "a", "in", `{"ok":1}`)))
	assert.True(t, s.Record(finishedExchange(t, "b", "", "")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	recs := readLog(t, s)
	require.Len(t, recs, 2)
	assert.EqualValues(t, 1, recs[0].Sequence)
	assert.Equal(t, "sess-1", recs[0].SessionID)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, http.MethodPost, recs[0].Method)
	assert.Equal(t, http.StatusCreated, recs[0].StatusCode)
	assert.Equal(t, exchange.StateComplete, recs[0].State)
	assert.Equal(t, exchange.KindJSON, recs[0].Kind)
	assert.Equal(t, 2*time.Second, recs[0].Duration)
	assert.EqualValues(t, 2, recs[0].RequestSize)
	assert.EqualValues(t, 8, recs[0].ResponseSize)
	assert.Nil(t, recs[0].BodyFiles)
	assert.EqualValues(t, 2, recs[1].Sequence)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSink_ReopenTruncates(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, s.Open("one"))
	s.Record(finishedExchange(t, "a", "", ""))
	require.NoError(t, s.Close())

	require.NoError(t, s.Open("two"))
	s.Record(finishedExchange(t, "b", "", ""))
	require.NoError(t, s.Close())

	recs := readLog(t, s)
	require.Len(t, recs, 1)
	assert.Equal(t, "two", recs[0].SessionID)
}

func TestSink_SaveBodies(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: t.TempDir(), SaveBodies: true})
	require.NoError(t, err)
	require.NoError(t, s.Open("sess"))
	s.Record(finishedExchange(t, "ex1", "request-bytes", "response-bytes"))
	require.NoError(t, s.Close())

	req, err := os.ReadFile(s.BodyPath("ex1", "request"))
	require.NoError(t, err)
	assert.Equal(t, "request-bytes", string(req))

	resp, err := os.ReadFile(s.BodyPath("ex1", "response"))
	require.NoError(t, err)
	assert.Equal(t, "response-bytes", string(resp))

	recs := readLog(t, s)
	require.Len(t, recs, 1)
	assert.Equal(t, s.BodyPath("ex1", "response"), recs[0].BodyFiles["response"])
}

func TestSink_ClearOldData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Prefix: "nfx", SessionLog: "traffic.log"})
	require.NoError(t, err)

	for _, name := range []string{"nfx-1-request.body", "nfx-2-response.body", "traffic.log", "keep.txt", "other-nfx.body"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nfxcache"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nfxcache", "inner"), []byte("x"), 0o600))

	require.NoError(t, s.ClearOldData())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"keep.txt", "other-nfx.body"}, left)
}

func TestSink_ClearOldDataMissingDir(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: filepath.Join(t.TempDir(), "never-created")})
	require.NoError(t, err)
	assert.NoError(t, s.ClearOldData())
}

func TestSink_FullQueueDrops(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: t.TempDir(), QueueSize: 1})
	require.NoError(t, err)
	require.NoError(t, s.Open("sess"))

	accepted := 0
	const n = 500
	for i := 0; i < n; i++ {
		if s.Record(finishedExchange(t, "x", "", "")) {
			accepted++
		}
	}
	dropped := s.Dropped()
	require.NoError(t, s.Close())

	assert.EqualValues(t, n, int64(accepted)+dropped)
	assert.Len(t, readLog(t, s), accepted)
}

func TestEscapeGlob(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "plain", escapeGlob("plain"))
}

func TestReadSessionLog_BadLine(t *testing.T) {
	t.Parallel()

	recs, err := ReadSessionLog(strings.NewReader("{\"seq\":1}\n\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Len(t, recs, 1)
}
