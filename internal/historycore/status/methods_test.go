package status

import (
	"context"
	"testing"

	"github.com/creachadair/jrpc2"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/node"
	"github.com/ledgermint/historycore/internal/historycore/publish"
	"github.com/ledgermint/historycore/internal/historycore/publishqueue"
)

type fakeLedgerManager struct {
	state      node.State
	lastClosed uint32
	lastHash   has.Hash
}

func (f fakeLedgerManager) State() node.State          { return f.state }
func (f fakeLedgerManager) LastClosedLedger() uint32    { return f.lastClosed }
func (f fakeLedgerManager) LastClosedHash() has.Hash    { return f.lastHash }
func (f fakeLedgerManager) CloseLedger(context.Context, []byte) (has.Hash, error) {
	return has.Hash{}, nil
}
func (f fakeLedgerManager) AdoptBucketList(context.Context, has.HistoryArchiveState) error { return nil }
func (f fakeLedgerManager) ValueExternalized(context.Context, []byte) (has.Hash, error) {
	return has.Hash{}, nil
}
func (f fakeLedgerManager) ValueExternalizedForLedger(context.Context, uint32, []byte) (has.Hash, error) {
	return has.Hash{}, nil
}
func (f fakeLedgerManager) StartCatchup(context.Context, has.CatchupConfiguration) error { return nil }
func (f fakeLedgerManager) TriggerLedger() uint32                                        { return 0 }

func TestGetHealthReportsUnhealthyWhileBooting(t *testing.T) {
	handler := NewHealthCheck(fakeLedgerManager{state: node.StateBooting})
	_, err := handler(context.Background(), &jrpc2.Request{})
	require.Error(t, err)
}

func TestGetHealthReportsHealthyOnceSynced(t *testing.T) {
	lm := fakeLedgerManager{state: node.StateSynced, lastClosed: 42}
	handler := NewHealthCheck(lm)
	respI, err := handler(context.Background(), &jrpc2.Request{})
	require.NoError(t, err)
	resp := respI.(GetHealthResponse)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, uint32(42), resp.LastClosedLedger)
}

func TestGetLedgerStatusReportsManagerState(t *testing.T) {
	lm := fakeLedgerManager{state: node.StateWaitingForClosingLedger, lastClosed: 7}
	handler := NewGetLedgerStatusHandler(lm)
	respI, err := handler(context.Background(), &jrpc2.Request{})
	require.NoError(t, err)
	resp := respI.(GetLedgerStatusResponse)
	assert.Equal(t, uint32(7), resp.LastClosedLedger)
	assert.Equal(t, "WAITING_FOR_CLOSING_LEDGER", resp.State)
}

func newTestPipeline(t *testing.T, db *sqlx.DB) *publish.Pipeline {
	t.Helper()
	q := publishqueue.New(db, checkpoint.Frequency(8), "test-server", logrus.NewEntry(logrus.New()))
	require.NoError(t, q.Open(context.Background()))
	return publish.NewPipeline(publish.Config{
		Logger:    logrus.NewEntry(logrus.New()),
		Queue:     q,
		Frequency: checkpoint.Frequency(8),
	}, nil, "test")
}

func TestGetHistoryStatusReportsIdleByDefault(t *testing.T) {
	dir := t.TempDir()
	db, err := publishqueue.OpenSQLiteDB(dir + "/publish.db")
	require.NoError(t, err)
	defer db.Close()

	p := newTestPipeline(t, db)
	lm := fakeLedgerManager{state: node.StateSynced, lastClosed: 15}
	handler := NewGetHistoryStatusHandler(lm, p)
	respI, err := handler(context.Background(), &jrpc2.Request{})
	require.NoError(t, err)
	resp := respI.(GetHistoryStatusResponse)
	assert.Equal(t, "IDLE", resp.PublishPhase)
	assert.Zero(t, resp.PendingLedger)
	assert.Equal(t, uint32(15), resp.LastClosedLedger)
}

type recordingLogger struct{ messages []string }

func (r *recordingLogger) Errorf(format string, args ...interface{}) {
	r.messages = append(r.messages, format)
}

func TestStartCatchupAcksImmediately(t *testing.T) {
	lm := fakeLedgerManager{state: node.StateBooting}
	resp, err := StartCatchup(lm, &recordingLogger{}, StartCatchupRequest{ToLedger: 15})
	require.NoError(t, err)
	assert.True(t, resp.Started)
}
