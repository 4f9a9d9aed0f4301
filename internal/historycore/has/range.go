package has

import "fmt"

// LedgerRange is an inclusive [First, Last] range of ledger sequences.
type LedgerRange struct {
	First uint32
	Last  uint32
}

func (r LedgerRange) Count() uint32 {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

func (r LedgerRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.First, r.Last)
}

// CheckpointRange is a LedgerRange that is always aligned to checkpoint
// boundaries: First is the first ledger of a checkpoint, Last is the last
// ledger (k*F-1) of a (possibly different) checkpoint.
type CheckpointRange struct {
	LedgerRange
	Frequency uint32
}

// Count returns the number of ledgers covered, matching LedgerRange.Count;
// kept as a distinct method so catchup-planner call sites read
// "verifyRange.Count()" rather than an unqualified ledger count.
func (r CheckpointRange) Count() uint32 {
	return r.LedgerRange.Count()
}

// NumCheckpoints returns how many checkpoint-sized windows the range spans.
func (r CheckpointRange) NumCheckpoints() uint32 {
	if r.Count() == 0 {
		return 0
	}
	return r.Count() / r.Frequency
}

// Mode selects offline or online catchup. Offline catchup stops at the
// target; online catchup rounds the target up to its checkpoint boundary
// and then waits for the trigger ledger to be externalized. Whether a
// bucket snapshot is applied is decided by Recent, not by Mode.
type Mode int

const (
	ModeOffline Mode = iota
	ModeOnline
)

func (m Mode) String() string {
	if m == ModeOnline {
		return "ONLINE"
	}
	return "OFFLINE"
}

// RecentComplete, when used as CatchupConfiguration.Recent, means "replay
// every ledger since lastClosed" (CATCHUP_COMPLETE).
const RecentComplete = ^uint32(0)

// CatchupConfiguration describes one catchup request.
type CatchupConfiguration struct {
	ToLedger uint32
	Recent   uint32
	Mode     Mode
}

// IsComplete reports whether this configuration asks for a full replay
// from genesis/lastClosed rather than a bounded recent window.
func (c CatchupConfiguration) IsComplete() bool {
	return c.Recent == RecentComplete
}

// CatchupMetrics are the raw counters accumulated during one catchup run.
type CatchupMetrics struct {
	HASDownloaded        uint32
	LedgersDownloaded    uint32
	LedgersVerified      uint32
	ChainVerifyFailures  uint32
	BucketsDownloaded    uint32
	BucketsApplied       uint32
	TxDownloaded         uint32
	TxApplied            uint32
}

// Sub returns m - other, field by field; used to compute the observed
// delta across a catchup run by comparing "observedMetrics -
// startMetrics" against the work oracle.
func (m CatchupMetrics) Sub(other CatchupMetrics) CatchupMetrics {
	return CatchupMetrics{
		HASDownloaded:       m.HASDownloaded - other.HASDownloaded,
		LedgersDownloaded:   m.LedgersDownloaded - other.LedgersDownloaded,
		LedgersVerified:     m.LedgersVerified - other.LedgersVerified,
		ChainVerifyFailures: m.ChainVerifyFailures - other.ChainVerifyFailures,
		BucketsDownloaded:   m.BucketsDownloaded - other.BucketsDownloaded,
		BucketsApplied:      m.BucketsApplied - other.BucketsApplied,
		TxDownloaded:        m.TxDownloaded - other.TxDownloaded,
		TxApplied:           m.TxApplied - other.TxApplied,
	}
}

// CatchupPerformedWork is the boolean-normalised variant of CatchupMetrics
// used by the work oracle: buckets are either applied or they are not,
// there is no "how many" to predict since bucket-apply is all-or-nothing.
type CatchupPerformedWork struct {
	HASDownloaded       uint32
	LedgersDownloaded   uint32
	LedgersVerified     uint32
	ChainVerifyFailures uint32
	BucketsDownloaded   bool
	BucketsApplied      bool
	TxDownloaded        uint32
	TxApplied           uint32
}

// Normalize reduces raw CatchupMetrics to the boolean-normalised form.
func (m CatchupMetrics) Normalize() CatchupPerformedWork {
	return CatchupPerformedWork{
		HASDownloaded:       m.HASDownloaded,
		LedgersDownloaded:   m.LedgersDownloaded,
		LedgersVerified:     m.LedgersVerified,
		ChainVerifyFailures: m.ChainVerifyFailures,
		BucketsDownloaded:   m.BucketsDownloaded > 0,
		BucketsApplied:      m.BucketsApplied > 0,
		TxDownloaded:        m.TxDownloaded,
		TxApplied:           m.TxApplied,
	}
}
