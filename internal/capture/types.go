// Package capture persists relayed bodies for later inspection.
//
// DESIGN: Artifacts live in one directory per local calendar day:
//
//	<dir>/<YYYYMMDD>/<YYYYMMDD>_<HHMMSS>_<id>.json            raw request body
//	<dir>/<YYYYMMDD>/<YYYYMMDD>_<HHMMSS>_<id>.struct_req.txt  request transcript
//	<dir>/<YYYYMMDD>/<YYYYMMDD>_<HHMMSS>_<id>.resp.json       raw response body
//
// Writes run on a small worker pool behind a bounded queue. Submitting never
// blocks; a full queue drops the job. Every failure is logged and swallowed.
package capture

import (
	"fmt"
	"path/filepath"
	"time"
)

// Layouts used for directory and file names (local time).
const (
	DateLayout = "20060102"
	TimeLayout = "150405"
)

// Kind identifies one artifact of an exchange.
type Kind string

const (
	KindRequest    Kind = "request"
	KindTranscript Kind = "transcript"
	KindResponse   Kind = "response"
)

// Suffix returns the file name suffix for the artifact kind.
func (k Kind) Suffix() string {
	switch k {
	case KindRequest:
		return ".json"
	case KindTranscript:
		return ".struct_req.txt"
	case KindResponse:
		return ".resp.json"
	default:
		return "." + string(k)
	}
}

// Record identifies the exchange an artifact belongs to.
type Record struct {
	ID         int64
	ReceivedAt time.Time
	Method     string
	URL        string
}

// Date returns the capture day (YYYYMMDD, local time).
func (r Record) Date() string { return r.ReceivedAt.Local().Format(DateLayout) }

// Time returns the arrival time of day (HHMMSS, local time).
func (r Record) Time() string { return r.ReceivedAt.Local().Format(TimeLayout) }

// FileName returns the artifact file name without directory.
func (r Record) FileName(kind Kind) string {
	return fmt.Sprintf("%s_%s_%06d%s", r.Date(), r.Time(), r.ID, kind.Suffix())
}

// Path returns where the artifact is stored below dir.
func (r Record) Path(dir string, kind Kind) string {
	return filepath.Join(dir, r.Date(), r.FileName(kind))
}

// Job is one unit of capture work.
type Job struct {
	Record    Record
	Kind      Kind // KindRequest or KindResponse
	Body      []byte
	Truncated bool

	// Response only.
	Status int
	Mode   string
}

// Observer receives capture outcomes, typically a metrics collector.
type Observer interface {
	CaptureWritten(kind string, bytes int)
	CaptureFailed(kind string)
	CaptureDropped(kind string)
}

type nopObserver struct{}

func (nopObserver) CaptureWritten(string, int) {}
func (nopObserver) CaptureFailed(string)       {}
func (nopObserver) CaptureDropped(string)      {}
