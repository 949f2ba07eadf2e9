package loopz

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceLabel is the first field of every record.
const SourceLabel = "NodeEventLoop"

// recordFields is the number of comma-separated fields in a record line.
const recordFields = 6

// Sample is the pair of clock readings taken on one sampler invocation.
type Sample struct {
	LoopTimeMs uint64 // loop-relative time, milliseconds
	HRTimeNs   uint64 // monotonic time, nanoseconds
}

// Record is one measurement of a phase, as pushed to the host.
//
// DeltaLoopMs and DeltaHRNs are zero on the first invocation after Start.
// That zero is a sentinel, not a measured delta; First distinguishes the
// two when the record was produced in-process.
type Record struct {
	Phase       Phase
	LoopTimeMs  uint64
	HRTimeNs    uint64
	DeltaLoopMs uint64
	DeltaHRNs   uint64
	First       bool
}

// AppendText appends the wire form of r, newline included, to b.
func (r Record) AppendText(b []byte) []byte {
	b = append(b, SourceLabel...)
	b = append(b, ',')
	b = append(b, r.Phase.Tag()...)
	b = append(b, ',')
	b = strconv.AppendUint(b, r.LoopTimeMs, 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, r.HRTimeNs, 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, r.DeltaLoopMs, 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, r.DeltaHRNs, 10)
	return append(b, '\n')
}

// String returns the wire form of r.
func (r Record) String() string {
	return string(r.AppendText(make([]byte, 0, 80)))
}

// ParseRecord parses one record line. The trailing newline is optional.
// First is never set on parsed records; a zero delta is ambiguous on the
// wire.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimSuffix(line, "\n")
	fields := strings.Split(line, ",")
	if len(fields) != recordFields {
		return Record{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRecord, recordFields, len(fields))
	}
	if fields[0] != SourceLabel {
		return Record{}, fmt.Errorf("%w: unexpected source %q", ErrMalformedRecord, fields[0])
	}

	var r Record
	switch fields[1] {
	case PhasePrepare.Tag():
		r.Phase = PhasePrepare
	case PhaseCheck.Tag():
		r.Phase = PhaseCheck
	default:
		return Record{}, fmt.Errorf("%w: unknown phase %q", ErrMalformedRecord, fields[1])
	}

	values := [...]*uint64{&r.LoopTimeMs, &r.HRTimeNs, &r.DeltaLoopMs, &r.DeltaHRNs}
	for i, dst := range values {
		v, err := strconv.ParseUint(fields[i+2], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, i+2, err)
		}
		*dst = v
	}
	return r, nil
}
