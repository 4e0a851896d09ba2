package transfer

import (
	"errors"
	"io"
	"math"
	"net/url"
	"strings"
)

// StreamingScheme marks sources that must go through the naming service
// before they can be fetched.
const StreamingScheme = "streaming"

var (
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	ErrCancelled         = errors.New("transfer cancelled")
)

type Kind int

const (
	KindDirect Kind = iota
	KindStreaming
)

func (k Kind) String() string {
	switch k {
	case KindStreaming:
		return "streaming"
	default:
		return "direct"
	}
}

// Source is a package URI tagged with how it has to be acquired.
type Source struct {
	URI  *url.URL
	Kind Kind
}

func Classify(uri *url.URL) Source {
	kind := KindDirect
	if strings.EqualFold(uri.Scheme, StreamingScheme) {
		kind = KindStreaming
	}
	return Source{URI: uri, Kind: kind}
}

// Progress is a byte count snapshot. TotalBytes is 0 while the size is
// unknown.
type Progress struct {
	BytesReceived int64
	TotalBytes    int64
}

// Percent rounds received/total to a whole percentage. ok is false while the
// total is unknown.
func (p Progress) Percent() (percent int, ok bool) {
	if p.TotalBytes <= 0 {
		return 0, false
	}
	return int(math.Round(float64(p.BytesReceived) / float64(p.TotalBytes) * 100)), true
}

// Fraction is the unrounded completion ratio used for display.
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.BytesReceived) / float64(p.TotalBytes)
}

// Outcome is the terminal result of one transfer. Result is only set when the
// transfer succeeded and the receiver owns closing it.
type Outcome struct {
	Cancelled bool
	Err       error
	Result    io.ReadCloser
}

func (o Outcome) Succeeded() bool {
	return !o.Cancelled && o.Err == nil
}

func cancelledOutcome() Outcome {
	return Outcome{Cancelled: true, Err: ErrCancelled}
}
