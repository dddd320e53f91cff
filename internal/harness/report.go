package harness

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// Result is what one case reported.
type Result struct {
	Case      string        `json:"case"`
	Completed bool          `json:"completed"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func newResult(name string, err error, d time.Duration) Result {
	r := Result{Case: name, Completed: err == nil, Err: err, Duration: d}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Report holds one result per case, in submission order. A Cancelled report
// was cut short by its caller and is not a verdict on the share.
type Report struct {
	Scenario  string        `json:"scenario"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Timeout   time.Duration `json:"timeout"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Results   []Result      `json:"results"`
}

// Passed reports whether every case completed.
func (r *Report) Passed() bool {
	return len(r.Incomplete()) == 0
}

// Incomplete names the cases that did not complete.
func (r *Report) Incomplete() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Completed {
			names = append(names, res.Case)
		}
	}
	return names
}

// Err combines the errors of every case that did not complete, or nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, res := range r.Results {
		if res.Err != nil {
			result = multierror.Append(result, res.Err)
		}
	}
	return result.ErrorOrNil()
}
