package train

import "time"

// Record holds the metrics of one completed epoch. Epochs are 1-based.
type Record struct {
	Epoch       int           `json:"epoch"`
	Loss        float64       `json:"loss"`
	Accuracy    float64       `json:"accuracy"`
	ValLoss     float64       `json:"val_loss"`
	ValAccuracy float64       `json:"val_accuracy"`
	LR          float32       `json:"lr"`
	Duration    time.Duration `json:"duration"`
}

// History is the ordered sequence of epoch records of one Fit call.
type History struct {
	Records      []Record `json:"records"`
	StoppedEarly bool     `json:"stopped_early"`
	BestEpoch    int      `json:"best_epoch"` // epoch with the lowest monitored loss
	Validated    bool     `json:"validated"`  // ValLoss/ValAccuracy are set
}

// Len returns the number of completed epochs.
func (h *History) Len() int {
	return len(h.Records)
}

// Last returns the most recent record.
func (h *History) Last() (Record, bool) {
	if len(h.Records) == 0 {
		return Record{}, false
	}
	return h.Records[len(h.Records)-1], true
}

// Best returns the record of BestEpoch.
func (h *History) Best() (Record, bool) {
	for _, r := range h.Records {
		if r.Epoch == h.BestEpoch {
			return r, true
		}
	}
	return Record{}, false
}

// Series extracts one metric across epochs.
func (h *History) Series(metric func(Record) float64) []float64 {
	out := make([]float64, len(h.Records))
	for i, r := range h.Records {
		out[i] = metric(r)
	}
	return out
}

func (h *History) append(r Record) {
	best, ok := h.Best()
	h.Records = append(h.Records, r)
	if !ok || h.monitor(r) < h.monitor(best) {
		h.BestEpoch = r.Epoch
	}
}

// monitor returns the value callbacks track: validation loss, or training
// loss when no validation data was given.
func (h *History) monitor(r Record) float64 {
	if h.Validated {
		return r.ValLoss
	}
	return r.Loss
}
