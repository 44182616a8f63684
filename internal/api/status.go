package api

import "net/http"

type workerStatus struct {
	Name     string `json:"name"`
	Route    string `json:"route"`
	State    string `json:"state"`
	InFlight int    `json:"inFlight"`
}

type statusResponse struct {
	Pending     int64          `json:"pending"`
	OpenWindows int            `json:"openWindows"`
	Waiting     int            `json:"waiting"`
	Discarded   int64          `json:"discarded"`
	Workers     []workerStatus `json:"workers"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Pending:     s.pending.Value(),
		OpenWindows: s.deps.Pool.OpenWindows(),
		Waiting:     s.deps.Pool.Bus().Waiting(),
		Discarded:   s.deps.Pool.Bus().Discarded(),
		Workers:     []workerStatus{},
	}
	for _, wk := range s.deps.Pool.Workers() {
		resp.Workers = append(resp.Workers, workerStatus{
			Name:     wk.Name(),
			Route:    wk.Route(),
			State:    wk.State().String(),
			InFlight: wk.InFlight(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
