package main

import (
	"encoding/json"
	"io"

	"github.com/orneryd/nornicbatch/pkg/batch"
	"github.com/orneryd/nornicbatch/pkg/storage"
)

// jobOutput is what `run` prints for each script.
type jobOutput struct {
	Script   string `json:"script"`
	State    string `json:"state"`
	Executed int    `json:"executed"`
	Retries  int    `json:"retries,omitempty"`
	Value    any    `json:"value"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func newJobOutput(name string, res *batch.Result, err error) jobOutput {
	out := jobOutput{Script: name}
	if res != nil {
		out.State = res.State.String()
		out.Executed = res.Executed
		out.Retries = res.Retries
		out.Value = renderValue(res.Value)
	}
	if err != nil {
		out.Error = err.Error()
		out.Kind = batch.KindOf(err)
	}
	return out
}

func renderValue(v batch.Value) any {
	switch v.Kind() {
	case batch.ValueRecord:
		return renderRecord(v.Record())
	case batch.ValueRecords:
		rs := v.Records()
		out := make([]any, len(rs))
		for i, r := range rs {
			out[i] = renderRecord(r)
		}
		return out
	case batch.ValueScalar:
		return v.Scalar()
	}
	return nil
}

func renderRecord(r *storage.Record) map[string]any {
	m := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["@rid"] = r.ID
	m["@class"] = r.Class
	if r.Out != "" {
		m["@out"] = r.Out
		m["@in"] = r.In
	}
	return m
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
