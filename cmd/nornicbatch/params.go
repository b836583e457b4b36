package main

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/cockroachdb/errors"
)

// parseParamFlag parses one --param name=value. The value is read as JSON
// when the whole of it parses as JSON and kept as a plain string otherwise,
// so --param name=Ann and --param name='"Ann"' bind the same thing.
func parseParamFlag(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, errors.Newf("invalid --param %q: want name=value", s)
	}
	if raw == "" {
		return name, "", nil
	}
	data := []byte(raw)
	value, dataType, end, err := jsonparser.Get(data)
	if err != nil || !onlySpace(data[end:]) {
		return name, raw, nil
	}
	v, err := jsonValue(value, dataType)
	if err != nil {
		return name, raw, nil
	}
	return name, v, nil
}

// loadParamsFile reads a JSON object of parameters.
func loadParamsFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading params file")
	}
	params, err := parseParamsJSON(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return params, nil
}

func parseParamsJSON(data []byte) (map[string]any, error) {
	_, dataType, end, err := jsonparser.Get(data)
	if err != nil {
		return nil, err
	}
	if !onlySpace(data[end:]) {
		return nil, errors.Newf("unexpected data after params object at offset %d", end)
	}
	if dataType != jsonparser.Object {
		return nil, errors.Newf("params must be a JSON object, got %s", dataType)
	}
	return jsonObject(data)
}

func jsonObject(data []byte) (map[string]any, error) {
	out := map[string]any{}
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		v, err := jsonValue(value, dataType)
		if err != nil {
			return errors.Wrapf(err, "field %q", k)
		}
		out[k] = v
		return nil
	})
	return out, err
}

func jsonArray(data []byte) ([]any, error) {
	out := []any{}
	var inner error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if inner != nil {
			return
		}
		if err != nil {
			inner = err
			return
		}
		v, err := jsonValue(value, dataType)
		if err != nil {
			inner = err
			return
		}
		out = append(out, v)
	})
	if err != nil {
		return nil, err
	}
	return out, inner
}

// jsonValue converts a jsonparser value into the values the batch binder
// accepts. Integral numbers become int64, everything else float64.
func jsonValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		if n, err := jsonparser.ParseInt(value); err == nil {
			return n, nil
		}
		return strconv.ParseFloat(string(value), 64)
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Array:
		return jsonArray(value)
	case jsonparser.Object:
		return jsonObject(value)
	}
	return nil, errors.Newf("unsupported JSON value %q", value)
}

func onlySpace(b []byte) bool {
	return len(bytes.TrimSpace(b)) == 0
}
