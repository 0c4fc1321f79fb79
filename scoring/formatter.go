package scoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
)

// OutputFormatter renders scoring results as JSON lines in a versioned schema.
// Formatters never reorder or drop results.
type OutputFormatter interface {
	FormatOutput(results []*ScoringResult, batchSizePerRequest int) ([]string, error)
}

// NewOutputFormatter selects the formatter for a schema version. Version 1
// selects the legacy formatter; every other version selects the current one.
func NewOutputFormatter(version int, logger *slog.Logger) OutputFormatter {
	if logger == nil {
		logger = slog.Default()
	}

	switch version {
	case SchemaVersionV1:
		return V1OutputFormatter{}
	case SchemaVersionV2:
		return V2OutputFormatter{}
	default:
		logger.Warn("Unrecognized input schema version, using current output formatter",
			"input_schema_version", version,
			"formatter_version", SchemaVersionV2)
		return V2OutputFormatter{}
	}
}

// V1OutputFormatter renders the legacy schema: the response body with the
// request echoed under "request"
type V1OutputFormatter struct{}

// FormatOutput implements OutputFormatter
func (V1OutputFormatter) FormatOutput(results []*ScoringResult, batchSizePerRequest int) ([]string, error) {
	items := unbatchResults(results, batchSizePerRequest)
	lines := make([]string, 0, len(items))

	for _, item := range items {
		var line any
		body, isObject := item.response.(map[string]any)

		switch {
		case item.result.Failed():
			failure := map[string]any{
				"status":   StatusFailure,
				"request":  item.request,
				"response": item.response,
			}
			if item.result.Err != nil {
				failure["error"] = item.result.Err.Error()
			}
			line = failure
		case isObject:
			merged := maps.Clone(body)
			merged["request"] = item.request
			line = merged
		default:
			line = map[string]any{
				"request":  item.request,
				"response": item.response,
			}
		}

		encoded, err := json.Marshal(line)
		if err != nil {
			return nil, fmt.Errorf("failed to encode v1 output for request %s: %w", item.result.Request.InternalID, err)
		}
		lines = append(lines, string(encoded))
	}

	return lines, nil
}

// V2OutputFormatter renders the current schema with status, timing and
// mini-batch correlation fields
type V2OutputFormatter struct{}

type v2Line struct {
	RequestID      string       `json:"request_id"`
	Status         ResultStatus `json:"status"`
	Request        any          `json:"request"`
	Response       any          `json:"response"`
	Error          string       `json:"error,omitempty"`
	Start          int64        `json:"start"`
	End            int64        `json:"end"`
	Latency        int64        `json:"latency"`
	NumRetries     int          `json:"num_retries"`
	MiniBatchID    string       `json:"mini_batch_id,omitempty"`
	MiniBatchIndex *int         `json:"mini_batch_index,omitempty"`
}

// FormatOutput implements OutputFormatter
func (V2OutputFormatter) FormatOutput(results []*ScoringResult, batchSizePerRequest int) ([]string, error) {
	items := unbatchResults(results, batchSizePerRequest)
	lines := make([]string, 0, len(items))

	for _, item := range items {
		r := item.result
		line := v2Line{
			RequestID:  r.Request.InternalID,
			Status:     r.Status,
			Request:    item.request,
			Response:   item.response,
			Start:      r.StartTime.UnixMilli(),
			End:        r.EndTime.UnixMilli(),
			Latency:    r.Latency().Milliseconds(),
			NumRetries: r.NumRetries,
		}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		if mbc := r.Request.MiniBatchContext; mbc != nil {
			idx := mbc.Index
			line.MiniBatchID = mbc.ID
			line.MiniBatchIndex = &idx
		}

		encoded, err := json.Marshal(line)
		if err != nil {
			return nil, fmt.Errorf("failed to encode v2 output for request %s: %w", r.Request.InternalID, err)
		}
		lines = append(lines, string(encoded))
	}

	return lines, nil
}

// outputItem pairs one rendered request echo with its response
type outputItem struct {
	result   *ScoringResult
	request  any
	response any
}

// unbatchResults expands results into output items. With a batch size above
// one, a request carrying an "input" array yields one item per element,
// paired with the matching entry of the response "data" array.
func unbatchResults(results []*ScoringResult, batchSizePerRequest int) []outputItem {
	items := make([]outputItem, 0, len(results))

	for _, r := range results {
		if batchSizePerRequest <= 1 {
			items = append(items, outputItem{result: r, request: r.OutputPayload, response: r.ResponseBody})
			continue
		}

		request, ok := r.OutputPayload.(map[string]any)
		inputs, isList := request["input"].([]any)
		if !ok || !isList || len(inputs) == 0 {
			items = append(items, outputItem{result: r, request: r.OutputPayload, response: r.ResponseBody})
			continue
		}

		for i, input := range inputs {
			single := maps.Clone(request)
			single["input"] = input
			items = append(items, outputItem{
				result:   r,
				request:  single,
				response: splitResponse(r.ResponseBody, i),
			})
		}
	}

	return items
}

// splitResponse returns a copy of body whose "data" array only holds the
// entry for input i, re-indexed to 0
func splitResponse(body any, i int) any {
	response, ok := body.(map[string]any)
	if !ok {
		return body
	}
	data, ok := response["data"].([]any)
	if !ok {
		return body
	}

	var entry any
	for _, d := range data {
		obj, isObj := d.(map[string]any)
		if !isObj {
			continue
		}
		if idx, isNum := obj["index"].(float64); isNum && int(idx) == i {
			entry = d
			break
		}
	}
	if entry == nil && i < len(data) {
		entry = data[i]
	}

	if obj, isObj := entry.(map[string]any); isObj {
		obj = maps.Clone(obj)
		obj["index"] = 0
		entry = obj
	}

	single := maps.Clone(response)
	if entry == nil {
		single["data"] = []any{}
	} else {
		single["data"] = []any{entry}
	}
	return single
}
