package scoring_test

import (
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/batch-score/scoring"
)

func successResult(payload string, index int, mbc *scoring.MiniBatchContext, body any) *scoring.ScoringResult {
	req, err := scoring.NewScoringRequest(payload, index, mbc, nil, nil)
	Expect(err).ToNot(HaveOccurred())

	var echo any
	if json.Unmarshal([]byte(payload), &echo) != nil {
		echo = payload
	}

	start := time.UnixMilli(1_700_000_000_000)
	return &scoring.ScoringResult{
		Status:        scoring.StatusSuccess,
		Request:       req,
		StartTime:     start,
		EndTime:       start.Add(250 * time.Millisecond),
		StatusCode:    200,
		ResponseBody:  body,
		NumRetries:    1,
		OutputPayload: echo,
	}
}

func decodeLine(line string) map[string]any {
	var m map[string]any
	Expect(json.Unmarshal([]byte(line), &m)).To(Succeed())
	return m
}

var _ = Describe("OutputFormatter", func() {
	Describe("NewOutputFormatter", func() {
		It("should select the formatter by schema version", func() {
			Expect(scoring.NewOutputFormatter(1, quietLogger())).To(BeAssignableToTypeOf(scoring.V1OutputFormatter{}))
			Expect(scoring.NewOutputFormatter(2, quietLogger())).To(BeAssignableToTypeOf(scoring.V2OutputFormatter{}))
		})

		It("should fall back to the current formatter for unknown versions", func() {
			Expect(scoring.NewOutputFormatter(7, quietLogger())).To(BeAssignableToTypeOf(scoring.V2OutputFormatter{}))
			Expect(scoring.NewOutputFormatter(0, nil)).To(BeAssignableToTypeOf(scoring.V2OutputFormatter{}))
		})
	})

	Describe("V2OutputFormatter", func() {
		It("should emit one line per result in input order", func() {
			mbc := scoring.NewMiniBatchContext(5, 3)
			results := []*scoring.ScoringResult{
				successResult(`"a"`, 0, mbc, map[string]any{"score": 1.0}),
				successResult(`"b"`, 1, mbc, map[string]any{"score": 2.0}),
				successResult(`"c"`, 2, mbc, map[string]any{"score": 3.0}),
			}

			lines, err := scoring.V2OutputFormatter{}.FormatOutput(results, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(HaveLen(3))

			for i, want := range []string{"a", "b", "c"} {
				line := decodeLine(lines[i])
				Expect(line["request"]).To(Equal(want))
				Expect(line["status"]).To(Equal("SUCCESS"))
				Expect(line["request_id"]).To(Equal(results[i].Request.InternalID))
				Expect(line["latency"]).To(BeNumerically("==", 250))
				Expect(line["num_retries"]).To(BeNumerically("==", 1))
				Expect(line["mini_batch_id"]).To(Equal(mbc.ID))
				Expect(line["mini_batch_index"]).To(BeNumerically("==", 5))
				Expect(line).ToNot(HaveKey("error"))
			}
		})

		It("should include the error for failures", func() {
			req, _ := scoring.NewScoringRequest(`{"text":"bad"}`, 0, nil, nil, nil)
			failed := scoring.NewFailedResult(req, errors.New("rejected"))

			lines, err := scoring.V2OutputFormatter{}.FormatOutput([]*scoring.ScoringResult{failed}, 1)
			Expect(err).ToNot(HaveOccurred())

			line := decodeLine(lines[0])
			Expect(line["status"]).To(Equal("FAILURE"))
			Expect(line["error"]).To(Equal("rejected"))
			Expect(line["request"]).To(Equal(map[string]any{"text": "bad"}))
			Expect(line).ToNot(HaveKey("mini_batch_id"))
		})

		It("should emit nothing for no results", func() {
			lines, err := scoring.V2OutputFormatter{}.FormatOutput(nil, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(BeEmpty())
		})
	})

	Describe("V1OutputFormatter", func() {
		It("should merge the request into object responses", func() {
			result := successResult(`{"text":"hi"}`, 0, nil, map[string]any{"score": 0.5})

			lines, err := scoring.V1OutputFormatter{}.FormatOutput([]*scoring.ScoringResult{result}, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(HaveLen(1))
			Expect(lines[0]).To(MatchJSON(`{"score":0.5,"request":{"text":"hi"}}`))
		})

		It("should wrap non-object responses", func() {
			result := successResult(`"a"`, 0, nil, "ok")

			lines, err := scoring.V1OutputFormatter{}.FormatOutput([]*scoring.ScoringResult{result}, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines[0]).To(MatchJSON(`{"request":"a","response":"ok"}`))
		})

		It("should render failures with status and error", func() {
			req, _ := scoring.NewScoringRequest(`"bad"`, 0, nil, nil, nil)
			failed := scoring.NewFailedResult(req, errors.New("rejected"))

			lines, err := scoring.V1OutputFormatter{}.FormatOutput([]*scoring.ScoringResult{failed}, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines[0]).To(MatchJSON(`{"status":"FAILURE","request":"bad","response":null,"error":"rejected"}`))
		})
	})

	Context("with more than one payload per request", func() {
		It("should split batched requests into one line per input", func() {
			body := map[string]any{
				"object": "list",
				"data": []any{
					map[string]any{"index": 0.0, "embedding": []any{0.1}},
					map[string]any{"index": 1.0, "embedding": []any{0.2}},
				},
			}
			result := successResult(`{"model":"m","input":["x","y"]}`, 0, nil, body)

			lines, err := scoring.V2OutputFormatter{}.FormatOutput([]*scoring.ScoringResult{result}, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(HaveLen(2))

			first := decodeLine(lines[0])
			second := decodeLine(lines[1])
			Expect(first["request"]).To(Equal(map[string]any{"model": "m", "input": "x"}))
			Expect(second["request"]).To(Equal(map[string]any{"model": "m", "input": "y"}))

			secondData := second["response"].(map[string]any)["data"].([]any)
			Expect(secondData).To(HaveLen(1))
			Expect(secondData[0]).To(Equal(map[string]any{"index": 0.0, "embedding": []any{0.2}}))
		})

		It("should leave requests without an input list intact", func() {
			result := successResult(`{"text":"hi"}`, 0, nil, map[string]any{"score": 1.0})

			lines, err := scoring.V2OutputFormatter{}.FormatOutput([]*scoring.ScoringResult{result}, 4)
			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(HaveLen(1))
		})
	})
})
