package scoring_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/batch-score/scoring"
)

var _ = Describe("JSONPath modifiers", func() {
	It("should reject malformed expressions", func() {
		_, err := scoring.NewRedactModifier("$.messages[")
		Expect(err).To(MatchError(ContainSubstring("invalid JSONPath")))

		_, err = scoring.NewRemoveModifier("$.messages[")
		Expect(err).To(HaveOccurred())
	})

	Describe("RedactModifier", func() {
		It("should redact every matched value", func() {
			m, err := scoring.NewRedactModifier("$.messages[*].content", "$.user")
			Expect(err).ToNot(HaveOccurred())

			out, err := scoring.NewInputTransformer(m).Apply(
				`{"user":"alice","messages":[{"role":"user","content":"one"},{"role":"user","content":"two"}]}`)

			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(MatchJSON(`{"user":"<redacted>","messages":[{"role":"user","content":"<redacted>"},{"role":"user","content":"<redacted>"}]}`))
		})

		It("should leave payloads without matches untouched", func() {
			m, err := scoring.NewRedactModifier("$.secret")
			Expect(err).ToNot(HaveOccurred())

			out, err := m.Modify(map[string]any{"text": "hi"})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(map[string]any{"text": "hi"}))
		})
	})

	Describe("RemoveModifier", func() {
		It("should delete matched values", func() {
			m, err := scoring.NewRemoveModifier("$.metadata", "$.messages[*].name")
			Expect(err).ToNot(HaveOccurred())

			out, err := scoring.NewInputTransformer(m).Apply(
				`{"metadata":{"id":1},"messages":[{"role":"user","name":"n","content":"c"}]}`)

			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(MatchJSON(`{"messages":[{"role":"user","content":"c"}]}`))
		})
	})
})
