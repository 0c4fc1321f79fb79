package scoring_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/batch-score/scoring"
)

var _ = Describe("Validation", func() {
	Describe("ValidateContent", func() {
		var opts scoring.ValidationOptions

		BeforeEach(func() {
			opts = scoring.DefaultValidationOptions()
		})

		It("should accept normal content", func() {
			result := scoring.ValidateContent("A reasonable sentence.", opts)
			Expect(result.Valid).To(BeTrue())
			Expect(result.Issues).To(BeEmpty())
			Expect(result.Err).ToNot(HaveOccurred())
		})

		It("should reject empty content unless allowed", func() {
			result := scoring.ValidateContent("", opts)
			Expect(result.Valid).To(BeFalse())
			Expect(result.Err).To(MatchError(scoring.ErrContentTooShort))

			opts.AllowEmpty = true
			Expect(scoring.ValidateContent("", opts).Valid).To(BeTrue())
		})

		It("should reject whitespace-only content", func() {
			result := scoring.ValidateContent(" \t\n ", opts)
			Expect(result.Valid).To(BeFalse())
			Expect(result.Err).To(MatchError(scoring.ErrContentWhitespace))
		})

		It("should reject content over the maximum length", func() {
			opts.MaxLength = 10
			result := scoring.ValidateContent(strings.Repeat("x", 11), opts)
			Expect(result.Valid).To(BeFalse())
			Expect(result.Err).To(MatchError(scoring.ErrContentTooLong))
			Expect(result.Suggestions).To(HaveLen(1))
		})

		It("should measure length after trimming", func() {
			opts.MinLength = 3
			Expect(scoring.ValidateContent("  ab  ", opts).Valid).To(BeFalse())

			opts.TrimWhitespace = false
			Expect(scoring.ValidateContent("  ab  ", opts).Valid).To(BeTrue())
		})
	})

	Describe("SanitizeContent", func() {
		It("should collapse spaces, keep newlines and drop control characters", func() {
			Expect(scoring.SanitizeContent("  hello    world\x00\nnext\tline  ")).
				To(Equal("hello world\nnext\tline"))
		})
	})

	Describe("ContentModifier", func() {
		It("should sanitize the field in place", func() {
			out, err := scoring.NewContentModifier("text").Modify(map[string]any{"text": "  too   many spaces "})
			Expect(err).ToNot(HaveOccurred())
			Expect(out["text"]).To(Equal("too many spaces"))
		})

		It("should reject missing, non-string and invalid fields", func() {
			m := scoring.NewContentModifier("text")

			_, err := m.Modify(map[string]any{})
			Expect(scoring.IsContentError(err)).To(BeTrue())

			_, err = m.Modify(map[string]any{"text": 42.0})
			var modErr *scoring.RequestModificationError
			Expect(errors.As(err, &modErr)).To(BeTrue())
			Expect(modErr.Reason).To(ContainSubstring("float64"))

			_, err = m.Modify(map[string]any{"text": "   "})
			Expect(errors.As(err, &modErr)).To(BeTrue())
			Expect(scoring.IsContentError(err)).To(BeTrue())
		})

		It("should allow a missing field when empty content is allowed", func() {
			m := scoring.NewContentModifier("text")
			m.Options.AllowEmpty = true

			out, err := m.Modify(map[string]any{"other": 1.0})
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(HaveKey("other"))
		})
	})
})
