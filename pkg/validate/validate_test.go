package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidIdentifier(t *testing.T) {
	v := New()

	valid := []string{"1", "12345678", "98765432", "12345678901234567890"}
	for _, id := range valid {
		assert.True(t, v.ValidIdentifier(id), "expected %q to be valid", id)
	}

	invalid := []string{
		"",
		"123456789012345678901", // 21 digits
		"12a45678",
		"-1234567",
		"1234 5678",
		"١٢٣٤",
	}
	for _, id := range invalid {
		assert.False(t, v.ValidIdentifier(id), "expected %q to be invalid", id)
	}
}

func TestExtractIdentifier(t *testing.T) {
	v := New()

	cases := map[string]string{
		"https://pubmed.ncbi.nlm.nih.gov/12345678":        "12345678",
		"https://pubmed.ncbi.nlm.nih.gov/12345678/":       "12345678",
		"https://pubmed.ncbi.nlm.nih.gov/pubmed/98765432": "98765432",
		"https://www.ncbi.nlm.nih.gov/pubmed/11111111":    "11111111",
		"https://example.org/article?pmid=22222222":       "22222222",
	}
	for url, want := range cases {
		got, ok := v.ExtractIdentifier(url)
		assert.True(t, ok, "expected to extract from %q", url)
		assert.Equal(t, want, got)
	}

	_, ok := v.ExtractIdentifier("https://example.org/not-a-pubmed-url")
	assert.False(t, ok)
	assert.False(t, v.ValidSourceURL("https://example.org/12345678"))
}

func TestRejectsUnsafe(t *testing.T) {
	v := New()

	unsafe := []string{
		"12345678' OR '1'='1",
		"1; DROP TABLE proofs",
		"<script>alert(1)</script>",
		"onerror=alert(1)",
		"UNION SELECT * FROM users",
	}
	for _, s := range unsafe {
		assert.True(t, v.RejectsUnsafe(s), "expected %q to be rejected", s)
	}

	safe := []string{
		"12345678",
		"The study found a 20% reduction in mortality.",
		"Patients were randomized; outcomes were measured at 12 weeks.",
	}
	for _, s := range safe {
		assert.False(t, v.RejectsUnsafe(s), "expected %q to pass", s)
	}
}

func TestRejectsUnsafeCustomMarkers(t *testing.T) {
	v := New("forbidden")
	assert.True(t, v.RejectsUnsafe("this is FORBIDDEN text"))
	assert.False(t, v.RejectsUnsafe("drop table users"))
}

func TestSanitize(t *testing.T) {
	v := New()

	assert.Equal(t, "plain text", v.Sanitize("  plain text  "))
	assert.Equal(t, "bold and more", v.Sanitize("<b>bold</b> and <i>more</i>"))
	assert.Equal(t, "ab", v.Sanitize("a\x00\x07b"))
	assert.Equal(t, "line one\nline two", v.Sanitize("line one\nline two"))
}
