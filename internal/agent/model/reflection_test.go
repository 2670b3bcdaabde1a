package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSatisfaction(t *testing.T) {
	assert.True(t, ContainsSatisfaction("Phản hồi này đã đạt yêu cầu."))
	assert.True(t, ContainsSatisfaction("The answer is GOOD ENOUGH"))
	assert.False(t, ContainsSatisfaction("Missing the closing price"))

	assert.True(t, ContainsSatisfaction("good enough"))
	assert.False(t, ContainsSatisfaction("The answer is not good enough: Q2 profit figures are missing"))
	assert.False(t, ContainsSatisfaction("Good enough overall, but the Q2 profit is missing"))
	assert.False(t, ContainsSatisfaction("Câu trả lời không đã đạt yêu cầu"))

	accepted := Reflection{Missing: "Good enough."}
	assert.True(t, accepted.Satisfied())

	negated := Reflection{
		Missing:       "The answer is not good enough: Q2 profit figures are missing",
		SearchQueries: []string{"VCB Q2 2024 profit"},
		Raw:           `{"missing":"The answer is not good enough: Q2 profit figures are missing"}`,
	}
	assert.False(t, negated.Satisfied())

	withQueries := Reflection{Missing: "good enough", SearchQueries: []string{"VCB news"}}
	assert.False(t, withQueries.Satisfied())

	rawOnly := Reflection{Missing: "dates", Raw: `{"missing":"dates","note":"good enough"}`}
	assert.False(t, rawOnly.Satisfied())
}

func TestReflectionText(t *testing.T) {
	r := Reflection{Missing: "dates", SearchQueries: []string{"VCB price", "VCB news"}}
	assert.Equal(t, "Missing: dates\nSuperfluous: none\nFollow-up queries: VCB price; VCB news", r.Text())
}
